package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

// TaskHandler consumes notification:dispatch tasks and hands each
// intent to the configured sink.
type TaskHandler struct {
	sink Sink
}

func NewTaskHandler(sink Sink) *TaskHandler {
	return &TaskHandler{sink: sink}
}

func (h *TaskHandler) HandleDispatch(ctx context.Context, t *asynq.Task) error {
	var intent Intent
	if err := json.Unmarshal(t.Payload(), &intent); err != nil {
		// malformed payloads never succeed on retry
		return fmt.Errorf("decode notification payload: %w: %w", err, asynq.SkipRetry)
	}
	return h.sink.Deliver(ctx, intent)
}

package grace

import (
	"context"

	"github.com/hibiken/asynq"
)

// TaskHandler runs one grace processor pass per license:grace:run task.
type TaskHandler struct {
	processor *Processor
}

func NewTaskHandler(processor *Processor) *TaskHandler {
	return &TaskHandler{processor: processor}
}

func (h *TaskHandler) HandleGraceRun(ctx context.Context, _ *asynq.Task) error {
	return h.processor.Run(ctx)
}

package scheduler

import (
	"sync"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"statuslicense/pkg/taskname"
)

type recordingEnqueuer struct {
	mu    sync.Mutex
	types []string
}

func (r *recordingEnqueuer) Enqueue(task *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, task.Type())
	return &asynq.TaskInfo{}, nil
}

func TestTickEnqueuesBothPeriodicTasks(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := New(Params{Enqueuer: enq})

	s.tick()

	require.Equal(t, []string{taskname.LicenseValidateRun, taskname.LicenseGraceRun}, enq.types)
}

func TestStartStop(t *testing.T) {
	enq := &recordingEnqueuer{}
	s := New(Params{Enqueuer: enq})

	s.Start()
	s.Stop()

	// the immediate first pass ran before shutdown
	enq.mu.Lock()
	defer enq.mu.Unlock()
	require.GreaterOrEqual(t, len(enq.types), 2)
}

package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"statuslicense/pkg/task"
	"statuslicense/pkg/taskname"
)

const tickInterval = time.Hour

// Scheduler is the periodic trigger for the validation sweep and the
// grace processor pass. It only enqueues; the worker does the work.
// Unique options keep a slow worker from piling up duplicate runs.
type Scheduler struct {
	enqueuer task.Enqueuer
	stop     chan struct{}
	done     chan struct{}
}

type Params struct {
	fx.In

	Enqueuer task.Enqueuer
}

func New(p Params) *Scheduler {
	return &Scheduler{
		enqueuer: p.Enqueuer,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	go s.loop()
}

func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) loop() {
	defer close(s.done)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	// first pass immediately so a restart never delays a due downgrade
	s.tick()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stop:
			return
		}
	}
}

func (s *Scheduler) tick() {
	for _, name := range []string{taskname.LicenseValidateRun, taskname.LicenseGraceRun} {
		_, err := s.enqueuer.Enqueue(
			asynq.NewTask(name, nil),
			asynq.Queue("critical"),
			asynq.Unique(tickInterval),
		)
		if err != nil {
			if errors.Is(err, asynq.ErrDuplicateTask) {
				zap.L().Debug("periodic task already pending", zap.String("task", name))
				continue
			}
			zap.L().Error("failed to enqueue periodic task",
				zap.String("task", name),
				zap.Error(err),
			)
			continue
		}
		zap.L().Debug("periodic task enqueued", zap.String("task", name))
	}
}

var Module = fx.Module("scheduler.module",
	fx.Provide(New),
	fx.Invoke(func(lc fx.Lifecycle, s *Scheduler) {
		lc.Append(fx.Hook{
			OnStart: func(_ context.Context) error {
				s.Start()
				return nil
			},
			OnStop: func(_ context.Context) error {
				s.Stop()
				return nil
			},
		})
	}),
)

package schedule

import (
	"context"
	"time"

	"rpa-orchestrator/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler drives Evaluate on a fixed interval for the lifetime of the
// process.
type Scheduler struct {
	svc      *Service
	interval time.Duration

	stop chan struct{}
	done chan struct{}
}

func NewScheduler(svc *Service, cfg *config.Config) *Scheduler {
	interval := cfg.Orchestrator.SchedulerInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Scheduler{
		svc:      svc,
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (s *Scheduler) run() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.interval)
			if _, err := s.svc.Evaluate(ctx, time.Now().UTC()); err != nil {
				zap.L().Error("scheduler tick failed", zap.Error(err))
			}
			cancel()
		}
	}
}

func registerScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go s.run()
			zap.L().Info("scheduler started", zap.Duration("interval", s.interval))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			close(s.stop)
			select {
			case <-s.done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

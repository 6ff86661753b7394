package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/sap-ticketing/internal/config"
	"github.com/spec-kit/sap-ticketing/internal/pipeline"
)

// Scheduler runs the email pipeline on a fixed interval until stopped.
type Scheduler struct {
	processor *pipeline.Processor
	interval  time.Duration
	logger    *zap.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewScheduler builds a scheduler from config.
func NewScheduler(processor *pipeline.Processor, cfg config.SchedulerConfig, logger *zap.Logger) *Scheduler {
	minutes := cfg.IntervalMinutes
	if minutes <= 0 {
		minutes = 2
	}
	return &Scheduler{
		processor: processor,
		interval:  time.Duration(minutes) * time.Minute,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start launches the background loop. The first run happens after one full
// interval.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
	s.logger.Info("pipeline scheduler started", zap.Duration("interval", s.interval))
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.runOnce(ctx)
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	stats, err := s.processor.Run(ctx, pipeline.RunOptions{FetchFirst: true})
	if err != nil {
		if errors.Is(err, pipeline.ErrRunInProgress) {
			s.logger.Warn("scheduled run skipped, previous run still active")
			return
		}
		s.logger.Error("scheduled pipeline run failed", zap.Error(err))
		return
	}
	s.logger.Debug("scheduled pipeline run finished",
		zap.Int("analyzed", stats.Analyzed),
		zap.Int("tickets_created", stats.TicketsCreated),
	)
}

// Stop shuts the loop down and waits for it to exit.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
}

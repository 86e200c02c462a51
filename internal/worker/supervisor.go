package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Task is a periodic background job. Runs of one task never overlap.
type Task struct {
	Name     string
	Interval time.Duration
	// Immediate runs the task once before the first tick.
	Immediate bool
	Run       func(ctx context.Context) error
}

// Supervisor runs periodic tasks until its context is cancelled, then waits
// for in-flight runs for at most the grace period before abandoning them.
type Supervisor struct {
	tasks []Task
	grace time.Duration
	log   zerolog.Logger
}

// NewSupervisor creates a supervisor for tasks
func NewSupervisor(grace time.Duration, log zerolog.Logger, tasks ...Task) *Supervisor {
	return &Supervisor{
		tasks: tasks,
		grace: grace,
		log:   log.With().Str("component", "supervisor").Logger(),
	}
}

// Run blocks until ctx is cancelled. Cancelling ctx stops scheduling new
// runs; a run in progress keeps its own context until the grace period
// ends, after which it is cancelled and ErrShutdownTimeout is returned.
func (s *Supervisor) Run(ctx context.Context) error {
	for _, task := range s.tasks {
		if task.Interval <= 0 {
			return fmt.Errorf("task %s: interval must be positive", task.Name)
		}
	}

	work, abort := context.WithCancel(context.WithoutCancel(ctx))
	defer abort()

	var g errgroup.Group
	for _, task := range s.tasks {
		g.Go(func() error {
			s.loop(ctx, work, task)
			return nil
		})
	}
	s.log.Info().Int("tasks", len(s.tasks)).Msg("background tasks started")

	<-ctx.Done()

	done := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.grace)
	defer timer.Stop()

	select {
	case <-done:
		s.log.Info().Msg("background tasks stopped")
		return nil
	case <-timer.C:
		abort()
		s.log.Warn().Dur("grace", s.grace).Msg("abandoning in-flight background tasks")
		return ErrShutdownTimeout
	}
}

func (s *Supervisor) loop(stop, work context.Context, task Task) {
	logger := s.log.With().Str("task", task.Name).Logger()

	if task.Immediate {
		s.runOnce(work, task, logger)
	}

	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop.Done():
			return
		case <-ticker.C:
			if stop.Err() != nil {
				return
			}
			s.runOnce(work, task, logger)
		}
	}
}

func (s *Supervisor) runOnce(ctx context.Context, task Task, logger zerolog.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("background task panicked")
		}
	}()

	start := time.Now()
	if err := task.Run(ctx); err != nil {
		logger.Error().Err(err).Msg("background task failed")
		return
	}
	logger.Debug().Dur("took", time.Since(start)).Msg("background task finished")
}

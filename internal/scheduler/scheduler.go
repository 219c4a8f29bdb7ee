// Package scheduler drives the retry queue sweep on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// Sweeper processes all due retry tasks once.
type Sweeper interface {
	ProcessDue(ctx context.Context) error
}

// Scheduler runs the sweeper at every cron occurrence and on demand.
type Scheduler struct {
	schedule cron.Schedule
	spec     string
	sweeper  Sweeper
	clock    func() time.Time
	runNow   chan struct{}
}

// New creates a scheduler from a five-field cron expression.
func New(expression string, sweeper Sweeper) (*Scheduler, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse retry schedule %q: %w", expression, err)
	}
	return &Scheduler{
		schedule: schedule,
		spec:     expression,
		sweeper:  sweeper,
		clock:    time.Now,
		runNow:   make(chan struct{}, 1),
	}, nil
}

// WithClock overrides the time source, for tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// RunNow requests an immediate sweep. Non-blocking; a request while one is
// already pending collapses into it.
func (s *Scheduler) RunNow() {
	select {
	case s.runNow <- struct{}{}:
	default:
	}
}

// Run sweeps until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	log.Printf("scheduler: started, schedule=%q", s.spec)

	for {
		now := s.clock()
		next := s.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-s.runNow:
			timer.Stop()
			s.sweep(ctx)
		case <-timer.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	start := s.clock()
	if err := s.sweeper.ProcessDue(ctx); err != nil {
		log.Printf("scheduler: sweep failed: %v", err)
		return
	}
	log.Printf("scheduler: sweep completed in %s", s.clock().Sub(start).Round(time.Millisecond))
}

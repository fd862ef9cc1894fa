package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/netresearch/go-cron"
)

// Default eviction policy: ended sessions linger for 30 minutes and the
// sweep runs every 5 minutes.
const (
	DefaultGracePeriod = 30 * time.Minute
	DefaultSweepSpec   = "*/5 * * * *"
)

// Sweeper periodically evicts ended sessions that outlived the grace
// period. Durable state stays in storage; only the live actor goes away.
type Sweeper struct {
	reg      *Registry
	grace    time.Duration
	schedule cron.Schedule
	now      func() time.Time
	stop     chan struct{}
	done     chan struct{}
}

// NewSweeper parses spec as a standard 5-field cron expression.
func NewSweeper(reg *Registry, grace time.Duration, spec string) (*Sweeper, error) {
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	if spec == "" {
		spec = DefaultSweepSpec
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("parse sweep schedule %q: %w", spec, err)
	}
	return &Sweeper{
		reg:      reg,
		grace:    grace,
		schedule: schedule,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}, nil
}

// Start launches the sweep loop.
func (s *Sweeper) Start() {
	go s.run()
	slog.Info("session sweeper started", "grace", s.grace)
}

// Stop halts the loop and waits for it.
func (s *Sweeper) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Sweeper) run() {
	defer close(s.done)
	for {
		next := s.schedule.Next(s.now())
		timer := time.NewTimer(next.Sub(s.now()))
		select {
		case <-s.stop:
			timer.Stop()
			return
		case <-timer.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			s.reg.SweepEnded(ctx, s.grace, s.now())
			cancel()
		}
	}
}

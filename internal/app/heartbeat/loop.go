// Package heartbeat runs the periodic participant check-in.
package heartbeat

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// Loop calls tick every interval while started. Ticks never overlap.
type Loop struct {
	sched    gocron.Scheduler
	interval time.Duration
	tick     func()

	mu  sync.Mutex
	job uuid.UUID
}

func NewLoop(clock clockwork.Clock, interval time.Duration, tick func()) (*Loop, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("heartbeat: interval must be positive, got %s", interval)
	}
	s, err := gocron.NewScheduler(gocron.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("heartbeat scheduler: %w", err)
	}
	s.Start()
	return &Loop{sched: s, interval: interval, tick: tick}, nil
}

// Start schedules the job; calling it while running is a no-op.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.job != uuid.Nil {
		return nil
	}
	j, err := l.sched.NewJob(
		gocron.DurationJob(l.interval),
		gocron.NewTask(l.tick),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName("checkin"),
	)
	if err != nil {
		return fmt.Errorf("heartbeat job: %w", err)
	}
	l.job = j.ID()
	log.Debug().Str("module", "app.heartbeat").Dur("interval", l.interval).Msg("started")
	return nil
}

func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.job == uuid.Nil {
		return
	}
	if err := l.sched.RemoveJob(l.job); err != nil {
		log.Warn().Err(err).Str("module", "app.heartbeat").Msg("remove job")
	}
	l.job = uuid.Nil
	log.Debug().Str("module", "app.heartbeat").Msg("stopped")
}

func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.job != uuid.Nil
}

func (l *Loop) Shutdown() error {
	l.Stop()
	return l.sched.Shutdown()
}

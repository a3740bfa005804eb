package heartbeat

import (
	"sync"
	"time"

	"github.com/dkeye/Barz/internal/domain"
	"github.com/jonboulle/clockwork"
)

// Throttle allows one check-in per participant per interval, whichever source
// sends it.
type Throttle struct {
	mu       sync.Mutex
	clock    clockwork.Clock
	interval time.Duration
	last     map[domain.ParticipantID]time.Time
}

func NewThrottle(clock clockwork.Clock, interval time.Duration) *Throttle {
	return &Throttle{
		clock:    clock,
		interval: interval,
		last:     make(map[domain.ParticipantID]time.Time),
	}
}

// Allow records a check-in for id and reports true when its window is free.
// When it is not, the returned duration is how long until it frees up.
func (t *Throttle) Allow(id domain.ParticipantID) (bool, time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if last, ok := t.last[id]; ok {
		if next := last.Add(t.interval); now.Before(next) {
			return false, next.Sub(now)
		}
	}
	t.last[id] = now
	return true, 0
}

func (t *Throttle) Forget(id domain.ParticipantID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, id)
}

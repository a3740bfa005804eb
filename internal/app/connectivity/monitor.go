// Package connectivity tracks whether the backend is reachable.
package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/dkeye/Barz/internal/core"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

type Prober interface {
	Probe(ctx context.Context) error
}

// TCPProber dials Addr; a completed handshake counts as reachable.
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

func (p TCPProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

type Options struct {
	Clock    clockwork.Clock
	Prober   Prober
	Interval time.Duration
}

// Monitor combines the prober's view with the status reported through Set.
// It is online only while both agree.
type Monitor struct {
	opts Options

	mu        sync.Mutex
	probed    bool
	reported  bool
	online    bool
	listeners map[chan bool]struct{}
}

var _ core.Connectivity = (*Monitor)(nil)

// New starts online; the first failed probe or Set(false) flips it.
func New(opts Options) *Monitor {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Interval <= 0 {
		opts.Interval = 2 * time.Second
	}
	return &Monitor{opts: opts, probed: true, reported: true, online: true, listeners: make(map[chan bool]struct{})}
}

// Run probes every interval until ctx is done. Without a prober it only
// serves Set.
func (m *Monitor) Run(ctx context.Context) error {
	if m.opts.Prober == nil {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := m.opts.Clock.NewTicker(m.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			err := m.opts.Prober.Probe(ctx)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				log.Debug().Err(err).Str("module", "app.connectivity").Msg("probe failed")
			}
			m.mu.Lock()
			m.probed = err == nil
			m.publish()
			m.mu.Unlock()
		}
	}
}

func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Set records the platform reported status. A probe success does not override
// a reported outage.
func (m *Monitor) Set(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reported = online
	m.publish()
}

// publish announces a change of the combined status. Callers hold mu.
func (m *Monitor) publish() {
	online := m.probed && m.reported
	if m.online == online {
		return
	}
	m.online = online
	log.Info().Str("module", "app.connectivity").Bool("online", online).Bool("probed", m.probed).Bool("reported", m.reported).Msg("connectivity changed")
	for ch := range m.listeners {
		// Listeners only care about the latest value.
		select {
		case ch <- online:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- online
		}
	}
}

func (m *Monitor) Subscribe() (<-chan bool, func()) {
	ch := make(chan bool, 1)
	m.mu.Lock()
	m.listeners[ch] = struct{}{}
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, ch)
			close(ch)
			m.mu.Unlock()
		})
	}
}

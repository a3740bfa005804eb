package rtc

import (
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
)

type GateState int32

const (
	GateOpen GateState = iota
	GateMuted
)

type rtpWriter interface {
	WriteRTP(p *rtp.Packet) error
}

// AudioGate sits in front of the local audio track. Packets written while muted
// are dropped; muting survives reconnects because the gate outlives the track.
type AudioGate struct {
	state atomic.Int32

	mu    sync.RWMutex
	track rtpWriter
}

func NewAudioGate() *AudioGate {
	return &AudioGate{}
}

func (g *AudioGate) State() GateState { return GateState(g.state.Load()) }

func (g *AudioGate) Muted() bool { return g.State() == GateMuted }

func (g *AudioGate) Mute() { g.state.Store(int32(GateMuted)) }

func (g *AudioGate) Unmute() { g.state.Store(int32(GateOpen)) }

func (g *AudioGate) Attach(w rtpWriter) {
	g.mu.Lock()
	g.track = w
	g.mu.Unlock()
}

func (g *AudioGate) Detach() { g.Attach(nil) }

// WriteRTP forwards a captured packet unless muted.
func (g *AudioGate) WriteRTP(p *rtp.Packet) error {
	if g.Muted() {
		return nil
	}
	g.mu.RLock()
	w := g.track
	g.mu.RUnlock()
	if w == nil {
		return ErrNotConnected
	}
	return w.WriteRTP(p)
}

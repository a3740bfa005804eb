package apptest

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
)

// VideoCall records imperative operations and lets tests emit provider events.
type VideoCall struct {
	mu        sync.Mutex
	ops       []string
	sent      []domain.StateMachineEvent
	room      string
	connected bool
	muted     bool
	beat      bool
	sendErr   error
	listeners map[chan core.VideoEvent]struct{}
}

var _ core.VideoCall = (*VideoCall)(nil)

func NewVideoCall() *VideoCall {
	return &VideoCall{listeners: make(map[chan core.VideoEvent]struct{})}
}

func (v *VideoCall) op(name string) {
	v.ops = append(v.ops, name)
}

func (v *VideoCall) Connect(_ context.Context, _, room string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.op("connect")
	v.room, v.connected = room, true
	return nil
}

func (v *VideoCall) Disconnect() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.op("disconnect")
	v.connected = false
}

func (v *VideoCall) MuteLocalAudio() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.op("mute")
	v.muted = true
}

func (v *VideoCall) UnmuteLocalAudio() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.op("unmute")
	v.muted = false
}

func (v *VideoCall) LoadBeat(context.Context, string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.op("load_beat")
	return nil
}

func (v *VideoCall) PlayBeat() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.op("play_beat")
	v.beat = true
}

func (v *VideoCall) StopBeat() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.op("stop_beat")
	v.beat = false
}

// FailSend makes SendEvent return err; nil restores delivery.
func (v *VideoCall) FailSend(err error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.sendErr = err
}

func (v *VideoCall) SendEvent(ev domain.StateMachineEvent) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.sendErr != nil {
		return v.sendErr
	}
	v.sent = append(v.sent, ev)
	return nil
}

func (v *VideoCall) StreamOffset() (time.Duration, bool) { return 1500 * time.Millisecond, true }

func (v *VideoCall) LocalTrackIDs() domain.TrackIDs {
	return domain.TrackIDs{Audio: "audio-local", Data: "battle-1"}
}

func (v *VideoCall) Subscribe() (<-chan core.VideoEvent, func()) {
	ch := make(chan core.VideoEvent, 32)
	v.mu.Lock()
	v.listeners[ch] = struct{}{}
	v.mu.Unlock()
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			v.mu.Lock()
			delete(v.listeners, ch)
			close(ch)
			v.mu.Unlock()
		})
	}
}

func (v *VideoCall) Emit(ev core.VideoEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for ch := range v.listeners {
		ch <- ev
	}
}

func (v *VideoCall) Ops() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]string(nil), v.ops...)
}

func (v *VideoCall) Sent() []domain.StateMachineEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]domain.StateMachineEvent(nil), v.sent...)
}

func (v *VideoCall) State() (connected, muted, beat bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected, v.muted, v.beat
}

func (v *VideoCall) Listeners() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.listeners)
}

package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var errPeerFailed = errors.New("peer connection failed")

type CallOptions struct {
	SignalURL         string
	STUN              []string
	ReconnectInterval time.Duration
	Beat              *BeatPlayer
	Dialer            *websocket.Dialer
}

// Call is the video call session: it signals, keeps the peer connection alive
// across failures and exposes the battle data channel.
type Call struct {
	opts CallOptions
	api  *webrtc.API
	gate *AudioGate
	beat *BeatPlayer

	mu           sync.Mutex
	conn         *WebRTCConnection
	cancel       context.CancelFunc
	firstTrackAt time.Time
	streams      map[string]struct{}
	listeners    map[chan core.VideoEvent]struct{}
	wg           conc.WaitGroup
}

var _ core.VideoCall = (*Call)(nil)

func NewCall(opts CallOptions) (*Call, error) {
	api, err := NewAPI()
	if err != nil {
		return nil, err
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if opts.ReconnectInterval <= 0 {
		opts.ReconnectInterval = 2 * time.Second
	}
	if opts.Beat == nil {
		opts.Beat = NewBeatPlayer(BeatOptions{})
	}
	return &Call{
		opts:      opts,
		api:       api,
		gate:      NewAudioGate(),
		beat:      opts.Beat,
		streams:   make(map[string]struct{}),
		listeners: make(map[chan core.VideoEvent]struct{}),
	}, nil
}

// Connect starts the call loop for room. Connection progress arrives as events.
func (c *Call) Connect(ctx context.Context, token, room string) error {
	if room == "" {
		return fmt.Errorf("connect: empty room name")
	}
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return fmt.Errorf("connect: call already active")
	}
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.firstTrackAt = time.Time{}
	c.streams = make(map[string]struct{})
	c.mu.Unlock()

	c.wg.Go(func() { c.loop(ctx, token, room) })
	return nil
}

func (c *Call) loop(ctx context.Context, token, room string) {
	for {
		err := c.attempt(ctx, token, room)
		c.emit(core.VideoEvent{Kind: core.VideoDisconnected, Err: err})
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("module", "webrtc").Str("room", room).Dur("retry_in", c.opts.ReconnectInterval).Msg("call lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.opts.ReconnectInterval):
		}
	}
}

func (c *Call) attempt(ctx context.Context, token, room string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sig, err := dialSignal(ctx, c.opts.Dialer, c.opts.SignalURL, token)
	if err != nil {
		return err
	}
	defer sig.Close()
	stop := context.AfterFunc(ctx, sig.Close)
	defer stop()

	wc, err := NewWebRTCConnection(c.api, DefaultWebRTCConfig(c.opts.STUN), room)
	if err != nil {
		return fmt.Errorf("new peer connection: %w", err)
	}
	defer func() {
		c.mu.Lock()
		if c.conn == wc {
			c.conn = nil
		}
		c.mu.Unlock()
		c.gate.Detach()
		wc.Close()
	}()

	var failed atomic.Bool
	wc.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		if err := sig.sendCandidate(ci); err != nil {
			log.Warn().Err(err).Str("module", "webrtc").Msg("send candidate")
		}
	})
	wc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.onRemoteTrack(track.StreamID(), track.ID(), track.Kind().String())
		go drainTrack(track)
	})
	wc.OnData(c.onData)
	wc.OnDataOpen(func() { c.emit(core.VideoEvent{Kind: core.VideoConnected}) })
	wc.OnState(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			failed.Store(true)
			cancel()
		}
	})
	if err := wc.Start(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	c.conn = wc
	c.mu.Unlock()
	c.gate.Attach(wc.AudioTrack())

	if err := sig.send(signalMessage{Type: "join", Room: room, Token: token}); err != nil {
		return fmt.Errorf("join: %w", err)
	}
	offer, err := wc.CreateAndSetOffer()
	if err != nil {
		return fmt.Errorf("offer: %w", err)
	}
	if err := sig.send(signalMessage{Type: "offer", SDP: offer.SDP}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	for {
		msg, err := sig.read()
		if err != nil {
			if failed.Load() {
				return errPeerFailed
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("signal read: %w", err)
		}
		switch msg.Type {
		case "answer":
			if err := wc.ApplyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: msg.SDP}); err != nil {
				return fmt.Errorf("apply answer: %w", err)
			}
		case "candidate":
			if err := wc.AddICECandidate(candidateInit(msg)); err != nil {
				log.Error().Err(err).Str("module", "webrtc").Msg("add ice candidate")
			}
		case "ping":
			_ = sig.send(signalMessage{Type: "pong"})
		case "error":
			return fmt.Errorf("signal error: %s", msg.Error)
		default:
			log.Debug().Str("module", "webrtc").Str("type", msg.Type).Msg("unhandled signal")
		}
	}
}

func drainTrack(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			return
		}
	}
}

func (c *Call) onRemoteTrack(streamID, trackID, kind string) {
	c.mu.Lock()
	if c.firstTrackAt.IsZero() {
		c.firstTrackAt = time.Now()
	}
	_, known := c.streams[streamID]
	c.streams[streamID] = struct{}{}
	c.mu.Unlock()

	if !known {
		c.emit(core.VideoEvent{Kind: core.VideoParticipantJoined, TrackID: streamID})
	}
	c.emit(core.VideoEvent{Kind: core.VideoTrackAdded, TrackID: trackID, Media: kind})
}

func (c *Call) onData(b []byte) {
	var ev domain.StateMachineEvent
	if err := json.Unmarshal(b, &ev); err != nil || ev.UUID == "" {
		log.Warn().Err(err).Str("module", "webrtc").Msg("bad data channel message")
		return
	}
	c.emit(core.VideoEvent{Kind: core.VideoDataMessage, Event: &ev})
}

func (c *Call) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	c.wg.Wait()
	c.beat.Stop()
	log.Info().Str("module", "webrtc").Msg("call disconnected")
}

func (c *Call) MuteLocalAudio()   { c.gate.Mute() }
func (c *Call) UnmuteLocalAudio() { c.gate.Unmute() }

// WriteAudioRTP feeds a captured local audio packet into the call.
func (c *Call) WriteAudioRTP(p *rtp.Packet) error { return c.gate.WriteRTP(p) }

func (c *Call) LocalAudioMuted() bool { return c.gate.Muted() }

func (c *Call) LoadBeat(ctx context.Context, url string) error { return c.beat.Load(ctx, url) }
func (c *Call) PlayBeat()                                      { c.beat.Play() }
func (c *Call) StopBeat()                                      { c.beat.Stop() }

func (c *Call) SendEvent(ev domain.StateMachineEvent) error {
	c.mu.Lock()
	wc := c.conn
	c.mu.Unlock()
	if wc == nil {
		return ErrNotConnected
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return wc.SendData(b)
}

func (c *Call) StreamOffset() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.firstTrackAt.IsZero() {
		return 0, false
	}
	return time.Since(c.firstTrackAt), true
}

func (c *Call) LocalTrackIDs() domain.TrackIDs {
	c.mu.Lock()
	wc := c.conn
	c.mu.Unlock()
	if wc == nil {
		return domain.TrackIDs{}
	}
	audio, data := wc.TrackIDs()
	return domain.TrackIDs{Audio: audio, Data: data}
}

func (c *Call) Subscribe() (<-chan core.VideoEvent, func()) {
	ch := make(chan core.VideoEvent, 32)
	c.mu.Lock()
	c.listeners[ch] = struct{}{}
	c.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, ch)
			close(ch)
			c.mu.Unlock()
		})
	}
}

func (c *Call) emit(ev core.VideoEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for ch := range c.listeners {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("module", "webrtc").Str("event", ev.Kind.String()).Msg("listener full, dropped")
		}
	}
}

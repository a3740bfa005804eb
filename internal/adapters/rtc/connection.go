package rtc

import (
	"context"
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

const dataChannelLabel = "battle"

type WebRTCConnection struct {
	pc    *webrtc.PeerConnection
	room  string
	dc    *webrtc.DataChannel
	audio *webrtc.TrackLocalStaticRTP

	cancel context.CancelFunc

	onICE   func(webrtc.ICECandidateInit)
	onTrack func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onData  func([]byte)
	onOpen  func()
	onState func(webrtc.PeerConnectionState)
}

func DefaultWebRTCConfig(stun []string) webrtc.Configuration {
	if len(stun) == 0 {
		stun = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{
			{
				URLs: stun,
			},
		},
	}
}

// NewAPI builds a pion API with the default codecs and interceptors (NACK, RTCP reports).
func NewAPI() (*webrtc.API, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	return webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(i)), nil
}

// NewWebRTCConnection prepares the offering side of a battle call: one local Opus
// track, a receive-only video transceiver and the battle data channel.
func NewWebRTCConnection(api *webrtc.API, cfg webrtc.Configuration, room string) (*WebRTCConnection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{pc: pc, room: room}

	c.audio, err = webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", "barz-"+room,
	)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	sender, err := pc.AddTrack(c.audio)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	go drainRTCP(sender)

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		_ = pc.Close()
		return nil, err
	}

	c.dc, err = pc.CreateDataChannel(dataChannelLabel, nil)
	if err != nil {
		_ = pc.Close()
		return nil, err
	}
	return c, nil
}

// drainRTCP reads incoming RTCP so interceptors keep working.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}

func (c *WebRTCConnection) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("room", c.room).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("room", c.room).Str("peer_connection_state", s.String()).Msg("Peer state")
		if c.onState != nil {
			c.onState(s)
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.onICE != nil {
			c.onICE(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("room", c.room).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if c.onTrack != nil {
			c.onTrack(track, receiver)
		}
	})

	c.dc.OnOpen(func() {
		log.Info().Str("module", "webrtc").Str("room", c.room).Msg("data channel open")
		if c.onOpen != nil {
			c.onOpen()
		}
	})
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if c.onData != nil && ctx.Err() == nil {
			c.onData(msg.Data)
		}
	})

	return nil
}

func (c *WebRTCConnection) CreateAndSetOffer() (*webrtc.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) ApplyAnswer(answer webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(answer)
}

func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// SendData writes a text message on the battle data channel.
func (c *WebRTCConnection) SendData(b []byte) error {
	if c.dc.ReadyState() != webrtc.DataChannelStateOpen {
		return ErrNotConnected
	}
	return c.dc.SendText(string(b))
}

func (c *WebRTCConnection) AudioTrack() *webrtc.TrackLocalStaticRTP { return c.audio }

func (c *WebRTCConnection) TrackIDs() (audio, data string) {
	data = c.dc.Label()
	if id := c.dc.ID(); id != nil {
		data = fmt.Sprintf("%s-%d", data, *id)
	}
	return c.audio.ID(), data
}

func (c *WebRTCConnection) Close() {
	if c.cancel != nil {
		c.cancel()
	}
	if c.pc != nil {
		if err := c.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "webrtc").Str("room", c.room).Msg("close error")
		} else {
			log.Info().Str("module", "webrtc").Str("room", c.room).Msg("closed")
		}
	}
}

func (c *WebRTCConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) { c.onICE = fn }

// OnTrack sets application-level callback for remote tracks.
func (c *WebRTCConnection) OnTrack(fn func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.onTrack = fn
}

// OnData sets the callback for battle data channel messages.
func (c *WebRTCConnection) OnData(fn func([]byte)) { c.onData = fn }

func (c *WebRTCConnection) OnDataOpen(fn func()) { c.onOpen = fn }

func (c *WebRTCConnection) OnState(fn func(webrtc.PeerConnectionState)) { c.onState = fn }

package rtc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"
)

var ErrNotConnected = errors.New("video call not connected")

// signalMessage is the {type} envelope of the video signaling endpoint.
type signalMessage struct {
	Type          string  `json:"type"`
	Room          string  `json:"room,omitempty"`
	Token         string  `json:"token,omitempty"`
	SDP           string  `json:"sdp,omitempty"`
	Candidate     string  `json:"candidate,omitempty"`
	SDPMid        string  `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
	Error         string  `json:"error,omitempty"`
}

type signalClient struct {
	ws *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func dialSignal(ctx context.Context, dialer *websocket.Dialer, url, token string) (*signalClient, error) {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	ws, _, err := dialer.DialContext(ctx, url, h)
	if err != nil {
		return nil, fmt.Errorf("dial signal: %w", err)
	}
	return &signalClient{ws: ws}, nil
}

func (s *signalClient) send(msg signalMessage) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrNotConnected
	}
	if err := s.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, b)
}

func (s *signalClient) sendCandidate(ci webrtc.ICECandidateInit) error {
	msg := signalMessage{Type: "candidate", Candidate: ci.Candidate, SDPMLineIndex: ci.SDPMLineIndex}
	if ci.SDPMid != nil {
		msg.SDPMid = *ci.SDPMid
	}
	return s.send(msg)
}

func (s *signalClient) read() (signalMessage, error) {
	var msg signalMessage
	_, data, err := s.ws.ReadMessage()
	if err != nil {
		return msg, err
	}
	if err := json.Unmarshal(data, &msg); err != nil {
		return msg, fmt.Errorf("bad signal payload: %w", err)
	}
	return msg, nil
}

func (s *signalClient) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	_ = s.ws.Close()
}

func candidateInit(msg signalMessage) webrtc.ICECandidateInit {
	ci := webrtc.ICECandidateInit{Candidate: msg.Candidate, SDPMLineIndex: msg.SDPMLineIndex}
	if msg.SDPMid != "" {
		mid := msg.SDPMid
		ci.SDPMid = &mid
	}
	return ci
}

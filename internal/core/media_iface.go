package core

import (
	"context"
	"errors"
	"time"

	"github.com/dkeye/Barz/internal/domain"
)

var ErrPermissionsDenied = errors.New("media permissions not granted")

type VideoEventKind int

const (
	VideoConnected VideoEventKind = iota
	VideoDisconnected
	VideoParticipantJoined
	VideoTrackAdded
	VideoDataMessage
)

func (k VideoEventKind) String() string {
	switch k {
	case VideoConnected:
		return "connected"
	case VideoDisconnected:
		return "disconnected"
	case VideoParticipantJoined:
		return "participant_joined"
	case VideoTrackAdded:
		return "track_added"
	case VideoDataMessage:
		return "data_message"
	}
	return "unknown"
}

// VideoEvent is emitted by the video call. Event is set for VideoDataMessage,
// TrackID and Media ("audio", "video") for VideoTrackAdded.
type VideoEvent struct {
	Kind    VideoEventKind
	TrackID string
	Media   string
	Event   *domain.StateMachineEvent
	Err     error
}

// VideoCall drives the audio/video call provider. Imperative operations never block
// on the network except Connect and LoadBeat.
type VideoCall interface {
	Connect(ctx context.Context, token, room string) error
	Disconnect()

	MuteLocalAudio()
	UnmuteLocalAudio()
	LoadBeat(ctx context.Context, url string) error
	PlayBeat()
	StopBeat()

	// SendEvent delivers a state-machine event to the peer over the data channel.
	SendEvent(ev domain.StateMachineEvent) error
	// StreamOffset is the elapsed time since the first remote track arrived.
	StreamOffset() (time.Duration, bool)
	LocalTrackIDs() domain.TrackIDs

	Subscribe() (<-chan VideoEvent, func())
}

// MediaPermissions checks device capture permissions.
type MediaPermissions interface {
	Check(ctx context.Context) error
}

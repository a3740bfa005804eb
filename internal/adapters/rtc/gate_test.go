package rtc

import (
	"context"
	"errors"
	"testing"

	"github.com/dkeye/Barz/internal/core"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockWriter struct {
	mock.Mock
}

func (m *mockWriter) WriteRTP(p *rtp.Packet) error {
	args := m.Called(p)
	return args.Error(0)
}

func TestAudioGate_DropsWhileMuted(t *testing.T) {
	// Arrange
	w := new(mockWriter)
	pkt := &rtp.Packet{Header: rtp.Header{SequenceNumber: 7}}
	w.On("WriteRTP", pkt).Return(nil).Once()
	g := NewAudioGate()
	g.Attach(w)

	// Act
	g.Mute()
	require.NoError(t, g.WriteRTP(pkt))
	g.Unmute()
	require.NoError(t, g.WriteRTP(pkt))

	// Assert
	w.AssertNumberOfCalls(t, "WriteRTP", 1)
	assert.Equal(t, GateOpen, g.State())
}

func TestAudioGate_Detached(t *testing.T) {
	g := NewAudioGate()
	assert.ErrorIs(t, g.WriteRTP(&rtp.Packet{}), ErrNotConnected)

	g.Mute()
	assert.NoError(t, g.WriteRTP(&rtp.Packet{}))
	assert.True(t, g.Muted())
}

func TestAudioGate_PropagatesWriteError(t *testing.T) {
	w := new(mockWriter)
	boom := errors.New("boom")
	w.On("WriteRTP", mock.Anything).Return(boom)
	g := NewAudioGate()
	g.Attach(w)

	assert.ErrorIs(t, g.WriteRTP(&rtp.Packet{}), boom)
	w.AssertExpectations(t)
}

func TestStaticPermissions(t *testing.T) {
	assert.NoError(t, StaticPermissions{Granted: true}.Check(context.Background()))
	assert.ErrorIs(t, StaticPermissions{}.Check(context.Background()), core.ErrPermissionsDenied)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, StaticPermissions{Granted: true}.Check(ctx), context.Canceled)
}

func TestCandidateInit(t *testing.T) {
	idx := uint16(1)
	ci := candidateInit(signalMessage{Type: "candidate", Candidate: "candidate:1", SDPMid: "0", SDPMLineIndex: &idx})
	assert.Equal(t, "candidate:1", ci.Candidate)
	require.NotNil(t, ci.SDPMid)
	assert.Equal(t, "0", *ci.SDPMid)
	assert.Equal(t, uint16(1), *ci.SDPMLineIndex)

	ci = candidateInit(signalMessage{Candidate: "candidate:2"})
	assert.Nil(t, ci.SDPMid)
}

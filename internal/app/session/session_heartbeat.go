package session

import (
	"context"

	"github.com/dkeye/Barz/internal/domain"
	"github.com/rs/zerolog/log"
)

func (s *Session) startHeartbeat() {
	if !s.online || s.deps.Heartbeat == nil {
		return
	}
	if err := s.deps.Heartbeat.Start(); err != nil {
		log.Error().Err(err).Str("module", "app.session").Msg("start heartbeat")
	}
}

func (s *Session) stopHeartbeat() {
	if s.deps.Heartbeat != nil {
		s.deps.Heartbeat.Stop()
	}
}

// checkin reports liveness at most once per interval. A throttled check-in
// caused by a transition is sent when the interval allows it again.
func (s *Session) checkin(source string) {
	f := s.flow
	if !s.online {
		return
	}
	if f.participant == nil {
		if f.challenge != nil && source == "heartbeat" {
			id := f.challenge.ID
			s.goBestEffort("challenge checkin", func(ctx context.Context) error {
				return s.coord.CheckinChallenge(ctx, id)
			})
		}
		return
	}
	id := f.participant.ID
	ok, wait := s.throttle.Allow(id)
	if !ok {
		if source != "heartbeat" && !s.timerArmed(timerCheckinDeferred) {
			s.after(timerCheckinDeferred, wait)
		}
		return
	}
	s.cancelTimer(timerCheckinDeferred)

	var p domain.CheckinPayload
	if f.machine != nil && (f.phase == PhaseInBattle || f.phase == PhaseSummary) {
		p.CurrentState = f.machine.Stage()
		c := f.machine.Context()
		p.CurrentContext = &c
	}
	if f.videoConnected {
		if d, ok := s.deps.Video.StreamOffset(); ok {
			ms := d.Milliseconds()
			p.VideoStreamOffsetMs = &ms
		}
	}
	log.Debug().Str("module", "app.session").Str("source", source).Str("stage", string(p.CurrentState)).Msg("checkin")
	s.goBestEffort("checkin", func(ctx context.Context) error {
		return s.deps.Gateway.Checkin(ctx, id, p)
	})
}

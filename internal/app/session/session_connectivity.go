package session

import (
	"context"
	"fmt"
	"math"

	"github.com/dkeye/Barz/internal/app"
	"github.com/dkeye/Barz/internal/domain"
	"github.com/rs/zerolog/log"
)

func (s *Session) onConnectivity(online bool) {
	if online == s.online {
		return
	}
	s.online = online
	log.Info().Str("module", "app.session").Bool("online", online).Str("phase", string(s.flow.phase)).Msg("connectivity changed")
	if online {
		s.wentOnline()
		return
	}
	s.wentOffline()
}

func (s *Session) wentOffline() {
	f := s.flow
	s.stopHeartbeat()
	if f.phase == PhaseIdle || f.phase == PhaseSummary || f.completed {
		return
	}
	hasParticipant := f.participant != nil || f.challenge != nil
	matched := f.battle != nil || (f.participant != nil && f.participant.Matched())
	action, d := s.deps.Policy.OnOffline(hasParticipant, matched)
	if action == app.NoAction {
		return
	}
	f.offlineAction = action
	f.countdown = &Countdown{Action: action.String(), Deadline: s.clock.Now().Add(d)}
	s.after(timerOffline, d)

	secs := int(math.Ceil(d.Seconds()))
	switch action {
	case app.Forfeit:
		s.notify(NoticeCountdown, fmt.Sprintf("You are offline. You will forfeit the battle in %d seconds.", secs))
	case app.AbandonSearch:
		s.notify(NoticeCountdown, fmt.Sprintf("You are offline. Matching will stop in %d seconds.", secs))
	}
}

func (s *Session) wentOnline() {
	f := s.flow
	if f.countdown != nil {
		s.cancelTimer(timerOffline)
		f.countdown = nil
		f.offlineAction = app.NoAction
		s.notify(NoticeInfo, "You are back online.")
	}
	if f.participant == nil && f.challenge == nil {
		return
	}
	s.startHeartbeat()
	s.checkin("reconnect")
	s.reconcile()
	s.flushOutbox()
}

func (s *Session) offlineExpired() {
	f := s.flow
	action := f.offlineAction
	f.countdown = nil
	f.offlineAction = app.NoAction
	switch action {
	case app.AbandonSearch:
		s.notify(NoticeError, "Matching stopped because you were offline.")
		s.endFlow("offline while matching")
	case app.Forfeit:
		if p := f.participant; p != nil {
			id, reason := p.ID, s.deps.Policy.ForfeitReason()
			s.goBestEffort("forfeit", func(ctx context.Context) error {
				return s.coord.Leave(ctx, id, reason)
			})
		}
		s.notify(NoticeError, "You forfeited the battle because you were offline.")
		s.endFlow("offline forfeit")
	}
}

// reconcile refetches the participant and battle after a reconnect and
// overwrites the local copies with them.
func (s *Session) reconcile() {
	f := s.flow
	if f.participant == nil {
		return
	}
	id := f.participant.ID
	async(s, "reconcile participant", func(ctx context.Context) (*domain.Participant, error) {
		return s.deps.Gateway.GetParticipant(ctx, id)
	}, func(p *domain.Participant, err error) {
		if err != nil {
			return
		}
		prev := *f.participant
		s.setParticipant(*p)
		switch {
		case !prev.Inactive() && p.Inactive():
			s.handleInactive(p.MadeInactiveReason)
		case !prev.Matched() && p.Matched():
			s.loadBattle()
		case f.battle != nil:
			s.reconcileBattle()
		default:
			if f.phase == PhaseLoadingBattle && !f.loading {
				s.loadBattle()
			}
		}
	})
}

func (s *Session) reconcileBattle() {
	f := s.flow
	id := f.battle.ID
	async(s, "reconcile battle", func(ctx context.Context) (*domain.Battle, error) {
		return s.deps.Gateway.GetBattle(ctx, id)
	}, func(b *domain.Battle, err error) {
		if err != nil || b.ID != id {
			return
		}
		wasInactive := f.battle.Inactive()
		f.battle = b
		if me, ok := b.Participant(f.participant.ID); ok {
			p := *me
			f.participant = &p
		}
		if !wasInactive && b.Inactive() {
			s.handleInactive(b.MadeInactiveReason)
			return
		}
		s.catchUp()
		s.evaluateGate()
	})
}

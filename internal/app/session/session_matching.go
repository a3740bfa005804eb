package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/dkeye/Barz/internal/adapters/realtime"
	"github.com/dkeye/Barz/internal/adapters/store"
	"github.com/dkeye/Barz/internal/app/battle"
	"github.com/dkeye/Barz/internal/app/matching"
	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

const (
	msgStillSearching     = "No opponent yet. Still searching..."
	msgChallengeCancelled = "The challenge was cancelled by the other user."
	msgLoadFailed         = "Could not load the battle. Is your network connection poor?"
	msgReadyFailed        = "Could not mark you ready. Try again."
	msgPrivacyFailed      = "Could not change the privacy level."
	msgLeaveFailed        = "Could not reach the server while leaving the battle."
	msgVideoUnavailable   = "The video call could not be started."
)

const bootstrapAttempts = 3

func (s *Session) startMatch(alg domain.MatchingAlgorithm) error {
	if s.flow.phase != PhaseIdle {
		return ErrBusy
	}
	if alg == "" {
		alg = s.opts.Algorithm
	}
	s.setPhase(PhaseCreatingParticipant)
	asyncOwned(s, "create participant", func(ctx context.Context) (*domain.Participant, error) {
		return s.coord.CreateParticipant(ctx, alg)
	}, func(p *domain.Participant, err error) {
		if err != nil {
			s.notify(NoticeError, fmt.Sprintf("Could not start matching: %v", err))
			s.endFlow("create participant failed")
			return
		}
		s.adoptParticipant(*p)
	}, s.releaseParticipant)
	return nil
}

// releaseParticipant leaves a participant whose flow ended while it was being
// created, so it does not linger in the matching pool.
func (s *Session) releaseParticipant(p *domain.Participant) {
	if p == nil || p.Inactive() {
		return
	}
	id := p.ID
	log.Info().Str("module", "app.session").Str("participant", string(id)).Msg("releasing orphaned participant")
	s.goBestEffort("release participant", func(ctx context.Context) error {
		return s.coord.Leave(ctx, id, domain.ReasonParticipantLeft)
	})
}

func (s *Session) releaseChallenge(c *domain.Challenge) {
	if c == nil || c.Status == domain.ChallengeCancelled {
		return
	}
	id := c.ID
	log.Info().Str("module", "app.session").Str("challenge", string(id)).Msg("releasing orphaned challenge")
	s.goBestEffort("release challenge", func(ctx context.Context) error {
		return s.coord.LeaveChallenge(ctx, id)
	})
}

// adoptParticipant makes p the flow's participant and starts searching.
func (s *Session) adoptParticipant(p domain.Participant) {
	f := s.flow
	f.participant = &p
	s.setPhase(PhaseSearching)
	s.listen(realtime.ParticipantChannel(string(p.ID)))
	s.saveSnapshot()
	s.startHeartbeat()
	s.checkin("matching")
	if s.appState != "" {
		state := s.appState
		s.goBestEffort("app state", func(ctx context.Context) error {
			return s.deps.Gateway.UpdateAppState(ctx, p.ID, state)
		})
	}

	if p.Inactive() {
		s.handleInactive(p.MadeInactiveReason)
		return
	}
	if p.Matched() {
		s.loadBattle()
	}
}

func (s *Session) onParticipantPush(msg core.ChannelMessage) {
	f := s.flow
	if f.participant == nil {
		return
	}
	if msg.Channel != realtime.ParticipantChannel(string(f.participant.ID)) {
		s.onOpponentPush(msg.Data)
		return
	}
	prev := *f.participant
	next, err := domain.MergeParticipant(prev, msg.Data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("bad participant push")
		return
	}
	s.setParticipant(next)

	if !prev.Inactive() && next.Inactive() {
		s.handleInactive(next.MadeInactiveReason)
		return
	}
	if !prev.InitialMatchFailed && next.InitialMatchFailed {
		s.notify(NoticeInfo, msgStillSearching)
	}
	if !prev.Matched() && next.Matched() {
		log.Info().Str("module", "app.session").Str("battle", string(next.BattleID)).Msg("matched")
		s.saveSnapshot()
		s.loadBattle()
		return
	}
	s.evaluateGate()
}

func (s *Session) onOpponentPush(data []byte) {
	f := s.flow
	if f.battle == nil {
		return
	}
	opp, err := f.battle.Opponent(f.participant.ID)
	if err != nil {
		return
	}
	next, err := domain.MergeParticipant(*opp, data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("bad opponent push")
		return
	}
	if next.ID != opp.ID {
		return
	}
	f.battle.ReplaceParticipant(next)
	s.evaluateGate()
}

// setParticipant replaces the own participant and its copy inside the battle.
func (s *Session) setParticipant(p domain.Participant) {
	f := s.flow
	f.participant = &p
	if f.battle != nil {
		f.battle.ReplaceParticipant(p)
	}
}

func (s *Session) onBattlePush(data []byte) {
	f := s.flow
	if f.battle == nil {
		return
	}
	prev := *f.battle
	next, err := domain.MergeBattle(prev, data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("bad battle push")
		return
	}
	if next.ID != prev.ID {
		return
	}
	f.battle = &next
	if f.participant != nil {
		f.battle.ReplaceParticipant(*f.participant)
	}
	if !prev.Inactive() && next.Inactive() {
		s.handleInactive(next.MadeInactiveReason)
		return
	}
	s.catchUp()
	s.evaluateGate()
}

// handleInactive reacts to the backend terminating the attempt.
func (s *Session) handleInactive(reason string) {
	f := s.flow
	if f.phase == PhaseSummary || f.completed {
		return
	}
	s.notify(NoticeError, matching.DescribeInactive(reason))
	if f.phase == PhaseInBattle {
		s.cancelTimer(timerStage)
		s.cancelTimer(timerOffline)
		f.countdown = nil
		s.deps.Video.StopBeat()
		s.setPhase(PhaseSummary)
		if s.opts.Summary > 0 {
			s.after(timerSummary, s.opts.Summary)
		}
		return
	}
	s.endFlow("made inactive: " + reason)
}

// loadBattle bootstraps the matched battle, retrying a few times before the
// attempt is abandoned.
func (s *Session) loadBattle() {
	f := s.flow
	if f.participant == nil || !f.participant.Matched() || f.machine != nil || f.loading {
		return
	}
	s.setPhase(PhaseLoadingBattle)
	f.loading = true
	f.loadAttempts++
	self, id := f.participant.ID, f.participant.BattleID

	async(s, "bootstrap", func(ctx context.Context) (*matching.Bootstrap, error) {
		return s.coord.Bootstrap(ctx, id, self)
	}, func(bs *matching.Bootstrap, err error) {
		f.loading = false
		if err != nil {
			if f.loadAttempts < bootstrapAttempts {
				s.after(timerBootstrapRetry, s.opts.EventRetry)
				return
			}
			s.abandon(msgLoadFailed, err)
			return
		}
		s.battleLoaded(bs)
	})
}

func (s *Session) abandon(msg string, err error) {
	log.Error().Err(err).Str("module", "app.session").Msg("abandoning battle attempt")
	s.notify(NoticeError, msg)
	if p := s.flow.participant; p != nil {
		id := p.ID
		s.goBestEffort("leave", func(ctx context.Context) error {
			return s.coord.Leave(ctx, id, domain.ReasonUnknown)
		})
	}
	s.endFlow("abandoned")
}

func (s *Session) battleLoaded(bs *matching.Bootstrap) {
	f := s.flow
	machine, err := battle.New(bs.Battle, bs.Self.ID, bs.Definition, battle.TimingFor(bs.Battle, s.opts.CoinToss))
	if err != nil {
		s.abandon(msgLoadFailed, err)
		return
	}
	b := bs.Battle
	self := bs.Self
	f.battle = &b
	f.participant = &self
	f.opponentUser = bs.OpponentUser
	beat := bs.Beat
	f.beat = &beat
	f.def = bs.Definition
	f.outcome = bs.Outcome
	f.machine = machine

	s.listen(realtime.BattleChannel(string(b.ID)))
	s.listen(realtime.BattleEventsChannel(string(b.ID)))
	s.listen(realtime.ParticipantChannel(string(bs.Opponent.ID)))
	s.listenVideo()
	s.saveSnapshot()

	if b.Inactive() {
		s.handleInactive(b.MadeInactiveReason)
		return
	}

	url := beat.BeatURL
	s.goBestEffort("load beat", func(ctx context.Context) error {
		return s.deps.Video.LoadBeat(ctx, url)
	})
	s.connectVideo()

	if f.challenge != nil {
		s.setPhase(PhasePrivacy)
		if s.opts.ChallengeAutoReady > 0 {
			s.after(timerAutoReady, s.opts.ChallengeAutoReady)
		}
	} else {
		s.setPhase(PhaseReady)
		if s.opts.AutoReady > 0 {
			s.after(timerAutoReady, s.opts.AutoReady)
		}
	}
	log.Info().Str("module", "app.session").Str("battle", string(b.ID)).Str("definition", f.def.Version).Int("rounds", b.NumberOfRounds).Msg("battle loaded")
	s.checkin("battle loaded")
	s.evaluateGate()
}

func (s *Session) connectVideo() {
	f := s.flow
	id := f.participant.ID
	room := f.battle.TwilioRoomName
	if room == "" {
		room = string(f.battle.ID)
	}
	async(s, "video token", func(ctx context.Context) (string, error) {
		return s.coord.VideoToken(ctx, id)
	}, func(token string, err error) {
		if err == nil {
			err = s.deps.Video.Connect(s.ctx, token, room)
		}
		if err != nil {
			log.Error().Err(err).Str("module", "app.session").Str("room", room).Msg("video call")
			s.notify(NoticeError, msgVideoUnavailable)
		}
	})
}

func (s *Session) autoReady() {
	f := s.flow
	if f.autoReadyFired || f.participant == nil || f.participant.Ready() {
		return
	}
	f.autoReadyFired = true
	if err := s.markReady(); err != nil {
		log.Debug().Err(err).Str("module", "app.session").Msg("auto ready skipped")
	}
}

func (s *Session) markReady() error {
	f := s.flow
	if f.phase != PhaseReady && f.phase != PhasePrivacy {
		return ErrWrongPhase
	}
	if f.readying {
		return nil
	}
	f.readying = true
	id := f.participant.ID
	async(s, "mark ready", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.coord.MarkReady(ctx, id)
	}, func(_ struct{}, err error) {
		f.readying = false
		switch {
		case errors.Is(err, matching.ErrPermissionsDenied):
			s.notify(NoticeError, matching.DescribeInactive(domain.ReasonMediaPermissionsNotGranted))
			s.endFlow("permissions denied")
		case err != nil:
			s.notify(NoticeError, msgReadyFailed)
		default:
			s.cancelTimer(timerAutoReady)
			next := *f.participant
			now := s.clock.Now()
			next.ReadyForBattleAt = &now
			s.setParticipant(next)
			s.evaluateGate()
		}
	})
	return nil
}

func (s *Session) requestPrivacy(level domain.PrivacyLevel) error {
	f := s.flow
	if f.phase != PhasePrivacy {
		return ErrWrongPhase
	}
	if !level.Valid() {
		return fmt.Errorf("invalid privacy level %q", level)
	}
	next, tx := f.privacy.Begin(*f.participant, level)
	s.setParticipant(next)
	id := next.ID
	async(s, "request privacy", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.coord.RequestPrivacy(ctx, id, level)
	}, func(_ struct{}, err error) {
		if err == nil {
			f.privacy.Commit(tx)
			return
		}
		if cur, ok := f.privacy.Rollback(tx, *f.participant); ok {
			s.setParticipant(cur)
		}
		s.notify(NoticeError, msgPrivacyFailed)
		s.evaluateGate()
	})
	return nil
}

// evaluateGate enters the battle once both participants are ready.
func (s *Session) evaluateGate() {
	f := s.flow
	if f.phase != PhaseReady && f.phase != PhasePrivacy {
		return
	}
	if f.battle == nil || f.machine == nil || !matching.ReadyToEnter(*f.battle) {
		return
	}
	s.enterBattle()
}

func (s *Session) leave() error {
	f := s.flow
	switch {
	case f.phase == PhaseIdle:
		return ErrNoFlow
	case f.phase == PhaseSummary:
		s.endFlow("summary closed")
		return nil
	case f.leaving:
		return nil
	case f.participant == nil && f.challenge != nil:
		id := f.challenge.ID
		s.goBestEffort("leave challenge", func(ctx context.Context) error {
			return s.coord.LeaveChallenge(ctx, id)
		})
		s.endFlow("left challenge")
		return nil
	case f.participant == nil:
		// A creation still in flight is released when it completes.
		s.endFlow("left")
		return nil
	}
	f.leaving = true
	id := f.participant.ID
	async(s, "leave", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.coord.Leave(ctx, id, domain.ReasonParticipantLeft)
	}, func(_ struct{}, err error) {
		if err != nil {
			s.notify(NoticeError, msgLeaveFailed)
		}
		s.endFlow("left")
	})
	return nil
}

func (s *Session) reportAppState(state domain.AppState) error {
	switch state {
	case domain.AppStateActive, domain.AppStateBackground, domain.AppStateInactive:
	default:
		return fmt.Errorf("invalid app state %q", state)
	}
	s.appState = state
	p := s.flow.participant
	if p == nil {
		return nil
	}
	id := p.ID
	s.goBestEffort("app state", func(ctx context.Context) error {
		return s.deps.Gateway.UpdateAppState(ctx, id, state)
	})
	return nil
}

func (s *Session) startChallenge(target domain.UserID, confirmed bool) error {
	f := s.flow
	if !confirmed && f.phase != PhaseIdle {
		return ErrBusy
	}
	if err := domain.ValidUserID(target); err != nil {
		return err
	}
	f.target = target
	s.setPhase(PhaseCreatingChallenge)
	asyncOwned(s, "create challenge", func(ctx context.Context) (matching.ChallengeStart, error) {
		return s.coord.StartChallenge(ctx, target, confirmed)
	}, func(res matching.ChallengeStart, err error) {
		switch {
		case err != nil:
			s.notify(NoticeError, fmt.Sprintf("Could not create the challenge: %v", err))
			s.endFlow("create challenge failed")
		case res.NeedsConfirmation:
			s.setPhase(PhaseConfirmChallenge)
		default:
			s.adoptChallenge(*res.Challenge)
		}
	}, func(res matching.ChallengeStart) {
		s.releaseChallenge(res.Challenge)
	})
	return nil
}

func (s *Session) confirmChallenge(proceed bool) error {
	f := s.flow
	if f.phase != PhaseConfirmChallenge {
		return ErrWrongPhase
	}
	if !proceed {
		s.endFlow("challenge declined")
		return nil
	}
	return s.startChallenge(f.target, true)
}

func (s *Session) resumeChallenge(ch domain.Challenge) error {
	if s.flow.phase != PhaseIdle {
		return ErrBusy
	}
	s.setPhase(PhaseCreatingChallenge)
	asyncOwned(s, "resume challenge", func(ctx context.Context) (*domain.Challenge, error) {
		return s.coord.ResumeChallenge(ctx, ch)
	}, func(c *domain.Challenge, err error) {
		if err != nil {
			s.notify(NoticeError, fmt.Sprintf("Could not resume the challenge: %v", err))
			s.endFlow("resume challenge failed")
			return
		}
		s.adoptChallenge(*c)
	}, s.releaseChallenge)
	return nil
}

func (s *Session) adoptChallenge(ch domain.Challenge) {
	f := s.flow
	f.challenge = &ch
	s.setPhase(PhaseChallengeWaiting)
	s.listen(realtime.UserChallengesChannel(string(s.opts.UserID)))
	s.saveSnapshot()
	s.startHeartbeat()
	if ch.Status == domain.ChallengeStarted && ch.BattleID != "" {
		s.joinChallengeBattle(ch.BattleID)
	}
}

func (s *Session) onChallengePush(data []byte) {
	f := s.flow
	if f.challenge == nil {
		return
	}
	var head struct {
		ID domain.ChallengeID `json:"id"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("bad challenge push")
		return
	}
	if head.ID != "" && head.ID != f.challenge.ID {
		return
	}
	prev := *f.challenge
	next, err := domain.MergeChallenge(prev, data)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("bad challenge push")
		return
	}
	f.challenge = &next

	switch {
	case prev.Status != domain.ChallengeCancelled && next.Status == domain.ChallengeCancelled:
		if next.CancelledByUserID != s.opts.UserID {
			s.notify(NoticeInfo, msgChallengeCancelled)
		}
		s.endFlow("challenge cancelled")
	case next.Status == domain.ChallengeStarted && next.BattleID != "":
		s.joinChallengeBattle(next.BattleID)
	}
}

func (s *Session) joinChallengeBattle(id domain.BattleID) {
	f := s.flow
	if f.participant != nil || f.joining {
		return
	}
	f.joining = true
	user := s.opts.UserID
	async(s, "find participant", func(ctx context.Context) (*domain.Participant, error) {
		return s.coord.ParticipantForUser(ctx, id, user)
	}, func(p *domain.Participant, err error) {
		f.joining = false
		if err != nil {
			s.abandon(msgLoadFailed, err)
			return
		}
		s.adoptParticipant(*p)
	})
}

func (s *Session) onChallengeCheckRequest() {
	f := s.flow
	if f.challenge == nil || f.participant != nil {
		return
	}
	id := f.challenge.ID
	s.goBestEffort("challenge checkin", func(ctx context.Context) error {
		return s.coord.CheckinChallenge(ctx, id)
	})
}

// resume re-attaches to the flow recorded in the store, if any.
func (s *Session) resume() {
	if s.deps.Store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.opts.RequestTimeout)
	snap, err := s.deps.Store.Load(ctx, s.opts.UserID)
	cancel()
	switch {
	case errors.Is(err, store.ErrNotFound):
		return
	case err != nil:
		log.Warn().Err(err).Str("module", "app.session").Msg("load snapshot")
		return
	}
	log.Info().Str("module", "app.session").Str("participant", string(snap.ParticipantID)).Str("challenge", string(snap.ChallengeID)).Msg("resuming")

	f := s.flow
	if snap.ParticipantID == "" {
		if err := s.resumeChallenge(domain.Challenge{ID: snap.ChallengeID, Status: domain.ChallengePending}); err != nil {
			log.Warn().Err(err).Str("module", "app.session").Msg("resume challenge")
		}
		return
	}
	if snap.ChallengeID != "" {
		f.challenge = &domain.Challenge{ID: snap.ChallengeID, Status: domain.ChallengeStarted, BattleID: snap.BattleID}
	}
	s.setPhase(PhaseCreatingParticipant)
	id := snap.ParticipantID
	async(s, "resume participant", func(ctx context.Context) (*domain.Participant, error) {
		return s.deps.Gateway.GetParticipant(ctx, id)
	}, func(p *domain.Participant, err error) {
		if err != nil {
			log.Warn().Err(err).Str("module", "app.session").Str("participant", string(id)).Msg("resume participant")
			s.endFlow("resume failed")
			return
		}
		if p.Inactive() {
			s.endFlow("resumed participant inactive")
			return
		}
		s.adoptParticipant(*p)
	})
}

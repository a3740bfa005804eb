package session

import (
	"context"
	"net/http"
	"slices"

	"github.com/dkeye/Barz/internal/adapters/backend"
	"github.com/dkeye/Barz/internal/app/battle"
	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

func (s *Session) enterBattle() {
	f := s.flow
	s.cancelTimer(timerAutoReady)
	s.setPhase(PhaseInBattle)
	s.runActions(f.machine.Enter().Actions)

	trs := f.machine.Replay(f.battle.Events())
	for _, ev := range f.early {
		out, _ := f.machine.Apply(ev)
		trs = append(trs, out...)
	}
	f.early = nil
	log.Info().Str("module", "app.session").Str("battle", string(f.battle.ID)).Int("replayed", len(trs)).Msg("battle started")

	if len(trs) > 0 {
		s.handleTransitions(trs)
		return
	}
	s.armStageTimer()
	s.checkin("battle started")
}

func (s *Session) onEventPush(data []byte) {
	var rec domain.RecordedEvent
	if err := json.Unmarshal(data, &rec); err != nil {
		log.Warn().Err(err).Str("module", "app.session").Msg("bad event push")
		return
	}
	ev := rec.Event()
	if ev.UUID == "" || ev.Type == "" {
		if err := json.Unmarshal(data, &ev); err != nil || ev.UUID == "" {
			log.Warn().Err(err).Str("module", "app.session").Msg("event push without uuid")
			return
		}
	}
	s.applyEvent(ev)
}

// applyEvent feeds a remote event. Events that arrive before the battle has
// been entered are held and applied on entry.
func (s *Session) applyEvent(ev domain.StateMachineEvent) {
	f := s.flow
	switch f.phase {
	case PhaseLoadingBattle, PhaseReady, PhasePrivacy:
		if !slices.ContainsFunc(f.early, func(e domain.StateMachineEvent) bool { return e.UUID == ev.UUID }) {
			f.early = append(f.early, ev)
		}
		return
	case PhaseInBattle:
	default:
		return
	}
	trs, out := f.machine.Apply(ev)
	log.Debug().Str("module", "app.session").Str("uuid", ev.UUID).Str("event", string(ev.Type)).Str("outcome", out.String()).Msg("event applied")
	s.handleTransitions(trs)
}

// catchUp replays the battle's durable log into the machine.
func (s *Session) catchUp() {
	f := s.flow
	if f.phase != PhaseInBattle || f.machine == nil || f.battle == nil {
		return
	}
	s.handleTransitions(f.machine.Replay(f.battle.Events()))
}

func (s *Session) handleTransitions(trs []battle.Transition) {
	if len(trs) == 0 {
		return
	}
	f := s.flow
	for _, tr := range trs {
		log.Info().Str("module", "app.session").Str("from", string(tr.From)).Str("to", string(tr.To)).Str("event", string(tr.Event.Type)).Msg("stage changed")
		s.runActions(tr.Actions)
	}
	if f.machine.Complete() {
		s.completeBattle()
		return
	}
	s.armStageTimer()
	s.checkin("transition")
}

func (s *Session) runActions(actions []battle.Action) {
	for _, a := range actions {
		switch a {
		case battle.ActionMuteLocal:
			s.deps.Video.MuteLocalAudio()
		case battle.ActionUnmuteLocal:
			s.deps.Video.UnmuteLocalAudio()
		case battle.ActionStartBeat:
			s.deps.Video.PlayBeat()
		case battle.ActionStopBeat:
			s.deps.Video.StopBeat()
		}
	}
}

func (s *Session) armStageTimer() {
	s.cancelTimer(timerStage)
	if d, ok := s.flow.machine.Timer(); ok {
		s.after(timerStage, d)
	}
}

// stageTimeout raises the local event for an expired stage and broadcasts it
// over the data channel and the backend.
func (s *Session) stageTimeout() {
	f := s.flow
	if f.phase != PhaseInBattle {
		return
	}
	ev, ok := f.machine.Timeout(s.clock.Now())
	if !ok {
		return
	}
	trs, out := f.machine.Apply(ev)
	if out != battle.Applied && out != battle.Observed {
		log.Warn().Str("module", "app.session").Str("event", string(ev.Type)).Str("outcome", out.String()).Msg("local timeout not accepted")
		return
	}
	if err := s.deps.Video.SendEvent(ev); err != nil {
		log.Debug().Err(err).Str("module", "app.session").Str("uuid", ev.UUID).Msg("data channel send failed, relying on backend")
	}
	f.outbox = append(f.outbox, ev)
	s.flushOutbox()
	s.handleTransitions(trs)
}

// flushOutbox posts locally raised events one at a time, in order.
func (s *Session) flushOutbox() {
	f := s.flow
	if f.posting || len(f.outbox) == 0 || !s.online || f.participant == nil {
		return
	}
	f.posting = true
	id := f.participant.ID
	ev := f.outbox[0]
	async(s, "post event", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Gateway.PostEvent(ctx, id, ev)
	}, func(_ struct{}, err error) {
		f.posting = false
		if err != nil && !backend.IsStatus(err, http.StatusConflict) {
			s.after(timerEventRetry, s.opts.EventRetry)
			return
		}
		if len(f.outbox) > 0 && f.outbox[0].UUID == ev.UUID {
			f.outbox = f.outbox[1:]
		}
		s.flushOutbox()
	})
}

func (s *Session) completeBattle() {
	f := s.flow
	f.completed = true
	s.cancelTimer(timerStage)
	s.cancelTimer(timerOffline)
	f.countdown = nil
	s.setPhase(PhaseSummary)
	s.checkin("complete")
	if s.opts.Summary > 0 {
		s.after(timerSummary, s.opts.Summary)
	}
	log.Info().Str("module", "app.session").Str("battle", string(f.battle.ID)).Msg("battle complete")
}

func (s *Session) onVideo(ev core.VideoEvent) {
	f := s.flow
	switch ev.Kind {
	case core.VideoConnected:
		f.videoConnected = true
		f.trackAttempts = 0
		s.storeTrackIDs()
	case core.VideoDisconnected:
		f.videoConnected = false
		log.Warn().Err(ev.Err).Str("module", "app.session").Msg("video call disconnected")
	case core.VideoDataMessage:
		if ev.Event != nil {
			s.applyEvent(*ev.Event)
		}
	default:
		log.Debug().Str("module", "app.session").Str("kind", ev.Kind.String()).Str("track", ev.TrackID).Msg("video event")
	}
}

func (s *Session) storeTrackIDs() {
	f := s.flow
	if f.participant == nil || !f.videoConnected {
		return
	}
	f.trackAttempts++
	id := f.participant.ID
	ids := s.deps.Video.LocalTrackIDs()
	async(s, "store track ids", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.deps.Gateway.StoreTrackIDs(ctx, id, ids)
	}, func(_ struct{}, err error) {
		if err == nil {
			return
		}
		if f.trackAttempts < s.opts.TrackIDAttempts {
			s.after(timerTrackIDs, s.opts.EventRetry)
			return
		}
		log.Warn().Err(err).Str("module", "app.session").Msg("giving up storing track ids")
	})
}

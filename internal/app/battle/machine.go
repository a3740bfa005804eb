// Package battle is the per-device battle stage machine. It is pure: callers
// feed it events and timer expiries and carry out the returned actions.
package battle

import (
	"fmt"
	"slices"
	"time"

	"github.com/dkeye/Barz/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type Action int

const (
	ActionMuteLocal Action = iota + 1
	ActionUnmuteLocal
	ActionStartBeat
	ActionStopBeat
)

func (a Action) String() string {
	switch a {
	case ActionMuteLocal:
		return "mute_local"
	case ActionUnmuteLocal:
		return "unmute_local"
	case ActionStartBeat:
		return "start_beat"
	case ActionStopBeat:
		return "stop_beat"
	}
	return fmt.Sprintf("action(%d)", int(a))
}

// stageActions are run by the caller whenever the stage changes from from to
// to. from is empty when the machine is entered. Local audio opens with the
// warm-up and closes when the turn ends; it reopens at the end of the battle.
func stageActions(from, to domain.Stage) []Action {
	var out []Action
	if from == domain.StageBattle {
		out = append(out, ActionMuteLocal)
	}
	switch to {
	case domain.StageCoinToss:
		out = append(out, ActionMuteLocal)
	case domain.StageWarmUp:
		out = append(out, ActionUnmuteLocal, ActionStartBeat)
	case domain.StageBattle:
		// Entered without a warm-up: zero warm-up length or a reconnect mid-turn.
		if from != domain.StageWarmUp {
			out = append(out, ActionUnmuteLocal, ActionStartBeat)
		}
	case domain.StageWaiting:
		if from != domain.StageBattle {
			out = append(out, ActionMuteLocal)
		}
		out = append(out, ActionStopBeat)
	case domain.StageComplete:
		out = append(out, ActionStopBeat, ActionUnmuteLocal)
	}
	return out
}

type Outcome int

const (
	// Applied: the event was acknowledged and changed the stage.
	Applied Outcome = iota
	// Observed: acknowledged, context moved but this device stays in its stage.
	Observed
	Duplicate
	// Stale: raised for an earlier position; acknowledged without effect.
	Stale
	// Deferred: raised for a later position; held until the machine catches up.
	Deferred
	// Rejected: conflicts with the machine or its definition; acknowledged without effect.
	Rejected
)

func (o Outcome) String() string {
	return [...]string{"applied", "observed", "duplicate", "stale", "deferred", "rejected"}[o]
}

type Transition struct {
	From    domain.Stage
	To      domain.Stage
	Event   domain.StateMachineEvent
	Actions []Action
}

// phases within one turn, in the order their events are raised.
const (
	phaseCoinToss = iota
	phaseWarmUp
	phaseBattle
	phaseDone
)

type position struct {
	turn  domain.Turn
	phase int
}

func (p position) before(o position) bool {
	if p.turn != o.turn {
		return p.turn.Before(o.turn)
	}
	return p.phase < o.phase
}

func phaseOf(t domain.EventType) int {
	switch t {
	case domain.EventCoinTossComplete:
		return phaseCoinToss
	case domain.EventWarmUpComplete:
		return phaseWarmUp
	}
	return phaseBattle
}

type Timing struct {
	CoinToss time.Duration
	WarmUp   time.Duration
	Turn     time.Duration
}

// TimingFor reads the turn lengths of b; coinToss is local configuration.
func TimingFor(b domain.Battle, coinToss time.Duration) Timing {
	return Timing{
		CoinToss: coinToss,
		WarmUp:   time.Duration(b.WarmupLengthSeconds) * time.Second,
		Turn:     time.Duration(b.TurnLengthSeconds) * time.Second,
	}
}

type Machine struct {
	def    domain.MachineDefinition
	self   domain.ParticipantID
	timing Timing

	stage    domain.Stage
	phase    int
	ctx      domain.MachineContext
	acked    map[string]struct{}
	deferred []domain.StateMachineEvent
}

func New(b domain.Battle, self domain.ParticipantID, def domain.MachineDefinition, timing Timing) (*Machine, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if _, ok := b.Participant(self); !ok {
		return nil, domain.ErrNotInBattle
	}
	if len(def.Transitions) == 0 {
		def = DefaultDefinition()
	}
	rounds := b.NumberOfRounds
	if rounds < 1 {
		rounds = 1
	}
	return &Machine{
		def:    def,
		self:   self,
		timing: timing,
		stage:  def.Initial,
		phase:  phaseCoinToss,
		ctx: domain.MachineContext{
			BattleID:            b.ID,
			TotalNumberOfRounds: rounds,
			ParticipantIDs:      b.OrderedParticipantIDs(),
		},
		acked: make(map[string]struct{}),
	}, nil
}

// Enter is the transition into the initial stage.
func (m *Machine) Enter() Transition {
	return Transition{To: m.stage, Actions: stageActions("", m.stage)}
}

func (m *Machine) Stage() domain.Stage { return m.stage }

func (m *Machine) Complete() bool { return m.stage == domain.StageComplete }

// Context returns a copy of the turn bookkeeping.
func (m *Machine) Context() domain.MachineContext {
	c := m.ctx
	c.ParticipantIDs = slices.Clone(m.ctx.ParticipantIDs)
	c.AcknowledgedUUIDs = slices.Clone(m.ctx.AcknowledgedUUIDs)
	return c
}

func (m *Machine) Acknowledged(id string) bool {
	_, ok := m.acked[id]
	return ok
}

// Pending is the number of deferred events.
func (m *Machine) Pending() int { return len(m.deferred) }

// SelfActive reports whether it is this device's turn.
func (m *Machine) SelfActive() bool { return m.ctx.ActiveParticipant() == m.self }

func (m *Machine) ack(id string) {
	if id == "" {
		return
	}
	if _, ok := m.acked[id]; ok {
		return
	}
	m.acked[id] = struct{}{}
	m.ctx.AcknowledgedUUIDs = append(m.ctx.AcknowledgedUUIDs, id)
}

// Apply feeds one event. Accepting it may release deferred events, so every
// resulting transition is returned in order.
func (m *Machine) Apply(ev domain.StateMachineEvent) ([]Transition, Outcome) {
	if m.Acknowledged(ev.UUID) {
		return nil, Duplicate
	}
	tr, out := m.step(ev)
	switch out {
	case Deferred:
		m.deferred = append(m.deferred, ev)
		log.Debug().Str("module", "app.battle").Str("uuid", ev.UUID).Str("event", string(ev.Type)).Str("stage", string(m.stage)).Msg("event deferred")
		return nil, out
	case Rejected:
		log.Warn().Str("module", "app.battle").Str("uuid", ev.UUID).Str("event", string(ev.Type)).Str("stage", string(m.stage)).Msg("event rejected")
		return nil, out
	case Stale:
		return nil, out
	}
	var trs []Transition
	if tr != nil {
		trs = append(trs, *tr)
	}
	return append(trs, m.drain()...), out
}

// Replay applies a durable event log in order, skipping acknowledged events.
func (m *Machine) Replay(events []domain.StateMachineEvent) []Transition {
	var trs []Transition
	for _, ev := range events {
		if m.Acknowledged(ev.UUID) {
			continue
		}
		out, _ := m.Apply(ev)
		trs = append(trs, out...)
	}
	return trs
}

func (m *Machine) drain() []Transition {
	var trs []Transition
	for progressed := true; progressed; {
		progressed = false
		rest := m.deferred[:0]
		for _, ev := range m.deferred {
			if m.Acknowledged(ev.UUID) {
				continue
			}
			tr, out := m.step(ev)
			switch out {
			case Deferred:
				rest = append(rest, ev)
				continue
			case Applied, Observed:
				progressed = true
			}
			if tr != nil {
				trs = append(trs, *tr)
			}
		}
		m.deferred = rest
	}
	return trs
}

func (m *Machine) expected() position {
	return position{turn: m.ctx.Turn(), phase: m.phase}
}

func (m *Machine) positionOf(ev domain.StateMachineEvent) position {
	turn := m.ctx.Turn()
	if ev.Turn != nil {
		turn = *ev.Turn
	}
	return position{turn: turn, phase: phaseOf(ev.Type)}
}

// step decides one event against the current position. It acknowledges the
// event unless it is deferred.
func (m *Machine) step(ev domain.StateMachineEvent) (*Transition, Outcome) {
	pos, exp := m.positionOf(ev), m.expected()
	if pos.before(exp) {
		m.ack(ev.UUID)
		return nil, Stale
	}
	phase := m.phase
	if exp.before(pos) {
		// The waiting device has nothing to do on warm-up completion, so it may
		// learn about the turn's end first.
		passiveSkip := pos.turn == exp.turn && exp.phase == phaseWarmUp && pos.phase == phaseBattle && !m.SelfActive()
		if !passiveSkip {
			return nil, Deferred
		}
		phase = phaseBattle
	}

	ctx := m.ctx
	target := m.stage
	switch ev.Type {
	case domain.EventCoinTossComplete:
		phase = phaseWarmUp
		target = domain.StageWaiting
		if m.SelfActive() {
			target = domain.StageWarmUp
		}
	case domain.EventWarmUpComplete:
		phase = phaseBattle
		if m.SelfActive() {
			target = domain.StageBattle
		}
	case domain.EventMoveToNextParticipant, domain.EventMoveToNextRound, domain.EventBattleComplete:
		if ev.Type != m.endEvent() {
			m.ack(ev.UUID)
			return nil, Rejected
		}
		if ev.Type == domain.EventBattleComplete {
			phase = phaseDone
			target = domain.StageComplete
			break
		}
		ctx = advance(ctx, ev.Type)
		phase = phaseWarmUp
		if m.timing.WarmUp <= 0 {
			phase = phaseBattle
		}
		target = domain.StageWaiting
		if ctx.ActiveParticipant() == m.self {
			target = domain.StageWarmUp
			if phase == phaseBattle {
				target = domain.StageBattle
			}
		}
	default:
		m.ack(ev.UUID)
		return nil, Rejected
	}

	if target != m.stage && !allows(m.def, m.stage, ev.Type, target) {
		m.ack(ev.UUID)
		return nil, Rejected
	}

	m.ack(ev.UUID)
	ctx.AcknowledgedUUIDs = m.ctx.AcknowledgedUUIDs
	m.ctx, m.phase = ctx, phase
	if target == m.stage {
		return nil, Observed
	}
	tr := &Transition{From: m.stage, To: target, Event: ev, Actions: stageActions(m.stage, target)}
	m.stage = target
	log.Info().Str("module", "app.battle").Str("from", string(tr.From)).Str("to", string(tr.To)).Str("event", string(ev.Type)).Int("round", ctx.ActiveRoundIndex).Int("participant_index", ctx.CurrentParticipantIndex).Msg("stage changed")
	return tr, Applied
}

func advance(ctx domain.MachineContext, t domain.EventType) domain.MachineContext {
	switch t {
	case domain.EventMoveToNextParticipant:
		ctx.CurrentParticipantIndex++
	case domain.EventMoveToNextRound:
		ctx.ActiveRoundIndex++
		ctx.CurrentParticipantIndex = 0
	}
	return ctx
}

// endEvent is the event that closes the current turn.
func (m *Machine) endEvent() domain.EventType {
	lastParticipant := m.ctx.CurrentParticipantIndex >= len(m.ctx.ParticipantIDs)-1
	lastRound := m.ctx.ActiveRoundIndex >= m.ctx.TotalNumberOfRounds-1
	switch {
	case lastParticipant && lastRound:
		return domain.EventBattleComplete
	case lastParticipant:
		return domain.EventMoveToNextRound
	}
	return domain.EventMoveToNextParticipant
}

// Timer is the length of the timer this device runs in the current stage.
// The coin toss runs on both devices; warm-up and battle only on the active one.
func (m *Machine) Timer() (time.Duration, bool) {
	switch m.stage {
	case domain.StageCoinToss:
		return m.timing.CoinToss, true
	case domain.StageWarmUp:
		if m.SelfActive() {
			return m.timing.WarmUp, true
		}
	case domain.StageBattle:
		if m.SelfActive() {
			d := m.timing.Turn - m.timing.WarmUp
			if d <= 0 {
				d = m.timing.Turn
			}
			return d, true
		}
	}
	return 0, false
}

// Timeout builds the local event raised when the current stage timer expires.
// The caller applies it like any other event.
func (m *Machine) Timeout(now time.Time) (domain.StateMachineEvent, bool) {
	if _, ok := m.Timer(); !ok {
		return domain.StateMachineEvent{}, false
	}
	var t domain.EventType
	switch m.stage {
	case domain.StageCoinToss:
		t = domain.EventCoinTossComplete
	case domain.StageWarmUp:
		t = domain.EventWarmUpComplete
	default:
		t = m.endEvent()
	}
	turn := m.ctx.Turn()
	return domain.StateMachineEvent{
		UUID:                     uuid.NewString(),
		Type:                     t,
		TriggeredByParticipantID: m.self,
		CreatedAt:                now,
		Turn:                     &turn,
	}, true
}

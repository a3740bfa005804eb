package battle

import (
	"errors"
	"fmt"

	"github.com/dkeye/Barz/internal/domain"
)

var ErrInvalidDefinition = errors.New("invalid state machine definition")

// DefaultDefinition is the built-in machine used when the backend does not
// deliver a usable one.
func DefaultDefinition() domain.MachineDefinition {
	return domain.MachineDefinition{
		ID:      "battle",
		Version: "builtin",
		Initial: domain.StageCoinToss,
		Transitions: []domain.TransitionRule{
			{From: domain.StageCoinToss, Event: domain.EventCoinTossComplete, To: []domain.Stage{domain.StageWarmUp, domain.StageWaiting}},
			{From: domain.StageWarmUp, Event: domain.EventWarmUpComplete, To: []domain.Stage{domain.StageBattle}},
			{From: domain.StageBattle, Event: domain.EventMoveToNextParticipant, To: []domain.Stage{domain.StageWaiting}},
			{From: domain.StageBattle, Event: domain.EventMoveToNextRound, To: []domain.Stage{domain.StageWaiting}},
			{From: domain.StageBattle, Event: domain.EventBattleComplete, To: []domain.Stage{domain.StageComplete}},
			{From: domain.StageWaiting, Event: domain.EventMoveToNextParticipant, To: []domain.Stage{domain.StageWarmUp, domain.StageBattle}},
			{From: domain.StageWaiting, Event: domain.EventMoveToNextRound, To: []domain.Stage{domain.StageWarmUp, domain.StageBattle}},
			{From: domain.StageWaiting, Event: domain.EventBattleComplete, To: []domain.Stage{domain.StageComplete}},
		},
	}
}

var knownEvents = map[domain.EventType]struct{}{
	domain.EventCoinTossComplete:      {},
	domain.EventWarmUpComplete:        {},
	domain.EventMoveToNextParticipant: {},
	domain.EventMoveToNextRound:       {},
	domain.EventBattleComplete:        {},
}

// Validate checks that every edge of def is an edge of the fixed stage graph.
func Validate(def domain.MachineDefinition) error {
	if def.Initial != domain.StageCoinToss {
		return fmt.Errorf("%w: initial stage %q", ErrInvalidDefinition, def.Initial)
	}
	if len(def.Transitions) == 0 {
		return fmt.Errorf("%w: no transitions", ErrInvalidDefinition)
	}
	for _, r := range def.Transitions {
		if _, ok := knownEvents[r.Event]; !ok {
			return fmt.Errorf("%w: unknown event %q", ErrInvalidDefinition, r.Event)
		}
		if len(r.To) == 0 {
			return fmt.Errorf("%w: %s on %s has no target", ErrInvalidDefinition, r.Event, r.From)
		}
		for _, to := range r.To {
			if !domain.CanTransition(r.From, to) {
				return fmt.Errorf("%w: %s -> %s not allowed", ErrInvalidDefinition, r.From, to)
			}
		}
	}
	return nil
}

// Resolve returns def when it is valid and the built-in definition otherwise.
// A nil def resolves silently; an invalid one also returns the validation error.
func Resolve(def *domain.MachineDefinition) (domain.MachineDefinition, error) {
	if def == nil {
		return DefaultDefinition(), nil
	}
	if err := Validate(*def); err != nil {
		return DefaultDefinition(), err
	}
	return *def, nil
}

// allows reports whether def has an edge from --event--> to.
func allows(def domain.MachineDefinition, from domain.Stage, event domain.EventType, to domain.Stage) bool {
	for _, r := range def.Transitions {
		if r.From != from || r.Event != event {
			continue
		}
		for _, t := range r.To {
			if t == to {
				return true
			}
		}
	}
	return false
}

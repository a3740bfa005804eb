package domain

// Stage is a battle stage as reported in check-ins.
type Stage string

const (
	StageCoinToss Stage = "COIN_TOSS"
	StageWarmUp   Stage = "WARM_UP"
	StageBattle   Stage = "BATTLE"
	StageWaiting  Stage = "WAITING"
	StageComplete Stage = "COMPLETE"
)

// StageGraph is the fixed per-device stage graph. The participant going second
// waits straight after the coin toss and the owner of the final turn completes
// from BATTLE.
var StageGraph = map[Stage][]Stage{
	StageCoinToss: {StageWarmUp, StageWaiting},
	StageWarmUp:   {StageBattle},
	StageBattle:   {StageWaiting, StageComplete},
	StageWaiting:  {StageWarmUp, StageBattle, StageComplete},
	StageComplete: nil,
}

func CanTransition(from, to Stage) bool {
	for _, s := range StageGraph[from] {
		if s == to {
			return true
		}
	}
	return false
}

// MachineContext is the turn bookkeeping shared by both devices.
type MachineContext struct {
	BattleID                BattleID        `json:"battleId"`
	ActiveRoundIndex        int             `json:"activeRoundIndex"`
	TotalNumberOfRounds     int             `json:"totalNumberOfRounds"`
	CurrentParticipantIndex int             `json:"currentParticipantIndex"`
	ParticipantIDs          []ParticipantID `json:"participantIds"`
	AcknowledgedUUIDs       []string        `json:"acknowledgedMessageUuids"`
}

// Turn returns the position the context is at.
func (c MachineContext) Turn() Turn {
	return Turn{Round: c.ActiveRoundIndex, Participant: c.CurrentParticipantIndex}
}

// ActiveParticipant is the id whose turn it is.
func (c MachineContext) ActiveParticipant() ParticipantID {
	if c.CurrentParticipantIndex < 0 || c.CurrentParticipantIndex >= len(c.ParticipantIDs) {
		return ""
	}
	return c.ParticipantIDs[c.CurrentParticipantIndex]
}

// TransitionRule is one edge of a server-delivered machine definition: event
// may fire in From and lead to one of To.
type TransitionRule struct {
	From  Stage     `json:"from"`
	Event EventType `json:"event"`
	To    []Stage   `json:"to"`
}

type MachineDefinition struct {
	ID          string           `json:"id"`
	Version     string           `json:"version"`
	Initial     Stage            `json:"initial"`
	Transitions []TransitionRule `json:"transitions"`
}

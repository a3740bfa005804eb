package domain

import "time"

type EventType string

const (
	EventCoinTossComplete      EventType = "COIN_TOSS_COMPLETE"
	EventWarmUpComplete        EventType = "WARM_UP_COMPLETE"
	EventMoveToNextParticipant EventType = "MOVE_TO_NEXT_PARTICIPANT"
	EventMoveToNextRound       EventType = "MOVE_TO_NEXT_ROUND"
	EventBattleComplete        EventType = "BATTLE_COMPLETE"
)

// Turn is a (round, participant index) position in the turn cycle.
type Turn struct {
	Round       int `json:"activeRoundIndex"`
	Participant int `json:"currentParticipantIndex"`
}

// Before orders turns by round then participant.
func (t Turn) Before(o Turn) bool {
	if t.Round != o.Round {
		return t.Round < o.Round
	}
	return t.Participant < o.Participant
}

// StateMachineEvent is a UUID-tagged battle transition. UUID is the
// deduplication key; Turn is the position the event was raised in.
type StateMachineEvent struct {
	UUID                     string        `json:"uuid"`
	Type                     EventType     `json:"type"`
	TriggeredByParticipantID ParticipantID `json:"triggeredByParticipantId,omitempty"`
	CreatedAt                time.Time     `json:"createdAt"`
	Turn                     *Turn         `json:"turn,omitempty"`
}

// EventPayload is the body stored by the backend for a posted event.
type EventPayload struct {
	UUID      string    `json:"uuid"`
	Type      EventType `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
	Turn      *Turn     `json:"turn,omitempty"`
}

func (e StateMachineEvent) Payload() EventPayload {
	return EventPayload{UUID: e.UUID, Type: e.Type, CreatedAt: e.CreatedAt, Turn: e.Turn}
}

// RecordedEvent is an entry of a battle's durable event log.
type RecordedEvent struct {
	ClientGeneratedUUID      string        `json:"clientGeneratedUuid"`
	TriggeredByParticipantID ParticipantID `json:"triggeredByParticipantId"`
	Payload                  EventPayload  `json:"payload"`
	CreatedAt                time.Time     `json:"createdAt"`
}

func (r RecordedEvent) Event() StateMachineEvent {
	id := r.ClientGeneratedUUID
	if id == "" {
		id = r.Payload.UUID
	}
	created := r.Payload.CreatedAt
	if created.IsZero() {
		created = r.CreatedAt
	}
	return StateMachineEvent{
		UUID:                     id,
		Type:                     r.Payload.Type,
		TriggeredByParticipantID: r.TriggeredByParticipantID,
		CreatedAt:                created,
		Turn:                     r.Payload.Turn,
	}
}

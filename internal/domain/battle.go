package domain

import (
	"errors"
	"sort"
	"time"
)

// BattleParticipants is the fixed size of a battle once assigned.
const BattleParticipants = 2

var (
	ErrParticipantCount     = errors.New("battle must have exactly two participants")
	ErrDuplicateParticipant = errors.New("battle participants must be distinct")
	ErrNotInBattle          = errors.New("participant is not part of the battle")
)

type Battle struct {
	ID                   BattleID        `json:"id"`
	StartedAt            *time.Time      `json:"startedAt"`
	CompletedAt          *time.Time      `json:"completedAt"`
	MadeInactiveAt       *time.Time      `json:"madeInactiveAt"`
	MadeInactiveReason   string          `json:"madeInactiveReason"`
	NumberOfRounds       int             `json:"numberOfRounds"`
	TurnLengthSeconds    int             `json:"turnLengthSeconds"`
	WarmupLengthSeconds  int             `json:"warmupLengthSeconds"`
	TwilioRoomName       string          `json:"twilioRoomName"`
	BeatID               string          `json:"beatId"`
	ComputedPrivacyLevel PrivacyLevel    `json:"computedPrivacyLevel"`
	Participants         []Participant   `json:"participants"`
	StateMachineEvents   []RecordedEvent `json:"stateMachineEvents"`
}

func (b *Battle) Inactive() bool { return b.MadeInactiveAt != nil }

// Validate enforces the exactly-two distinct participants invariant.
func (b *Battle) Validate() error {
	if len(b.Participants) != BattleParticipants {
		return ErrParticipantCount
	}
	if b.Participants[0].ID == b.Participants[1].ID {
		return ErrDuplicateParticipant
	}
	return nil
}

// Participant returns a pointer into the battle's participant list.
func (b *Battle) Participant(id ParticipantID) (*Participant, bool) {
	for i := range b.Participants {
		if b.Participants[i].ID == id {
			return &b.Participants[i], true
		}
	}
	return nil, false
}

func (b *Battle) ParticipantByUser(uid UserID) (*Participant, bool) {
	for i := range b.Participants {
		if b.Participants[i].UserID == uid {
			return &b.Participants[i], true
		}
	}
	return nil, false
}

// Opponent is the participant whose id differs from self.
func (b *Battle) Opponent(self ParticipantID) (*Participant, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if _, ok := b.Participant(self); !ok {
		return nil, ErrNotInBattle
	}
	for i := range b.Participants {
		if b.Participants[i].ID != self {
			return &b.Participants[i], nil
		}
	}
	return nil, ErrNotInBattle
}

// ReplaceParticipant overwrites the list entry with p's id, if present.
func (b *Battle) ReplaceParticipant(p Participant) bool {
	cur, ok := b.Participant(p.ID)
	if ok {
		*cur = p
	}
	return ok
}

// OrderedParticipantIDs returns ids by turn order; unassigned orders sort last, ties by id.
func (b *Battle) OrderedParticipantIDs() []ParticipantID {
	ps := make([]Participant, len(b.Participants))
	copy(ps, b.Participants)
	sort.SliceStable(ps, func(i, j int) bool {
		oi, oj := ps[i].OrderOr(len(ps)), ps[j].OrderOr(len(ps))
		if oi != oj {
			return oi < oj
		}
		return ps[i].ID < ps[j].ID
	})
	ids := make([]ParticipantID, len(ps))
	for i := range ps {
		ids[i] = ps[i].ID
	}
	return ids
}

func (b *Battle) ComputePrivacy() PrivacyLevel { return ComputePrivacy(b.Participants) }

// Events returns the durable event log in arrival order.
func (b *Battle) Events() []StateMachineEvent {
	out := make([]StateMachineEvent, 0, len(b.StateMachineEvents))
	for _, r := range b.StateMachineEvents {
		out = append(out, r.Event())
	}
	return out
}

func MergeBattle(cur Battle, delta []byte) (Battle, error) {
	return mergeJSON(cur, delta)
}

type Beat struct {
	ID      string `json:"id"`
	BeatURL string `json:"beatUrl"`
}

type ProjectedOutcome struct {
	StartingScore   float64 `json:"startingScore"`
	ProjectedScores struct {
		Win  float64 `json:"win"`
		Loss float64 `json:"loss"`
		Tie  float64 `json:"tie"`
	} `json:"projectedScores"`
}

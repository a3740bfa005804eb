package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(v int) *int { return &v }

func twoParticipants() Battle {
	return Battle{
		ID: "b1",
		Participants: []Participant{
			{ID: "p2", UserID: "u2", Order: intp(1)},
			{ID: "p1", UserID: "u1", Order: intp(0)},
		},
	}
}

func TestBattle_Opponent(t *testing.T) {
	b := twoParticipants()

	opp, err := b.Opponent("p1")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID("p2"), opp.ID)

	opp, err = b.Opponent("p2")
	require.NoError(t, err)
	assert.Equal(t, ParticipantID("p1"), opp.ID)

	_, err = b.Opponent("p3")
	assert.ErrorIs(t, err, ErrNotInBattle)
}

func TestBattle_ValidateParticipantCount(t *testing.T) {
	b := twoParticipants()
	require.NoError(t, b.Validate())

	b.Participants = b.Participants[:1]
	assert.ErrorIs(t, b.Validate(), ErrParticipantCount)
	_, err := b.Opponent("p1")
	assert.ErrorIs(t, err, ErrParticipantCount)

	b = twoParticipants()
	b.Participants[1].ID = "p2"
	assert.ErrorIs(t, b.Validate(), ErrDuplicateParticipant)
}

func TestBattle_OrderedParticipantIDs(t *testing.T) {
	b := twoParticipants()
	assert.Equal(t, []ParticipantID{"p1", "p2"}, b.OrderedParticipantIDs())

	b.Participants[1].Order = nil
	assert.Equal(t, []ParticipantID{"p2", "p1"}, b.OrderedParticipantIDs())
}

func TestComputePrivacy(t *testing.T) {
	cases := []struct {
		name string
		a, b PrivacyLevel
		want PrivacyLevel
	}{
		{"both public", PrivacyPublic, PrivacyPublic, PrivacyPublic},
		{"one private", PrivacyPrivate, PrivacyPublic, PrivacyPrivate},
		{"one unset", PrivacyUnset, PrivacyPublic, PrivacyPrivate},
		{"both private", PrivacyPrivate, PrivacyPrivate, PrivacyPrivate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := twoParticipants()
			b.Participants[0].RequestedPrivacyLevel = tc.a
			b.Participants[1].RequestedPrivacyLevel = tc.b
			assert.Equal(t, tc.want, b.ComputePrivacy())
		})
	}
	assert.Equal(t, PrivacyPrivate, ComputePrivacy(nil))
}

func TestMergeParticipant_OverlaysOnlyPresentKeys(t *testing.T) {
	ready := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cur := Participant{ID: "p1", UserID: "u1", ReadyForBattleAt: &ready, RequestedPrivacyLevel: PrivacyPublic}

	got, err := MergeParticipant(cur, []byte(`{"battleId":"b1","order":1}`))
	require.NoError(t, err)
	assert.Equal(t, BattleID("b1"), got.BattleID)
	assert.Equal(t, 1, got.OrderOr(-1))
	assert.Equal(t, PrivacyPublic, got.RequestedPrivacyLevel)
	require.NotNil(t, got.ReadyForBattleAt)
	assert.True(t, ready.Equal(*got.ReadyForBattleAt))
	assert.NotSame(t, cur.ReadyForBattleAt, got.ReadyForBattleAt)

	got, err = MergeParticipant(got, []byte(`{"readyForBattleAt":null}`))
	require.NoError(t, err)
	assert.Nil(t, got.ReadyForBattleAt)
	assert.NotNil(t, cur.ReadyForBattleAt)

	_, err = MergeParticipant(cur, []byte(`not json`))
	assert.Error(t, err)
}

func TestMergeParticipant_InactivityIsTerminal(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cur := Participant{ID: "p1", MadeInactiveAt: &at, MadeInactiveReason: ReasonAutoForfeit}

	got, err := MergeParticipant(cur, []byte(`{"madeInactiveAt":null,"madeInactiveReason":""}`))
	require.NoError(t, err)
	require.True(t, got.Inactive())
	assert.True(t, at.Equal(*got.MadeInactiveAt))
	assert.Equal(t, ReasonAutoForfeit, got.MadeInactiveReason)
}

func TestRecordedEvent_Event(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := RecordedEvent{
		ClientGeneratedUUID:      "e1",
		TriggeredByParticipantID: "p1",
		Payload:                  EventPayload{Type: EventBattleComplete, Turn: &Turn{Round: 1, Participant: 1}},
		CreatedAt:                at,
	}
	ev := r.Event()
	assert.Equal(t, "e1", ev.UUID)
	assert.Equal(t, EventBattleComplete, ev.Type)
	assert.Equal(t, at, ev.CreatedAt)
	assert.Equal(t, Turn{Round: 1, Participant: 1}, *ev.Turn)

	r.ClientGeneratedUUID = ""
	r.Payload.UUID = "e2"
	assert.Equal(t, "e2", r.Event().UUID)
}

func TestTurn_Before(t *testing.T) {
	assert.True(t, Turn{0, 0}.Before(Turn{0, 1}))
	assert.True(t, Turn{0, 1}.Before(Turn{1, 0}))
	assert.False(t, Turn{1, 0}.Before(Turn{1, 0}))
	assert.False(t, Turn{1, 0}.Before(Turn{0, 1}))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StageCoinToss, StageWarmUp))
	assert.True(t, CanTransition(StageWaiting, StageComplete))
	assert.False(t, CanTransition(StageBattle, StageWarmUp))
	assert.False(t, CanTransition(StageComplete, StageCoinToss))
}

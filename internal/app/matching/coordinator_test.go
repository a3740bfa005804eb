package matching

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dkeye/Barz/internal/app/apptest"
	"github.com/dkeye/Barz/internal/app/battle"
	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockPermissions struct {
	mock.Mock
}

func (m *mockPermissions) Check(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func matchedBattle() domain.Battle {
	zero, one := 0, 1
	return domain.Battle{
		ID:                "b1",
		NumberOfRounds:    1,
		TurnLengthSeconds: 40,
		Participants: []domain.Participant{
			{ID: "p1", UserID: "u1", BattleID: "b1", Order: &zero},
			{ID: "p2", UserID: "u2", BattleID: "b1", Order: &one},
		},
	}
}

func TestCreateParticipant(t *testing.T) {
	gw := apptest.NewGateway()
	gw.QueueParticipant(domain.Participant{ID: "p1"})
	c := New(gw, &mockPermissions{})

	p, err := c.CreateParticipant(context.Background(), domain.MatchingRandom)
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("p1"), p.ID)
	assert.Equal(t, domain.MatchingRandom, gw.Calls("CreateParticipant")[0].Arg)

	gw.Fail("CreateParticipant", apptest.Status("creating participant", http.StatusUnprocessableEntity))
	_, err = c.CreateParticipant(context.Background(), domain.MatchingDefault)
	assert.ErrorIs(t, err, ErrCreation)
	assert.ErrorContains(t, err, "422")
}

func TestStartChallenge_DecisionPoint(t *testing.T) {
	gw := apptest.NewGateway()
	gw.SetChallenging(true)
	c := New(gw, &mockPermissions{})

	res, err := c.StartChallenge(context.Background(), "u2", false)
	require.NoError(t, err)
	assert.True(t, res.NeedsConfirmation)
	assert.Zero(t, gw.Count("CreateChallenge"))

	res, err = c.StartChallenge(context.Background(), "u2", true)
	require.NoError(t, err)
	assert.False(t, res.NeedsConfirmation)
	require.NotNil(t, res.Challenge)
	assert.Equal(t, domain.UserID("u2"), res.Challenge.ChallengedUserID)
	assert.Equal(t, 1, gw.Count("IsChallenging"))
}

func TestStartChallenge_Errors(t *testing.T) {
	gw := apptest.NewGateway()
	c := New(gw, &mockPermissions{})

	_, err := c.StartChallenge(context.Background(), "", false)
	assert.ErrorIs(t, err, ErrCreation)
	assert.ErrorIs(t, err, domain.ErrUserIDEmpty)

	gw.Fail("CreateChallenge", errors.New("boom"))
	_, err = c.StartChallenge(context.Background(), "u2", false)
	assert.ErrorIs(t, err, ErrCreation)
}

func TestResumeChallenge(t *testing.T) {
	gw := apptest.NewGateway()
	c := New(gw, &mockPermissions{})

	ch, err := c.ResumeChallenge(context.Background(), domain.Challenge{ID: "c1", Status: domain.ChallengePending})
	require.NoError(t, err)
	assert.Equal(t, domain.ChallengeID("c1"), ch.ID)
	assert.Equal(t, 1, gw.Count("CheckinChallenge"))

	_, err = c.ResumeChallenge(context.Background(), domain.Challenge{ID: "c1", Status: domain.ChallengeCancelled})
	assert.ErrorIs(t, err, ErrChallengeClosed)
}

func TestBootstrap(t *testing.T) {
	// Arrange
	gw := apptest.NewGateway()
	gw.PutBattle(matchedBattle())
	gw.PutUser(domain.User{ID: "u2", Handle: "mc-two"})
	custom := battle.DefaultDefinition()
	custom.Version = "7"
	gw.SetDefinition(&custom)
	c := New(gw, &mockPermissions{})

	// Act
	bs, err := c.Bootstrap(context.Background(), "b1", "p1")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("p1"), bs.Self.ID)
	assert.Equal(t, domain.ParticipantID("p2"), bs.Opponent.ID)
	require.NotNil(t, bs.OpponentUser)
	assert.Equal(t, "mc-two", bs.OpponentUser.Handle)
	assert.Equal(t, "beat-1", bs.Beat.ID)
	assert.Equal(t, "7", bs.Definition.Version)
	require.NotNil(t, bs.Outcome)

	bs, err = c.Bootstrap(context.Background(), "b1", "p2")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("p1"), bs.Opponent.ID)
}

func TestBootstrap_OptionalParts(t *testing.T) {
	gw := apptest.NewGateway()
	gw.PutBattle(matchedBattle())
	bad := battle.DefaultDefinition()
	bad.Initial = domain.StageBattle
	gw.SetDefinition(&bad)
	gw.Fail("GetProjectedOutcome", errors.New("unavailable"))
	c := New(gw, &mockPermissions{})

	bs, err := c.Bootstrap(context.Background(), "b1", "p1")
	require.NoError(t, err)
	assert.Equal(t, "builtin", bs.Definition.Version)
	assert.Nil(t, bs.Outcome)
	assert.Nil(t, bs.OpponentUser)
}

func TestBootstrap_Failures(t *testing.T) {
	gw := apptest.NewGateway()
	gw.PutBattle(matchedBattle())
	c := New(gw, &mockPermissions{})

	_, err := c.Bootstrap(context.Background(), "b1", "p9")
	assert.ErrorIs(t, err, domain.ErrNotInBattle)

	gw.Fail("GetBeat", errors.New("no beat"))
	_, err = c.Bootstrap(context.Background(), "b1", "p1")
	assert.ErrorContains(t, err, "bootstrap beat")

	three := matchedBattle()
	three.Participants = append(three.Participants, domain.Participant{ID: "p3"})
	gw.Fail("GetBeat", nil)
	gw.PutBattle(three)
	_, err = c.Bootstrap(context.Background(), "b1", "p1")
	assert.ErrorIs(t, err, domain.ErrParticipantCount)
}

func TestMarkReady(t *testing.T) {
	gw := apptest.NewGateway()
	gw.PutBattle(matchedBattle())
	perms := &mockPermissions{}
	perms.On("Check", mock.Anything).Return(nil).Once()
	c := New(gw, perms)

	require.NoError(t, c.MarkReady(context.Background(), "p1"))
	p := gw.Participant("p1")
	assert.True(t, p.Ready())
	perms.AssertExpectations(t)
}

func TestMarkReady_PermissionDenied(t *testing.T) {
	gw := apptest.NewGateway()
	gw.PutBattle(matchedBattle())
	perms := &mockPermissions{}
	perms.On("Check", mock.Anything).Return(core.ErrPermissionsDenied)
	c := New(gw, perms)

	err := c.MarkReady(context.Background(), "p1")
	assert.ErrorIs(t, err, ErrPermissionsDenied)
	require.Equal(t, 1, gw.Count("Leave"))
	assert.Equal(t, domain.ReasonMediaPermissionsNotGranted, gw.Calls("Leave")[0].Arg)
	assert.Zero(t, gw.Count("MarkReady"))

	// Notifying the backend is best-effort.
	gw.Fail("Leave", errors.New("offline"))
	assert.ErrorIs(t, c.MarkReady(context.Background(), "p1"), ErrPermissionsDenied)
}

func TestRequestPrivacy(t *testing.T) {
	gw := apptest.NewGateway()
	c := New(gw, &mockPermissions{})

	assert.Error(t, c.RequestPrivacy(context.Background(), "p1", domain.PrivacyUnset))
	assert.Zero(t, gw.Count("RequestPrivacy"))
	require.NoError(t, c.RequestPrivacy(context.Background(), "p1", domain.PrivacyPublic))
	assert.Equal(t, domain.PrivacyPublic, gw.Calls("RequestPrivacy")[0].Arg)
}

func TestReadyToEnter(t *testing.T) {
	now := time.Now()
	b := matchedBattle()
	assert.False(t, ReadyToEnter(b))

	b.Participants[0].ReadyForBattleAt = &now
	assert.False(t, ReadyToEnter(b))

	b.Participants[1].ReadyForBattleAt = &now
	assert.True(t, ReadyToEnter(b))

	b.Participants = b.Participants[:1]
	assert.False(t, ReadyToEnter(b))
}

func TestPrivacyTxn(t *testing.T) {
	now := time.Now()
	var txn PrivacyTxn
	cur := domain.Participant{ID: "p1", RequestedPrivacyLevel: domain.PrivacyPrivate, ReadyForBattleAt: &now}

	next, tx := txn.Begin(cur, domain.PrivacyPublic)
	assert.Equal(t, domain.PrivacyPublic, next.RequestedPrivacyLevel)
	assert.Nil(t, next.ReadyForBattleAt)
	assert.NotNil(t, cur.ReadyForBattleAt)

	restored, ok := txn.Rollback(tx, next)
	assert.True(t, ok)
	assert.Equal(t, domain.PrivacyPrivate, restored.RequestedPrivacyLevel)
	assert.Equal(t, &now, restored.ReadyForBattleAt)

	// A newer request supersedes the older one.
	s1, tx1 := txn.Begin(cur, domain.PrivacyPublic)
	s2, tx2 := txn.Begin(s1, domain.PrivacyPrivate)
	same, ok := txn.Rollback(tx1, s2)
	assert.False(t, ok)
	assert.Equal(t, s2, same)
	assert.False(t, txn.Commit(tx1))
	assert.True(t, txn.Commit(tx2))
}

func TestDescribeInactive(t *testing.T) {
	poor := "Matching was terminated. Is your network connection poor?"
	assert.Equal(t, poor, DescribeInactive(""))
	assert.Equal(t, poor, DescribeInactive(domain.ReasonUnknown))
	assert.Contains(t, DescribeInactive("BANNED"), "Reason: BANNED")
	assert.Contains(t, DescribeInactive(domain.ReasonParticipantLeft), "left")
}

func TestParticipantForUser(t *testing.T) {
	gw := apptest.NewGateway()
	gw.PutBattle(matchedBattle())
	c := New(gw, &mockPermissions{})

	p, err := c.ParticipantForUser(context.Background(), "b1", "u2")
	require.NoError(t, err)
	assert.Equal(t, domain.ParticipantID("p2"), p.ID)

	_, err = c.ParticipantForUser(context.Background(), "b1", "u9")
	assert.ErrorIs(t, err, domain.ErrNotInBattle)
}

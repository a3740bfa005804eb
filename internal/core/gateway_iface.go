package core

import (
	"context"

	"github.com/dkeye/Barz/internal/domain"
)

// Gateway is the request/response contract of the battle backend.
type Gateway interface {
	ChannelAuthorizer

	CreateParticipant(ctx context.Context, alg domain.MatchingAlgorithm) (*domain.Participant, error)
	GetParticipant(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error)
	CreateVideoToken(ctx context.Context, id domain.ParticipantID) (string, error)
	MarkReady(ctx context.Context, id domain.ParticipantID) error
	RequestPrivacy(ctx context.Context, id domain.ParticipantID, level domain.PrivacyLevel) error
	StoreTrackIDs(ctx context.Context, id domain.ParticipantID, ids domain.TrackIDs) error
	Checkin(ctx context.Context, id domain.ParticipantID, p domain.CheckinPayload) error
	UpdateAppState(ctx context.Context, id domain.ParticipantID, state domain.AppState) error
	PostEvent(ctx context.Context, id domain.ParticipantID, ev domain.StateMachineEvent) error
	Leave(ctx context.Context, id domain.ParticipantID, reason string) error

	GetBattle(ctx context.Context, id domain.BattleID) (*domain.Battle, error)
	GetDefinition(ctx context.Context, id domain.BattleID) (*domain.MachineDefinition, error)
	GetBeat(ctx context.Context, id domain.BattleID) (*domain.Beat, error)
	GetProjectedOutcome(ctx context.Context, id domain.BattleID) (*domain.ProjectedOutcome, error)

	CreateChallenge(ctx context.Context, target domain.UserID) (*domain.Challenge, error)
	LeaveChallenge(ctx context.Context, id domain.ChallengeID) error
	CancelChallenge(ctx context.Context, id domain.ChallengeID) (*domain.Challenge, error)
	CheckinChallenge(ctx context.Context, id domain.ChallengeID) error
	IsChallenging(ctx context.Context) (bool, error)
	GetUser(ctx context.Context, id domain.UserID) (*domain.User, error)
}

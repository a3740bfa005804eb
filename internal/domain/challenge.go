package domain

import "time"

type ChallengeID string

type ChallengeStatus string

const (
	ChallengePending   ChallengeStatus = "PENDING"
	ChallengeStarted   ChallengeStatus = "STARTED"
	ChallengeCancelled ChallengeStatus = "CANCELLED"
)

type Challenge struct {
	ID                ChallengeID     `json:"id"`
	CreatedByUserID   UserID          `json:"createdByUserId"`
	ChallengedUserID  UserID          `json:"challengedUserId"`
	ChallengedUser    *User           `json:"challengedUser,omitempty"`
	Status            ChallengeStatus `json:"status"`
	StartedAt         *time.Time      `json:"startedAt"`
	CancelledAt       *time.Time      `json:"cancelledAt"`
	CancelledByUserID UserID          `json:"cancelledByUserId"`
	BattleID          BattleID        `json:"battleId"`
}

// Terminal reports STARTED or CANCELLED; neither ever changes again.
func (c *Challenge) Terminal() bool {
	return c.Status == ChallengeStarted || c.Status == ChallengeCancelled
}

func MergeChallenge(cur Challenge, delta []byte) (Challenge, error) {
	return mergeJSON(cur, delta)
}

package matching

import (
	"github.com/dkeye/Barz/internal/domain"
)

// ReadyToEnter is the readiness gate: both participants exist and both have
// a ready-at.
func ReadyToEnter(b domain.Battle) bool {
	if b.Validate() != nil {
		return false
	}
	for i := range b.Participants {
		if !b.Participants[i].Ready() {
			return false
		}
	}
	return true
}

// PrivacyTxn tracks optimistic privacy requests. Only the latest transaction
// may commit or roll back; older results are ignored.
type PrivacyTxn struct {
	latest uint64
}

type PrivacyTx struct {
	ID    uint64
	Level domain.PrivacyLevel
	prior domain.Participant
}

// Begin applies level optimistically. The participant must ready again after
// a privacy change, so ready-at is cleared.
func (t *PrivacyTxn) Begin(cur domain.Participant, level domain.PrivacyLevel) (domain.Participant, PrivacyTx) {
	t.latest++
	tx := PrivacyTx{ID: t.latest, Level: level, prior: cur}
	next := cur
	next.RequestedPrivacyLevel = level
	next.ReadyForBattleAt = nil
	return next, tx
}

func (t *PrivacyTxn) Commit(tx PrivacyTx) bool {
	return tx.ID == t.latest
}

// Rollback restores the fields the transaction changed on cur to their prior
// values. It reports false when a newer transaction superseded tx.
func (t *PrivacyTxn) Rollback(tx PrivacyTx, cur domain.Participant) (domain.Participant, bool) {
	if tx.ID != t.latest {
		return cur, false
	}
	cur.RequestedPrivacyLevel = tx.prior.RequestedPrivacyLevel
	cur.ReadyForBattleAt = tx.prior.ReadyForBattleAt
	return cur, true
}

// DescribeInactive is the user-facing text for an inactivity reason.
func DescribeInactive(reason string) string {
	switch reason {
	case "", domain.ReasonUnknown:
		return "Matching was terminated. Is your network connection poor?"
	case domain.ReasonMediaPermissionsNotGranted:
		return "Matching was terminated. Camera and microphone access is required to battle."
	case domain.ReasonParticipantLeft:
		return "The battle ended because a participant left."
	case domain.ReasonAutoForfeit:
		return "The battle ended because a participant stopped responding."
	}
	return "Matching was terminated. Reason: " + reason
}

package session

import (
	"time"

	"github.com/dkeye/Barz/internal/domain"
)

type Phase string

const (
	PhaseIdle                Phase = "IDLE"
	PhaseCreatingParticipant Phase = "CREATING_PARTICIPANT"
	PhaseSearching           Phase = "SEARCHING"
	PhaseCreatingChallenge   Phase = "CREATING_CHALLENGE"
	PhaseConfirmChallenge    Phase = "CONFIRM_CHALLENGE"
	PhaseChallengeWaiting    Phase = "CHALLENGE_WAITING"
	PhaseLoadingBattle       Phase = "LOADING_BATTLE"
	PhasePrivacy             Phase = "PRIVACY"
	PhaseReady               Phase = "READY"
	PhaseInBattle            Phase = "IN_BATTLE"
	PhaseSummary             Phase = "SUMMARY"
)

// Countdown is a running offline countdown.
type Countdown struct {
	Action   string    `json:"action"`
	Deadline time.Time `json:"deadline"`
}

// State is a read-only copy of the session for callers outside the loop.
type State struct {
	Phase              Phase                    `json:"phase"`
	Online             bool                     `json:"online"`
	Participant        *domain.Participant      `json:"participant,omitempty"`
	Challenge          *domain.Challenge        `json:"challenge,omitempty"`
	Battle             *domain.Battle           `json:"battle,omitempty"`
	Opponent           *domain.Participant      `json:"opponent,omitempty"`
	OpponentUser       *domain.User             `json:"opponentUser,omitempty"`
	Beat               *domain.Beat             `json:"beat,omitempty"`
	Outcome            *domain.ProjectedOutcome `json:"projectedOutcome,omitempty"`
	ComputedPrivacy    domain.PrivacyLevel      `json:"computedPrivacyLevel,omitempty"`
	Stage              domain.Stage             `json:"stage,omitempty"`
	Context            *domain.MachineContext   `json:"context,omitempty"`
	BattleCompleted    bool                     `json:"battleCompleted"`
	InitialMatchFailed bool                     `json:"initialMatchFailed"`
	Countdown          *Countdown               `json:"countdown,omitempty"`
	VideoConnected     bool                     `json:"videoConnected"`
	PendingEvents      int                      `json:"pendingEvents"`
}

// CanLeave is false once the battle completed; the summary is closed instead.
func (s State) CanLeave() bool {
	return s.Phase != PhaseIdle && !s.BattleCompleted
}

package domain

import "time"

type (
	ParticipantID string
	BattleID      string
)

type ConnectionStatus string

const (
	ConnectionUnknown ConnectionStatus = "UNKNOWN"
	ConnectionOnline  ConnectionStatus = "ONLINE"
	ConnectionOffline ConnectionStatus = "OFFLINE"
)

type MatchingAlgorithm string

const (
	MatchingDefault MatchingAlgorithm = "DEFAULT"
	MatchingRandom  MatchingAlgorithm = "RANDOM"
)

type AppState string

const (
	AppStateActive     AppState = "active"
	AppStateBackground AppState = "background"
	AppStateInactive   AppState = "inactive"
)

// Inactivity reasons the backend records in madeInactiveReason.
const (
	ReasonMediaPermissionsNotGranted = "MEDIA_PERMISSIONS_NOT_GRANTED"
	ReasonParticipantLeft            = "PARTICIPANT_LEFT_BATTLE"
	ReasonAutoForfeit                = "AUTO_FORFEIT_DUE_TO_INACTIVITY"
	ReasonUnknown                    = "UNKNOWN"
)

// Participant is one side of a battle attempt. Ids are never cleared once set,
// nullable timestamps are pointers so a pushed null clears them.
type Participant struct {
	ID                     ParticipantID    `json:"id"`
	UserID                 UserID           `json:"userId"`
	BattleID               BattleID         `json:"battleId"`
	Order                  *int             `json:"order"`
	AssociatedWithBattleAt *time.Time       `json:"associatedWithBattleAt"`
	ReadyForBattleAt       *time.Time       `json:"readyForBattleAt"`
	RequestedPrivacyLevel  PrivacyLevel     `json:"requestedBattlePrivacyLevel"`
	MadeInactiveAt         *time.Time       `json:"madeInactiveAt"`
	MadeInactiveReason     string           `json:"madeInactiveReason"`
	CurrentState           string           `json:"currentState"`
	ConnectionStatus       ConnectionStatus `json:"connectionStatus"`
	InitialMatchFailed     bool             `json:"initialMatchFailed"`
	LastCheckedInAt        *time.Time       `json:"lastCheckedInAt"`
	AppState               AppState         `json:"appState"`
}

func (p *Participant) Ready() bool { return p.ReadyForBattleAt != nil }

func (p *Participant) Inactive() bool { return p.MadeInactiveAt != nil }

func (p *Participant) Matched() bool { return p.BattleID != "" }

// OrderOr returns the turn position or def when the backend has not assigned one yet.
func (p *Participant) OrderOr(def int) int {
	if p.Order == nil {
		return def
	}
	return *p.Order
}

// MergeParticipant overlays a pushed delta onto cur and returns a fresh value
// that shares no pointers with cur. Inactivity is terminal and survives a delta
// that clears it.
func MergeParticipant(cur Participant, delta []byte) (Participant, error) {
	out, err := mergeJSON(cur, delta)
	if err != nil {
		return out, err
	}
	if cur.MadeInactiveAt != nil && out.MadeInactiveAt == nil {
		at := *cur.MadeInactiveAt
		out.MadeInactiveAt = &at
		out.MadeInactiveReason = cur.MadeInactiveReason
	}
	return out, nil
}

// TrackIDs are the published local track identifiers of the video call.
type TrackIDs struct {
	Audio string `json:"twilioAudioTrackId"`
	Video string `json:"twilioVideoTrackId"`
	Data  string `json:"twilioDataTrackId"`
}

// CheckinPayload is what a participant check-in reports.
type CheckinPayload struct {
	CurrentState        Stage           `json:"currentState,omitempty"`
	CurrentContext      *MachineContext `json:"currentContext,omitempty"`
	VideoStreamOffsetMs *int64          `json:"videoStreamOffsetMilliseconds,omitempty"`
}

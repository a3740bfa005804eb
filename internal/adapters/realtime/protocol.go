package realtime

import (
	"bytes"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// Pusher protocol events.
const (
	eventConnectionEstablished = "pusher:connection_established"
	eventError                 = "pusher:error"
	eventPing                  = "pusher:ping"
	eventPong                  = "pusher:pong"
	eventSubscribe             = "pusher:subscribe"
	eventUnsubscribe           = "pusher:unsubscribe"
	eventSubscriptionSucceeded = "pusher_internal:subscription_succeeded"
	eventSubscriptionError     = "pusher:subscription_error"
)

type envelope struct {
	Event   string          `json:"event"`
	Channel string          `json:"channel,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type established struct {
	SocketID        string `json:"socket_id"`
	ActivityTimeout int    `json:"activity_timeout"`
}

type subscribeData struct {
	Channel     string `json:"channel"`
	Auth        string `json:"auth,omitempty"`
	ChannelData string `json:"channel_data,omitempty"`
}

// payload unwraps event data, which the server may send as a JSON-encoded string.
func payload(raw json.RawMessage) ([]byte, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '"' {
		return raw, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode data string: %w", err)
	}
	return []byte(s), nil
}

func encode(event string, data any) ([]byte, error) {
	env := struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data}
	if data == nil {
		env.Data = struct{}{}
	}
	return json.Marshal(env)
}

func needsAuth(channel string) bool {
	return strings.HasPrefix(channel, "private-") || strings.HasPrefix(channel, "presence-")
}

// Channel names.
func ParticipantChannel(id string) string { return "private-battleparticipant-" + id }
func BattleChannel(id string) string      { return "private-battle-" + id }
func BattleEventsChannel(id string) string {
	return "private-battle-" + id + "-events"
}
func UserChallengesChannel(id string) string { return "private-user-" + id + "-challenges" }

// Channel events.
const (
	EventParticipantUpdate     = "battleParticipant.update"
	EventParticipantCreate     = "battleParticipant.create"
	EventBattleUpdate          = "battle.update"
	EventBattleCreate          = "battle.create"
	EventBattleEvent           = "battle.event"
	EventChallengeUpdate       = "challenge.update"
	EventChallengeCreate       = "challenge.create"
	EventChallengeRequestCheck = "challenge.requestCheckIn"
)

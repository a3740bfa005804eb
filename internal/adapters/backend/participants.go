package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dkeye/Barz/internal/domain"
)

func participantPath(id domain.ParticipantID, suffix string) string {
	return "/participants/" + url.PathEscape(string(id)) + suffix
}

func (c *Client) CreateParticipant(ctx context.Context, alg domain.MatchingAlgorithm) (*domain.Participant, error) {
	var out domain.Participant
	body := map[string]domain.MatchingAlgorithm{"matchingAlgorithm": alg}
	if err := c.do(ctx, "creating participant", http.MethodPost, "/participants", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetParticipant(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	var out domain.Participant
	if err := c.do(ctx, "getting participant", http.MethodGet, participantPath(id, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateVideoToken(ctx context.Context, id domain.ParticipantID) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, "generating video token", http.MethodPost, participantPath(id, "/twilio-token"), nil, nil, &out); err != nil {
		return "", err
	}
	return out.Token, nil
}

func (c *Client) MarkReady(ctx context.Context, id domain.ParticipantID) error {
	return c.do(ctx, "marking participant ready", http.MethodPut, participantPath(id, "/ready"), nil, nil, nil)
}

func (c *Client) RequestPrivacy(ctx context.Context, id domain.ParticipantID, level domain.PrivacyLevel) error {
	body := map[string]domain.PrivacyLevel{"requestedBattlePrivacyLevel": level}
	return c.do(ctx, "requesting privacy level", http.MethodPut, participantPath(id, "/privacy"), nil, body, nil)
}

func (c *Client) StoreTrackIDs(ctx context.Context, id domain.ParticipantID, ids domain.TrackIDs) error {
	return c.do(ctx, "storing track ids", http.MethodPut, participantPath(id, "/twilio-track-ids"), nil, ids, nil)
}

func (c *Client) Checkin(ctx context.Context, id domain.ParticipantID, p domain.CheckinPayload) error {
	return c.do(ctx, "checking in participant", http.MethodPut, participantPath(id, "/checkin"), nil, p, nil)
}

func (c *Client) UpdateAppState(ctx context.Context, id domain.ParticipantID, state domain.AppState) error {
	body := map[string]domain.AppState{"appState": state}
	return c.do(ctx, "updating app state", http.MethodPut, participantPath(id, "/app-state"), nil, body, nil)
}

func (c *Client) PostEvent(ctx context.Context, id domain.ParticipantID, ev domain.StateMachineEvent) error {
	body := struct {
		UUID    string              `json:"uuid"`
		Payload domain.EventPayload `json:"payload"`
	}{UUID: ev.UUID, Payload: ev.Payload()}
	return c.do(ctx, "publishing state machine event", http.MethodPost, participantPath(id, "/state-machine-events"), nil, body, nil)
}

func (c *Client) Leave(ctx context.Context, id domain.ParticipantID, reason string) error {
	var q url.Values
	if reason != "" {
		q = url.Values{"reason": {reason}}
	}
	return c.do(ctx, "leaving battle", http.MethodPut, participantPath(id, "/leave"), q, nil, nil)
}

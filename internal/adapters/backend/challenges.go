package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dkeye/Barz/internal/domain"
)

func challengePath(id domain.ChallengeID, suffix string) string {
	return "/challenges/" + url.PathEscape(string(id)) + suffix
}

func (c *Client) CreateChallenge(ctx context.Context, target domain.UserID) (*domain.Challenge, error) {
	var out domain.Challenge
	body := map[string]domain.UserID{"userToChallengeId": target}
	if err := c.do(ctx, "creating challenge", http.MethodPost, "/challenges", nil, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) LeaveChallenge(ctx context.Context, id domain.ChallengeID) error {
	return c.do(ctx, "leaving challenge", http.MethodPut, challengePath(id, "/leave"), nil, nil, nil)
}

func (c *Client) CancelChallenge(ctx context.Context, id domain.ChallengeID) (*domain.Challenge, error) {
	var out domain.Challenge
	if err := c.do(ctx, "cancelling challenge", http.MethodPut, challengePath(id, "/cancel"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CheckinChallenge(ctx context.Context, id domain.ChallengeID) error {
	return c.do(ctx, "checking in challenge", http.MethodPut, challengePath(id, "/checkin"), nil, nil, nil)
}

func (c *Client) IsChallenging(ctx context.Context) (bool, error) {
	var out struct {
		Status bool `json:"status"`
	}
	if err := c.do(ctx, "getting if user me is challenging another user", http.MethodGet, "/users/me/is-challenging", nil, nil, &out); err != nil {
		return false, err
	}
	return out.Status, nil
}

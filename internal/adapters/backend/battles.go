package backend

import (
	"context"
	"net/http"
	"net/url"

	"github.com/dkeye/Barz/internal/domain"
)

func battlePath(id domain.BattleID, suffix string) string {
	return "/battles/" + url.PathEscape(string(id)) + suffix
}

func (c *Client) GetBattle(ctx context.Context, id domain.BattleID) (*domain.Battle, error) {
	var out domain.Battle
	if err := c.do(ctx, "getting battle", http.MethodGet, battlePath(id, ""), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetDefinition(ctx context.Context, id domain.BattleID) (*domain.MachineDefinition, error) {
	var out domain.MachineDefinition
	q := url.Values{"version": {c.version}, "build": {c.build}}
	if err := c.do(ctx, "getting state machine definition", http.MethodGet, battlePath(id, "/state-machine-definition"), q, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetBeat(ctx context.Context, id domain.BattleID) (*domain.Beat, error) {
	var out domain.Beat
	if err := c.do(ctx, "getting beat", http.MethodGet, battlePath(id, "/beat"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetProjectedOutcome(ctx context.Context, id domain.BattleID) (*domain.ProjectedOutcome, error) {
	var out domain.ProjectedOutcome
	if err := c.do(ctx, "getting projected outcome", http.MethodGet, battlePath(id, "/projected-outcome"), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Package backend is the REST gateway to the battle backend.
package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dkeye/Barz/internal/core"
	"github.com/dkeye/Barz/internal/domain"
	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
)

var ErrNoSubject = errors.New("token has no subject")

// APIError is a non-2xx backend response.
type APIError struct {
	Op         string
	StatusCode int
	Status     string
	Body       string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("Error %s: %s", e.Op, e.Status)
	}
	return fmt.Sprintf("Error %s: %s %s", e.Op, e.Status, e.Body)
}

// IsStatus reports whether err is an APIError with the given status code.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

type Options struct {
	BaseURL    string
	Token      string
	Timeout    time.Duration
	AppVersion string
	AppBuild   string
	HTTPClient *http.Client
}

type Client struct {
	base    string
	token   string
	version string
	build   string
	http    *http.Client
}

var _ core.Gateway = (*Client)(nil)

func New(opts Options) *Client {
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		base:    strings.TrimRight(opts.BaseURL, "/") + "/v1",
		token:   opts.Token,
		version: opts.AppVersion,
		build:   opts.AppBuild,
		http:    hc,
	}
}

// UserID reads the local user id from the bearer token's sub claim. The token is
// not verified here; the backend is the verifier.
func UserID(token string) (domain.UserID, error) {
	tok, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("token subject: %w", err)
	}
	if sub == "" {
		return "", ErrNoSubject
	}
	return domain.UserID(sub), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body, out any) error {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: encode body: %w", op, err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		log.Debug().Str("module", "adapters.backend").Str("op", op).Int("status", resp.StatusCode).Msg("request failed")
		return &APIError{Op: op, StatusCode: resp.StatusCode, Status: resp.Status, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) AuthorizeChannel(ctx context.Context, channel, socketID string) (core.ChannelAuth, error) {
	var out core.ChannelAuth
	body := map[string]string{"channelName": channel, "socketId": socketID}
	err := c.do(ctx, "authorizing channel", http.MethodPost, "/pusher/auth", nil, body, &out)
	return out, err
}

func (c *Client) GetUser(ctx context.Context, id domain.UserID) (*domain.User, error) {
	var out domain.User
	if err := c.do(ctx, "getting user", http.MethodGet, "/users/"+url.PathEscape(string(id)), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

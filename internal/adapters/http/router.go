// Package http is the local control surface of the client: a small JSON API
// that drives the session and streams its notices.
package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/dkeye/Barz/internal/app/session"
	"github.com/dkeye/Barz/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Session is what the control API drives.
type Session interface {
	StartMatch(ctx context.Context, alg domain.MatchingAlgorithm) error
	StartChallenge(ctx context.Context, target domain.UserID) error
	ConfirmChallenge(ctx context.Context, proceed bool) error
	ResumeChallenge(ctx context.Context, ch domain.Challenge) error
	MarkReady(ctx context.Context) error
	RequestPrivacy(ctx context.Context, level domain.PrivacyLevel) error
	Leave(ctx context.Context) error
	ReportAppState(ctx context.Context, state domain.AppState) error
	Snapshot(ctx context.Context) (session.State, error)
	Notices() (<-chan session.Notice, func())
}

// NetworkOverride lets the user force the connectivity state.
type NetworkOverride interface {
	Set(online bool)
}

type Options struct {
	Mode   string
	Secret string
}

func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// BearerMiddleware rejects requests without "Authorization: Bearer <secret>".
// An empty secret disables the check.
func BearerMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.Next()
			return
		}
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if token == "" {
			token = c.Query("token")
		}
		if subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

func SetupRouter(ctx context.Context, opts Options, s Session, net NetworkOverride) *gin.Engine {
	switch opts.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	}

	r := gin.New()
	if opts.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	h := &handlers{s: s, net: net}
	api := r.Group("/api", BearerMiddleware(opts.Secret))
	api.GET("/state", h.state)
	api.POST("/match", h.match)
	api.POST("/challenge", h.challenge)
	api.POST("/challenge/confirm", h.confirmChallenge)
	api.POST("/challenge/resume", h.resumeChallenge)
	api.POST("/ready", h.ready)
	api.PUT("/privacy", h.privacy)
	api.POST("/leave", h.leave)
	api.PUT("/app-state", h.appState)
	api.PUT("/connectivity", h.connectivity)
	api.GET("/ws/notices", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("request_id", c.GetString("request_id")).Msg("notice stream opened")
		serveNotices(ctx, c, s)
	})

	log.Info().Str("module", "adapters.http").Bool("auth", opts.Secret != "").Msg("router setup")
	return r
}

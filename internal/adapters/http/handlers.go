package http

import (
	"errors"
	"net/http"

	"github.com/dkeye/Barz/internal/app/session"
	"github.com/dkeye/Barz/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type MatchRequest struct {
	Algorithm domain.MatchingAlgorithm `json:"algorithm" binding:"omitempty,oneof=DEFAULT RANDOM"`
}

type ChallengeRequest struct {
	Target domain.UserID `json:"target" binding:"required,max=36"`
}

type ConfirmRequest struct {
	Proceed *bool `json:"proceed" binding:"required"`
}

type ResumeRequest struct {
	ID domain.ChallengeID `json:"id" binding:"required"`
}

type PrivacyRequest struct {
	Level domain.PrivacyLevel `json:"level" binding:"required,oneof=PUBLIC PRIVATE"`
}

type AppStateRequest struct {
	State domain.AppState `json:"state" binding:"required,oneof=active background inactive"`
}

type ConnectivityRequest struct {
	Online *bool `json:"online" binding:"required"`
}

type handlers struct {
	s   Session
	net NetworkOverride
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrBusy), errors.Is(err, session.ErrWrongPhase):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoFlow):
		return http.StatusNotFound
	case errors.Is(err, session.ErrStopped):
		return http.StatusServiceUnavailable
	}
	return http.StatusBadRequest
}

// reply writes the session state after a command, or the command's error.
func (h *handlers) reply(c *gin.Context, err error) {
	if err != nil {
		log.Debug().Err(err).Str("module", "adapters.http").Str("path", c.FullPath()).Msg("command refused")
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	h.state(c)
}

func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func (h *handlers) state(c *gin.Context) {
	st, err := h.s.Snapshot(c.Request.Context())
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": st, "canLeave": st.CanLeave()})
}

func (h *handlers) match(c *gin.Context) {
	var req MatchRequest
	if c.Request.ContentLength > 0 && !bind(c, &req) {
		return
	}
	h.reply(c, h.s.StartMatch(c.Request.Context(), req.Algorithm))
}

func (h *handlers) challenge(c *gin.Context) {
	var req ChallengeRequest
	if !bind(c, &req) {
		return
	}
	h.reply(c, h.s.StartChallenge(c.Request.Context(), req.Target))
}

func (h *handlers) confirmChallenge(c *gin.Context) {
	var req ConfirmRequest
	if !bind(c, &req) {
		return
	}
	h.reply(c, h.s.ConfirmChallenge(c.Request.Context(), *req.Proceed))
}

func (h *handlers) resumeChallenge(c *gin.Context) {
	var req ResumeRequest
	if !bind(c, &req) {
		return
	}
	ch := domain.Challenge{ID: req.ID, Status: domain.ChallengePending}
	h.reply(c, h.s.ResumeChallenge(c.Request.Context(), ch))
}

func (h *handlers) ready(c *gin.Context) {
	h.reply(c, h.s.MarkReady(c.Request.Context()))
}

func (h *handlers) privacy(c *gin.Context) {
	var req PrivacyRequest
	if !bind(c, &req) {
		return
	}
	h.reply(c, h.s.RequestPrivacy(c.Request.Context(), req.Level))
}

func (h *handlers) leave(c *gin.Context) {
	h.reply(c, h.s.Leave(c.Request.Context()))
}

func (h *handlers) appState(c *gin.Context) {
	var req AppStateRequest
	if !bind(c, &req) {
		return
	}
	h.reply(c, h.s.ReportAppState(c.Request.Context(), req.State))
}

func (h *handlers) connectivity(c *gin.Context) {
	var req ConnectivityRequest
	if !bind(c, &req) {
		return
	}
	if h.net == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "connectivity override unavailable"})
		return
	}
	h.net.Set(*req.Online)
	c.Status(http.StatusNoContent)
}

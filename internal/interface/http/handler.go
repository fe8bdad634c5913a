package http

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yanqian/clinic-console/internal/domain/session"
)

// SessionService is the part of the session manager the console API drives.
type SessionService interface {
	Login(ctx context.Context, creds session.Credentials) (session.LoginResponse, error)
	Logout(ctx context.Context) error
	ForceLogout(ctx context.Context) error
	RefreshTokens(ctx context.Context) (*session.TokenPair, error)
	Snapshot(ctx context.Context) (session.Snapshot, error)
	Register(ctx context.Context, req session.RegisterRequest) error
	VerifyEmail(ctx context.Context, params session.VerificationParams) error
	ResetPassword(ctx context.Context, req session.ResetPasswordRequest) error
	ConfirmResetPassword(ctx context.Context, params session.VerificationParams, req session.ResetPasswordConfirmRequest) error
	ChangePassword(ctx context.Context, req session.ChangePasswordRequest) error
}

// NotificationSource streams session notifications.
type NotificationSource interface {
	Subscribe() (<-chan session.Notification, func())
}

// CountdownSource streams countdown readings.
type CountdownSource interface {
	Subscribe() (<-chan session.Remaining, func())
}

// RouteSource reports where the session last navigated.
type RouteSource interface {
	Current() string
}

// Handler wires the console HTTP API to the session.
type Handler struct {
	sessions      SessionService
	notifications NotificationSource
	countdown     CountdownSource
	routes        RouteSource
	logger        *slog.Logger
}

// NewHandler constructs the root HTTP handler.
func NewHandler(sessions SessionService, notifications NotificationSource, countdown CountdownSource, routes RouteSource, logger *slog.Logger) *Handler {
	return &Handler{
		sessions:      sessions,
		notifications: notifications,
		countdown:     countdown,
		routes:        routes,
		logger:        logger.With("component", "http.handler"),
	}
}

type sessionResponse struct {
	session.Snapshot
	Route string `json:"route"`
}

// Health reports liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Session returns the current session snapshot.
func (h *Handler) Session(c *gin.Context) {
	snap, err := h.sessions.Snapshot(c.Request.Context())
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, sessionResponse{Snapshot: snap, Route: h.routes.Current()})
}

// Login authenticates against the backend. Tokens stay inside the console.
func (h *Handler) Login(c *gin.Context) {
	var creds session.Credentials
	if !bindJSON(c, &creds) {
		return
	}
	resp, err := h.sessions.Login(c.Request.Context(), creds)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": resp.User, "route": h.routes.Current()})
}

// Logout revokes the refresh token and ends the session.
func (h *Handler) Logout(c *gin.Context) {
	if err := h.sessions.Logout(c.Request.Context()); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// ForceLogout ends the session even when the backend call fails; the
// backend error is still reported.
func (h *Handler) ForceLogout(c *gin.Context) {
	if err := h.sessions.ForceLogout(c.Request.Context()); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// Refresh exchanges the refresh token now.
func (h *Handler) Refresh(c *gin.Context) {
	pair, err := h.sessions.RefreshTokens(c.Request.Context())
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	if pair == nil {
		abortWithError(c, NewHTTPError(http.StatusConflict, "no_session", "there is no session to refresh", nil))
		return
	}
	h.Session(c)
}

// Register creates an account.
func (h *Handler) Register(c *gin.Context) {
	var req session.RegisterRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.sessions.Register(c.Request.Context(), req); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.Status(http.StatusCreated)
}

// VerifyEmail confirms an emailed activation link.
func (h *Handler) VerifyEmail(c *gin.Context) {
	if err := h.sessions.VerifyEmail(c.Request.Context(), linkParams(c)); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// ResetPassword starts the password reset flow.
func (h *Handler) ResetPassword(c *gin.Context) {
	var req session.ResetPasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.sessions.ResetPassword(c.Request.Context(), req); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// ConfirmResetPassword sets a new password from a reset link.
func (h *Handler) ConfirmResetPassword(c *gin.Context) {
	var req session.ResetPasswordConfirmRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.sessions.ConfirmResetPassword(c.Request.Context(), linkParams(c), req); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"route": h.routes.Current()})
}

// ChangePassword changes the logged in user's password.
func (h *Handler) ChangePassword(c *gin.Context) {
	var req session.ChangePasswordRequest
	if !bindJSON(c, &req) {
		return
	}
	if err := h.sessions.ChangePassword(c.Request.Context(), req); err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	c.Status(http.StatusNoContent)
}

// Events streams the session snapshot, notifications and countdown readings
// using Server-Sent Events until the client disconnects.
func (h *Handler) Events(c *gin.Context) {
	ctx := c.Request.Context()
	snap, err := h.sessions.Snapshot(ctx)
	if err != nil {
		abortWithError(c, fromDomainError(err))
		return
	}
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		abortWithError(c, NewHTTPError(http.StatusInternalServerError, "stream_unsupported", "streaming not supported", nil))
		return
	}

	// The stream outlives the server write timeout.
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	notes, cancelNotes := h.notifications.Subscribe()
	defer cancelNotes()
	ticks, cancelTicks := h.countdown.Subscribe()
	defer cancelTicks()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Status(http.StatusOK)

	h.writeEvent(c, "session", sessionResponse{Snapshot: snap, Route: h.routes.Current()})
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case n, open := <-notes:
			if !open {
				return
			}
			h.writeEvent(c, "notification", n)
		case r, open := <-ticks:
			if !open {
				ticks = nil
				continue
			}
			h.writeEvent(c, "countdown", r)
		}
		flusher.Flush()
	}
}

func (h *Handler) writeEvent(c *gin.Context, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		h.logger.Error("marshal event failed", "event", event, "error", err)
		return
	}
	fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event, data)
}

func bindJSON(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		abortWithError(c, NewHTTPError(http.StatusBadRequest, "invalid_request", errMessage(err), err))
		return false
	}
	return true
}

func linkParams(c *gin.Context) session.VerificationParams {
	return session.VerificationParams{UID: c.Param("uid"), Token: c.Param("token")}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

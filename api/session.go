package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/minutely/outreach/driver"
	"github.com/minutely/outreach/session"
)

// LoginRequest is the body for POST /api/session/login.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// VerifyRequest is the body for POST /api/session/verify.
type VerifyRequest struct {
	Code string `json:"code"`
}

// GetSession returns the current session state without touching the driver.
// GET /api/session
func (h *Handler) GetSession(c echo.Context) error {
	return c.JSON(http.StatusOK, h.session.CheckStatus())
}

// Login starts an authentication attempt.
// POST /api/session/login
func (h *Handler) Login(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}

	sess, err := h.session.Login(c.Request().Context(), driver.Credentials{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case errors.Is(err, session.ErrVerificationPending),
			errors.Is(err, session.ErrAuthInProgress):
			return c.JSON(http.StatusConflict, map[string]interface{}{
				"error":   err.Error(),
				"session": sess,
			})
		default:
			h.log.Error("login failed", zap.Error(err))
			return c.JSON(http.StatusBadGateway, map[string]interface{}{
				"error":   err.Error(),
				"session": sess,
			})
		}
	}
	return c.JSON(http.StatusOK, sess)
}

// Verify submits a pending second-factor code.
// POST /api/session/verify
func (h *Handler) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid request body"})
	}
	if req.Code == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "code is required"})
	}

	sess, err := h.session.Verify(c.Request().Context(), req.Code)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNotPending):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		case errors.Is(err, session.ErrAuthInProgress):
			return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
		default:
			h.log.Error("verification failed", zap.Error(err))
			return c.JSON(http.StatusBadGateway, map[string]interface{}{
				"error":   err.Error(),
				"session": sess,
			})
		}
	}
	return c.JSON(http.StatusOK, sess)
}

// Logout tears the session down.
// POST /api/session/logout
func (h *Handler) Logout(c echo.Context) error {
	sess, err := h.session.Logout(c.Request().Context())
	if err != nil {
		h.log.Error("logout failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to log out"})
	}
	return c.JSON(http.StatusOK, sess)
}

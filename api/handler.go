// Package api provides the HTTP surface of the outreach orchestrator.
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/minutely/outreach/runner"
	"github.com/minutely/outreach/session"
	"github.com/minutely/outreach/store"
)

// Handler handles HTTP requests.
type Handler struct {
	store   store.Store
	runner  *runner.Runner
	session *session.Manager
	log     *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(st store.Store, r *runner.Runner, sess *session.Manager, log *zap.Logger) *Handler {
	return &Handler{
		store:   st,
		runner:  r,
		session: sess,
		log:     log.Named("api"),
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	// Jobs
	e.POST("/api/jobs", h.SubmitJob)
	e.GET("/api/jobs/:job_id", h.GetJob)
	e.POST("/api/jobs/:job_id/cancel", h.CancelJob)

	// Session
	e.GET("/api/session", h.GetSession)
	e.POST("/api/session/login", h.Login)
	e.POST("/api/session/verify", h.Verify)
	e.POST("/api/session/logout", h.Logout)

	// Contacts and messages
	e.GET("/api/contacts", h.ListContacts)
	e.GET("/api/contacts/stats", h.ContactStats)
	e.GET("/api/contacts/:id", h.GetContact)
	e.GET("/api/messages", h.ListMessages)

	e.GET("/health", h.Health)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

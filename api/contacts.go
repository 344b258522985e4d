package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/minutely/outreach/domain"
	"github.com/minutely/outreach/store"
)

// ListContacts returns contacts with optional industry/state filters.
// GET /api/contacts?industry=&state=&connected=&limit=&offset=
func (h *Handler) ListContacts(c echo.Context) error {
	ctx := c.Request().Context()

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	filter := store.ContactFilter{
		Industry:      domain.Industry(c.QueryParam("industry")),
		State:         domain.ContactState(c.QueryParam("state")),
		ConnectedOnly: c.QueryParam("connected") == "true",
		Limit:         limit,
		Offset:        offset,
	}
	if filter.State != "" && !filter.State.Valid() {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "unknown state filter"})
	}

	contacts, err := h.store.ListContacts(ctx, filter)
	if err != nil {
		h.log.Error("failed to list contacts", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list contacts"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"contacts": contacts,
		"count":    len(contacts),
	})
}

// GetContact returns one contact by ID.
// GET /api/contacts/:id
func (h *Handler) GetContact(c echo.Context) error {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid contact id"})
	}

	contact, err := h.store.GetContact(c.Request().Context(), id)
	if err != nil {
		h.log.Error("failed to get contact", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get contact"})
	}
	if contact == nil {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "contact not found"})
	}
	return c.JSON(http.StatusOK, contact)
}

// ContactStats returns the aggregate contact counters.
// GET /api/contacts/stats
func (h *Handler) ContactStats(c echo.Context) error {
	stats, err := h.store.ContactStats(c.Request().Context())
	if err != nil {
		h.log.Error("failed to get contact stats", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to get stats"})
	}
	return c.JSON(http.StatusOK, stats)
}

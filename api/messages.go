package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/minutely/outreach/domain"
)

// ListMessages returns messages for a contact, optionally filtered by kind.
// GET /api/messages?contact_id=&kind=&limit=
func (h *Handler) ListMessages(c echo.Context) error {
	contactID, err := strconv.ParseInt(c.QueryParam("contact_id"), 10, 64)
	if err != nil || contactID <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "contact_id is required"})
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if limit <= 0 {
		limit = 50
	}

	messages, err := h.store.ListMessages(c.Request().Context(), contactID,
		domain.MessageKind(c.QueryParam("kind")), limit)
	if err != nil {
		h.log.Error("failed to list messages", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "failed to list messages"})
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"messages": messages,
		"count":    len(messages),
	})
}

package chat

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/middleware"
)

// Handler exposes chat history over HTTP; live messaging happens on the
// socket.
type Handler struct {
	service *Service
}

// NewHandler creates the chat HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the chat endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/trips/:id/messages", h.GetHistory)
	rg.GET("/trips/:id/messages/unread", h.GetUnread)
}

// GetHistory returns a page of a trip's messages for a participant.
// GET /api/v1/trips/:id/messages?limit=100&offset=0
func (h *Handler) GetHistory(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.Validation("invalid trip id"))
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	messages, err := h.service.History(c.Request.Context(), userID, tripID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

// GetUnread returns the caller's unread count for a trip.
// GET /api/v1/trips/:id/messages/unread
func (h *Handler) GetUnread(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, err)
		return
	}
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.Validation("invalid trip id"))
		return
	}

	unread, err := h.service.Unread(c.Request.Context(), userID, tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trip_id": tripID, "unread": unread})
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	c.JSON(appErr.HTTPStatus(), appErr)
}

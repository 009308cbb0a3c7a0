package trips

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/logger"
	"github.com/camride/dispatch/pkg/middleware"
	"github.com/camride/dispatch/pkg/models"
)

// Handler exposes trip reads over HTTP. State transitions happen over the
// socket; this surface is for history screens and support tooling.
type Handler struct {
	service *Service
}

// NewHandler creates the trips HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the trip read endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/trips/history", h.GetHistory)
	rg.GET("/trips/:id", h.GetTrip)
	rg.GET("/trips/:id/events", h.GetTripEvents)
}

// GetHistory lists the caller's past trips, newest first.
// GET /api/v1/trips/history?limit=20&offset=0
func (h *Handler) GetHistory(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	role := models.ActorPassenger
	if middleware.GetRole(c) == "driver" {
		role = models.ActorDriver
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	trips, err := h.service.History(c.Request.Context(), userID, role, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	if trips == nil {
		trips = []*models.Trip{}
	}
	c.JSON(http.StatusOK, gin.H{"trips": trips, "limit": limit, "offset": offset})
}

// GetTrip returns one trip for a participant.
// GET /api/v1/trips/:id
func (h *Handler) GetTrip(c *gin.Context) {
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

	trip, err := h.service.GetTrip(c.Request.Context(), tripID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, trip)
}

// GetTripEvents returns the trip's audit trail for a participant.
// GET /api/v1/trips/:id/events
func (h *Handler) GetTripEvents(c *gin.Context) {
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

	events, err := h.service.TripEvents(c.Request.Context(), tripID, userID)
	if err != nil {
		respondError(c, err)
		return
	}
	if events == nil {
		events = []*models.TripEvent{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	if appErr.Kind == apperrors.KindInternal {
		logger.ErrorContext(c.Request.Context(), "trips request failed",
			zap.String("path", c.FullPath()), zap.Error(appErr))
	}
	c.JSON(appErr.HTTPStatus(), appErr)
}

package ratings

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/middleware"
)

// Handler exposes post-trip feedback over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates the ratings HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the rating endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/trips/:id/rating", h.RateTrip)
	rg.GET("/trips/:id/ratings", h.GetTripRatings)
	rg.GET("/me/ratings", h.GetMyRatings)
}

type rateTripRequest struct {
	Stars   int    `json:"stars" binding:"required"`
	Comment string `json:"comment"`
}

// RateTrip records the caller's rating of a completed trip.
// POST /api/v1/ratings/trips/:id/rating
func (h *Handler) RateTrip(c *gin.Context) {
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

	var req rateTripRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apperrors.Validation("invalid request body"))
		return
	}

	rating, err := h.service.RateTrip(c.Request.Context(), userID, tripID, req.Stars, req.Comment)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, rating)
}

// GetTripRatings returns both directions of a trip's feedback.
// GET /api/v1/ratings/trips/:id/ratings
func (h *Handler) GetTripRatings(c *gin.Context) {
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

	ratings, err := h.service.TripRatings(c.Request.Context(), userID, tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ratings": ratings})
}

// GetMyRatings returns ratings the caller has received.
// GET /api/v1/ratings/me/ratings?limit=20&offset=0
func (h *Handler) GetMyRatings(c *gin.Context) {
	userID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ratings, err := h.service.ReceivedRatings(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ratings": ratings})
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	c.JSON(appErr.HTTPStatus(), appErr)
}

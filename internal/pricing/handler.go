package pricing

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

// Handler exposes fare quotes over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates the pricing HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the pricing endpoints.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/estimate", h.GetEstimate)
}

// GetEstimate quotes a fare.
// GET /api/v1/pricing/estimate?city=Douala&vehicle_type=Economy&distance_km=5.2&duration_min=15
func (h *Handler) GetEstimate(c *gin.Context) {
	city := c.Query("city")
	vehicleType := models.VehicleType(c.DefaultQuery("vehicle_type", string(models.VehicleEconomy)))
	distanceKm, err := strconv.ParseFloat(c.Query("distance_km"), 64)
	if err != nil {
		respondError(c, apperrors.Validation("distance_km must be a number"))
		return
	}
	durationMin, err := strconv.ParseFloat(c.Query("duration_min"), 64)
	if err != nil {
		respondError(c, apperrors.Validation("duration_min must be a number"))
		return
	}

	estimate, err := h.service.Quote(c.Request.Context(), city, vehicleType, distanceKm, durationMin)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, estimate)
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	c.JSON(appErr.HTTPStatus(), appErr)
}

package earnings

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/logger"
	"github.com/camride/dispatch/pkg/middleware"
)

// Handler exposes wallet and receipt reads over HTTP. Settlement itself
// happens on trip completion; the only write here is the ops retry.
type Handler struct {
	service *Service
}

// NewHandler creates the earnings HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes mounts the earnings endpoints on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/wallet", h.GetWallet)
	rg.GET("/wallet/transactions", h.GetTransactions)
	rg.GET("/trips/:id/receipt", h.GetReceipt)
	rg.POST("/trips/:id/settle", h.SettleTrip)
}

// GetWallet returns the caller's wallet.
// GET /api/v1/earnings/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	driverID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	wallet, err := h.service.GetWallet(c.Request.Context(), driverID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, wallet)
}

// GetTransactions returns a page of the caller's ledger.
// GET /api/v1/earnings/wallet/transactions?limit=50&offset=0
func (h *Handler) GetTransactions(c *gin.Context) {
	driverID, err := middleware.GetUserID(c)
	if err != nil {
		respondError(c, err)
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	txs, err := h.service.GetTransactions(c.Request.Context(), driverID, limit, offset)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"transactions": txs})
}

// GetReceipt returns the settlement receipt of a trip the caller took part
// in.
// GET /api/v1/earnings/trips/:id/receipt
func (h *Handler) GetReceipt(c *gin.Context) {
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

	receipt, err := h.service.GetReceipt(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	if receipt.DriverID != userID && receipt.PassengerID != userID {
		respondError(c, apperrors.Forbidden("not a participant of this trip"))
		return
	}
	c.JSON(http.StatusOK, receipt)
}

// SettleTrip re-runs settlement for a trip whose receipt was left PENDING.
// POST /api/v1/earnings/trips/:id/settle
func (h *Handler) SettleTrip(c *gin.Context) {
	if middleware.GetRole(c) != "admin" {
		respondError(c, apperrors.Forbidden("admin role required"))
		return
	}
	tripID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apperrors.Validation("invalid trip id"))
		return
	}

	result, err := h.service.SettleTrip(c.Request.Context(), tripID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func respondError(c *gin.Context, err error) {
	appErr := apperrors.As(err)
	if appErr.Kind == apperrors.KindInternal {
		logger.ErrorContext(c.Request.Context(), "request failed",
			zap.String("path", c.FullPath()), zap.Error(appErr))
	}
	c.JSON(appErr.HTTPStatus(), appErr)
}

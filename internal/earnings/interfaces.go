package earnings

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/camride/dispatch/pkg/models"
)

// Store is the persistence surface of settlement.
type Store interface {
	InsertReceiptPending(ctx context.Context, q Querier, receipt *models.TripReceipt) (bool, error)
	GetReceiptByTripID(ctx context.Context, q Querier, tripID uuid.UUID) (*models.TripReceipt, error)
	SettleReceipt(ctx context.Context, q Querier, receipt *models.TripReceipt) error
	ListActiveRules(ctx context.Context, q Querier, ts time.Time) ([]*models.EarningRule, error)
	GetWalletForUpdate(ctx context.Context, q Querier, driverID uuid.UUID) (*models.DriverWallet, error)
	GetWallet(ctx context.Context, q Querier, driverID uuid.UUID) (*models.DriverWallet, error)
	UpdateWallet(ctx context.Context, q Querier, w *models.DriverWallet) error
	InsertTransaction(ctx context.Context, q Querier, tx *models.WalletTransaction) error
	ListTransactions(ctx context.Context, q Querier, driverID uuid.UUID, limit, offset int) ([]*models.WalletTransaction, error)
	ListActivePrograms(ctx context.Context, q Querier) ([]*models.BonusProgram, error)
	HasAward(ctx context.Context, q Querier, driverID, programID uuid.UUID, periodKey string) (bool, error)
	InsertAward(ctx context.Context, q Querier, award *models.BonusAward) error
	CountCompletedTrips(ctx context.Context, q Querier, driverID uuid.UUID, since time.Time) (int64, error)
	SumFareEarnings(ctx context.Context, q Querier, driverID uuid.UUID, since time.Time) (int64, error)
	GetDriverTier(ctx context.Context, q Querier, driverID uuid.UUID) (string, error)
}

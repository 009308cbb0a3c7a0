package earnings

import (
	"context"
	"encoding/json"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/config"
	"github.com/camride/dispatch/pkg/geo"
	"github.com/camride/dispatch/pkg/logger"
	"github.com/camride/dispatch/pkg/models"
)

// TripLoader provides the durable trip row for standalone settlement.
type TripLoader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Trip, error)
}

// Service settles completed trips into driver wallets. All money moves in
// one transaction: receipt, ledger entries, wallet balance and quest awards
// commit or roll back together.
type Service struct {
	db    *pgxpool.Pool
	repo  Store
	trips TripLoader
	cfg   config.EarningsConfig

	now func() time.Time
}

// NewService creates the earnings service.
func NewService(db *pgxpool.Pool, repo Store, trips TripLoader, cfg config.EarningsConfig) *Service {
	return &Service{
		db:    db,
		repo:  repo,
		trips: trips,
		cfg:   cfg,
		now:   time.Now,
	}
}

// SettleTrip settles a completed trip in its own transaction. This is the
// retry path for receipts left PENDING by a crash between completion and
// settlement.
func (s *Service) SettleTrip(ctx context.Context, tripID uuid.UUID) (*Result, error) {
	trip, err := s.trips.GetByID(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status != models.TripStatusCompleted {
		return nil, apperrors.Precondition("trip is not completed")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, apperrors.Internal("failed to begin settlement transaction", err)
	}
	defer tx.Rollback(ctx)

	result, err := s.SettleInTx(ctx, tx, trip)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Internal("failed to commit settlement", err)
	}
	return result, nil
}

// SettleInTx settles a trip inside the caller's transaction. Safe to call
// more than once per trip: the receipt anchor makes the second call a no-op.
func (s *Service) SettleInTx(ctx context.Context, q Querier, trip *models.Trip) (*Result, error) {
	if trip.DriverID == nil {
		return nil, apperrors.Precondition("trip has no driver to settle")
	}
	driverID := *trip.DriverID

	gross := trip.FareEstimate
	if trip.FareFinal != nil {
		gross = *trip.FareFinal
	}
	if gross < 0 {
		return nil, apperrors.Validation("fare must not be negative")
	}

	completedAt := s.now()
	if trip.TripCompletedAt != nil {
		completedAt = *trip.TripCompletedAt
	}

	receipt := &models.TripReceipt{
		ID:            uuid.New(),
		TripID:        trip.ID,
		DriverID:      driverID,
		PassengerID:   trip.PassengerID,
		GrossFare:     gross,
		PaymentMethod: trip.PaymentMethod,
	}
	inserted, err := s.repo.InsertReceiptPending(ctx, q, receipt)
	if err != nil {
		return nil, err
	}
	if !inserted {
		existing, err := s.repo.GetReceiptByTripID(ctx, q, trip.ID)
		if err != nil {
			return nil, err
		}
		if existing == nil {
			return nil, apperrors.Internal("receipt conflict without a row", nil)
		}
		if existing.Status != models.ReceiptPending {
			return &Result{
				AlreadyProcessed: true,
				ReceiptID:        existing.ID,
				GrossFare:        existing.GrossFare,
				CommissionRate:   existing.CommissionRate,
				CommissionAmount: existing.CommissionAmount,
				BonusTotal:       existing.BonusTotal,
				DriverNet:        existing.DriverNet,
			}, nil
		}
		// A PENDING receipt means a prior attempt rolled back after the
		// insert. Resume settlement on the existing anchor.
		receipt = existing
	}

	tier, err := s.repo.GetDriverTier(ctx, q, driverID)
	if err != nil {
		return nil, err
	}
	ruleCtx := &RuleContext{
		Fare:          gross,
		City:          s.cfg.City,
		TripHour:      completedAt.Hour(),
		TripDayOfWeek: int(completedAt.Weekday()),
		DistanceM:     trip.DistanceM,
		PaymentMethod: trip.PaymentMethod,
		DriverTier:    tier,
		PickupZone:    geo.ZoneCell(trip.Pickup.Latitude, trip.Pickup.Longitude),
	}

	rules, err := s.repo.ListActiveRules(ctx, q, completedAt)
	if err != nil {
		return nil, err
	}

	rate := s.cfg.DefaultCommissionRate
	var commissionRuleID *uuid.UUID
	var bonusTotal int64
	snapshot := make([]appliedRule, 0, len(rules))

	for _, rule := range rules {
		entry := appliedRule{
			RuleID:  rule.ID,
			Name:    rule.Name,
			Type:    rule.Type,
			Matched: MatchesContext(rule, ruleCtx),
			Rate:    rule.Rate,
			Amount:  rule.Amount,
		}
		if entry.Matched {
			switch rule.Type {
			case models.RuleCommissionPercent:
				// First match wins; rules arrive highest priority first.
				if commissionRuleID == nil && rule.Rate >= 0 && rule.Rate < 1 {
					rate = rule.Rate
					id := rule.ID
					commissionRuleID = &id
					entry.Applied = true
					entry.Effect = -roundMoney(float64(gross) * rate)
				}
			case models.RuleBonusFlat:
				bonusTotal += rule.Amount
				entry.Applied = true
				entry.Effect = rule.Amount
			case models.RuleBonusMultiplier:
				if rule.Rate > 1 {
					effect := roundMoney(float64(gross) * (rule.Rate - 1))
					bonusTotal += effect
					entry.Applied = true
					entry.Effect = effect
				}
			case models.RulePenalty:
				// Penalties are adjudicated out of band, never deducted at
				// settlement, so the balance stays the sum of the ledger.
				logger.WarnContext(ctx, "penalty rule matched at settlement, skipping",
					zap.String("rule_id", rule.ID.String()),
					zap.String("trip_id", trip.ID.String()))
			}
		}
		snapshot = append(snapshot, entry)
	}

	commission := roundMoney(float64(gross) * rate)
	driverNet := gross - commission + bonusTotal

	wallet, err := s.repo.GetWalletForUpdate(ctx, q, driverID)
	if err != nil {
		return nil, err
	}

	tripID := trip.ID
	receiptID := receipt.ID

	wallet.Balance += gross
	if err := s.repo.InsertTransaction(ctx, q, &models.WalletTransaction{
		DriverID:     driverID,
		Type:         models.TxTripFare,
		Amount:       gross,
		BalanceAfter: wallet.Balance,
		Description:  "Trip fare",
		TripID:       &tripID,
		ReceiptID:    &receiptID,
	}); err != nil {
		return nil, err
	}

	wallet.Balance -= commission
	if err := s.repo.InsertTransaction(ctx, q, &models.WalletTransaction{
		DriverID:     driverID,
		Type:         models.TxCommission,
		Amount:       -commission,
		BalanceAfter: wallet.Balance,
		Description:  "Platform commission",
		TripID:       &tripID,
		ReceiptID:    &receiptID,
	}); err != nil {
		return nil, err
	}

	if bonusTotal > 0 {
		wallet.Balance += bonusTotal
		if err := s.repo.InsertTransaction(ctx, q, &models.WalletTransaction{
			DriverID:     driverID,
			Type:         models.TxBonusTrip,
			Amount:       bonusTotal,
			BalanceAfter: wallet.Balance,
			Description:  "Trip bonus",
			TripID:       &tripID,
			ReceiptID:    &receiptID,
		}); err != nil {
			return nil, err
		}
	}

	wallet.TotalEarned += gross
	wallet.TotalCommission += commission
	wallet.TotalBonuses += bonusTotal

	awards, err := s.evaluateQuests(ctx, q, wallet, trip, completedAt)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateWallet(ctx, q, wallet); err != nil {
		return nil, err
	}

	appliedJSON, err := json.Marshal(snapshot)
	if err != nil {
		return nil, apperrors.Internal("failed to encode applied rules", err)
	}
	processedAt := s.now()
	receipt.CommissionRate = rate
	receipt.CommissionAmount = commission
	receipt.BonusTotal = bonusTotal
	receipt.DriverNet = driverNet
	receipt.CommissionRuleID = commissionRuleID
	receipt.AppliedRules = appliedJSON
	receipt.ProcessedAt = &processedAt
	if err := s.repo.SettleReceipt(ctx, q, receipt); err != nil {
		return nil, err
	}

	return &Result{
		ReceiptID:        receipt.ID,
		GrossFare:        gross,
		CommissionRate:   rate,
		CommissionAmount: commission,
		BonusTotal:       bonusTotal,
		DriverNet:        driverNet,
		QuestAwards:      awards,
	}, nil
}

// evaluateQuests pays out bonus programs whose target the driver crossed
// with this trip. Progress is measured inside the transaction so the
// current trip counts exactly once.
func (s *Service) evaluateQuests(ctx context.Context, q Querier, wallet *models.DriverWallet, trip *models.Trip, completedAt time.Time) ([]QuestAward, error) {
	programs, err := s.repo.ListActivePrograms(ctx, q)
	if err != nil {
		return nil, err
	}

	var awards []QuestAward
	for _, program := range programs {
		key := PeriodKey(program.Period, completedAt)
		awarded, err := s.repo.HasAward(ctx, q, wallet.DriverID, program.ID, key)
		if err != nil {
			return nil, err
		}
		if awarded {
			continue
		}

		since := PeriodStart(program.Period, completedAt)
		var progress int64
		switch program.Metric {
		case models.MetricTripCount:
			progress, err = s.repo.CountCompletedTrips(ctx, q, wallet.DriverID, since)
		case models.MetricEarnings:
			progress, err = s.repo.SumFareEarnings(ctx, q, wallet.DriverID, since)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if progress < program.TargetValue {
			continue
		}

		tripID := trip.ID
		if err := s.repo.InsertAward(ctx, q, &models.BonusAward{
			DriverID:  wallet.DriverID,
			ProgramID: program.ID,
			PeriodKey: key,
			Amount:    program.BonusAmount,
			TripID:    &tripID,
		}); err != nil {
			return nil, err
		}

		wallet.Balance += program.BonusAmount
		wallet.TotalBonuses += program.BonusAmount
		if err := s.repo.InsertTransaction(ctx, q, &models.WalletTransaction{
			DriverID:     wallet.DriverID,
			Type:         models.TxBonusQuest,
			Amount:       program.BonusAmount,
			BalanceAfter: wallet.Balance,
			Description:  program.Name,
			TripID:       &tripID,
		}); err != nil {
			return nil, err
		}

		awards = append(awards, QuestAward{
			ProgramID:   program.ID,
			ProgramName: program.Name,
			PeriodKey:   key,
			Amount:      program.BonusAmount,
		})
	}
	return awards, nil
}

// GetWallet returns the driver's wallet.
func (s *Service) GetWallet(ctx context.Context, driverID uuid.UUID) (*models.DriverWallet, error) {
	return s.repo.GetWallet(ctx, s.db, driverID)
}

// GetTransactions returns a page of the driver's ledger, newest first.
func (s *Service) GetTransactions(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.WalletTransaction, error) {
	txs, err := s.repo.ListTransactions(ctx, s.db, driverID, limit, offset)
	if err != nil {
		return nil, err
	}
	if txs == nil {
		txs = []*models.WalletTransaction{}
	}
	return txs, nil
}

// GetReceipt returns the settlement receipt for a trip.
func (s *Service) GetReceipt(ctx context.Context, tripID uuid.UUID) (*models.TripReceipt, error) {
	receipt, err := s.repo.GetReceiptByTripID(ctx, s.db, tripID)
	if err != nil {
		return nil, err
	}
	if receipt == nil {
		return nil, apperrors.NotFound("receipt not found")
	}
	return receipt, nil
}

func roundMoney(v float64) int64 {
	return int64(math.Round(v))
}

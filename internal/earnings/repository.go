package earnings

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/camride/dispatch/pkg/apperrors"
	"github.com/camride/dispatch/pkg/models"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so the same SQL
// runs inside or outside the settlement transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository holds the SQL for receipts, wallets, the ledger, rules and
// quest awards.
type Repository struct{}

// NewRepository creates the earnings repository.
func NewRepository() *Repository {
	return &Repository{}
}

var _ Store = (*Repository)(nil)

// InsertReceiptPending inserts a PENDING receipt, or reports that one for
// the trip already exists. UNIQUE(trip_id) is the double-post kill switch.
func (r *Repository) InsertReceiptPending(ctx context.Context, q Querier, receipt *models.TripReceipt) (bool, error) {
	tag, err := q.Exec(ctx, `
		INSERT INTO trip_receipts (
			id, trip_id, driver_id, passenger_id, gross_fare,
			commission_rate, commission_amount, bonus_total, driver_net,
			payment_method, status, created_at
		) VALUES ($1,$2,$3,$4,$5,0,0,0,0,$6,$7,NOW())
		ON CONFLICT (trip_id) DO NOTHING`,
		receipt.ID, receipt.TripID, receipt.DriverID, receipt.PassengerID,
		receipt.GrossFare, receipt.PaymentMethod, models.ReceiptPending,
	)
	if err != nil {
		return false, apperrors.Internal("failed to insert trip receipt", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetReceiptByTripID loads the receipt for a trip, or nil when none exists.
func (r *Repository) GetReceiptByTripID(ctx context.Context, q Querier, tripID uuid.UUID) (*models.TripReceipt, error) {
	row := q.QueryRow(ctx, `
		SELECT id, trip_id, driver_id, passenger_id, gross_fare,
			commission_rate, commission_amount, bonus_total, driver_net,
			payment_method, commission_rule_id, applied_rules, status,
			processed_at, created_at
		FROM trip_receipts WHERE trip_id = $1`, tripID)

	var rec models.TripReceipt
	err := row.Scan(
		&rec.ID, &rec.TripID, &rec.DriverID, &rec.PassengerID, &rec.GrossFare,
		&rec.CommissionRate, &rec.CommissionAmount, &rec.BonusTotal, &rec.DriverNet,
		&rec.PaymentMethod, &rec.CommissionRuleID, &rec.AppliedRules, &rec.Status,
		&rec.ProcessedAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load trip receipt", err)
	}
	return &rec, nil
}

// SettleReceipt finalizes a receipt with the computed amounts and the
// applied-rules audit snapshot.
func (r *Repository) SettleReceipt(ctx context.Context, q Querier, receipt *models.TripReceipt) error {
	_, err := q.Exec(ctx, `
		UPDATE trip_receipts
		SET commission_rate = $1, commission_amount = $2, bonus_total = $3,
			driver_net = $4, commission_rule_id = $5, applied_rules = $6,
			status = $7, processed_at = $8
		WHERE id = $9`,
		receipt.CommissionRate, receipt.CommissionAmount, receipt.BonusTotal,
		receipt.DriverNet, receipt.CommissionRuleID, receipt.AppliedRules,
		models.ReceiptSettled, receipt.ProcessedAt, receipt.ID,
	)
	if err != nil {
		return apperrors.Internal("failed to settle trip receipt", err)
	}
	return nil
}

// ListActiveRules returns active rules valid at ts, highest priority first.
func (r *Repository) ListActiveRules(ctx context.Context, q Querier, ts time.Time) ([]*models.EarningRule, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, type, priority, rate, amount, condition, applies_to,
			valid_from, valid_until, is_active, created_at
		FROM earning_rules
		WHERE is_active = TRUE
			AND (valid_from IS NULL OR valid_from <= $1)
			AND (valid_until IS NULL OR valid_until >= $1)
		ORDER BY priority DESC, created_at ASC`, ts)
	if err != nil {
		return nil, apperrors.Internal("failed to list earning rules", err)
	}
	defer rows.Close()

	var rules []*models.EarningRule
	for rows.Next() {
		var rule models.EarningRule
		err := rows.Scan(
			&rule.ID, &rule.Name, &rule.Type, &rule.Priority, &rule.Rate,
			&rule.Amount, &rule.Condition, &rule.AppliesTo,
			&rule.ValidFrom, &rule.ValidUntil, &rule.IsActive, &rule.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Internal("failed to scan earning rule", err)
		}
		rules = append(rules, &rule)
	}
	return rules, rows.Err()
}

// GetWalletForUpdate loads the driver's wallet with a row lock, creating it
// on first settlement. Concurrent settlements for the same driver serialize
// here.
func (r *Repository) GetWalletForUpdate(ctx context.Context, q Querier, driverID uuid.UUID) (*models.DriverWallet, error) {
	_, err := q.Exec(ctx, `
		INSERT INTO driver_wallets (
			id, driver_id, balance, total_earned, total_commission,
			total_bonuses, total_payouts, status, created_at, updated_at
		) VALUES ($1, $2, 0, 0, 0, 0, 0, $3, NOW(), NOW())
		ON CONFLICT (driver_id) DO NOTHING`,
		uuid.New(), driverID, models.WalletActive,
	)
	if err != nil {
		return nil, apperrors.Internal("failed to ensure driver wallet", err)
	}

	row := q.QueryRow(ctx, `
		SELECT id, driver_id, balance, total_earned, total_commission,
			total_bonuses, total_payouts, last_payout_at, status, created_at, updated_at
		FROM driver_wallets WHERE driver_id = $1 FOR UPDATE`, driverID)

	var w models.DriverWallet
	err = row.Scan(
		&w.ID, &w.DriverID, &w.Balance, &w.TotalEarned, &w.TotalCommission,
		&w.TotalBonuses, &w.TotalPayouts, &w.LastPayoutAt, &w.Status,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, apperrors.Internal("failed to lock driver wallet", err)
	}
	return &w, nil
}

// GetWallet loads a wallet without locking.
func (r *Repository) GetWallet(ctx context.Context, q Querier, driverID uuid.UUID) (*models.DriverWallet, error) {
	row := q.QueryRow(ctx, `
		SELECT id, driver_id, balance, total_earned, total_commission,
			total_bonuses, total_payouts, last_payout_at, status, created_at, updated_at
		FROM driver_wallets WHERE driver_id = $1`, driverID)

	var w models.DriverWallet
	err := row.Scan(
		&w.ID, &w.DriverID, &w.Balance, &w.TotalEarned, &w.TotalCommission,
		&w.TotalBonuses, &w.TotalPayouts, &w.LastPayoutAt, &w.Status,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("driver wallet not found")
	}
	if err != nil {
		return nil, apperrors.Internal("failed to load driver wallet", err)
	}
	return &w, nil
}

// UpdateWallet persists the new balance and running totals.
func (r *Repository) UpdateWallet(ctx context.Context, q Querier, w *models.DriverWallet) error {
	_, err := q.Exec(ctx, `
		UPDATE driver_wallets
		SET balance = $1, total_earned = $2, total_commission = $3,
			total_bonuses = $4, updated_at = NOW()
		WHERE id = $5`,
		w.Balance, w.TotalEarned, w.TotalCommission, w.TotalBonuses, w.ID,
	)
	if err != nil {
		return apperrors.Internal("failed to update driver wallet", err)
	}
	return nil
}

// InsertTransaction appends one immutable ledger entry.
func (r *Repository) InsertTransaction(ctx context.Context, q Querier, tx *models.WalletTransaction) error {
	if tx.ID == uuid.Nil {
		tx.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO driver_wallet_transactions (
			id, driver_id, type, amount, balance_after, description,
			trip_id, receipt_id, metadata, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW())`,
		tx.ID, tx.DriverID, tx.Type, tx.Amount, tx.BalanceAfter,
		tx.Description, tx.TripID, tx.ReceiptID, tx.Metadata,
	)
	if err != nil {
		return apperrors.Internal("failed to insert wallet transaction", err)
	}
	return nil
}

// ListTransactions returns the driver's ledger, newest first.
func (r *Repository) ListTransactions(ctx context.Context, q Querier, driverID uuid.UUID, limit, offset int) ([]*models.WalletTransaction, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := q.Query(ctx, `
		SELECT id, driver_id, type, amount, balance_after, description,
			trip_id, receipt_id, metadata, created_at
		FROM driver_wallet_transactions
		WHERE driver_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		driverID, limit, offset)
	if err != nil {
		return nil, apperrors.Internal("failed to list wallet transactions", err)
	}
	defer rows.Close()

	var txs []*models.WalletTransaction
	for rows.Next() {
		var tx models.WalletTransaction
		err := rows.Scan(
			&tx.ID, &tx.DriverID, &tx.Type, &tx.Amount, &tx.BalanceAfter,
			&tx.Description, &tx.TripID, &tx.ReceiptID, &tx.Metadata, &tx.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Internal("failed to scan wallet transaction", err)
		}
		txs = append(txs, &tx)
	}
	return txs, rows.Err()
}

// ListActivePrograms returns active quest definitions.
func (r *Repository) ListActivePrograms(ctx context.Context, q Querier) ([]*models.BonusProgram, error) {
	rows, err := q.Query(ctx, `
		SELECT id, name, period, metric, target_value, bonus_amount, is_active, created_at
		FROM bonus_programs WHERE is_active = TRUE ORDER BY created_at ASC`)
	if err != nil {
		return nil, apperrors.Internal("failed to list bonus programs", err)
	}
	defer rows.Close()

	var programs []*models.BonusProgram
	for rows.Next() {
		var p models.BonusProgram
		err := rows.Scan(&p.ID, &p.Name, &p.Period, &p.Metric, &p.TargetValue, &p.BonusAmount, &p.IsActive, &p.CreatedAt)
		if err != nil {
			return nil, apperrors.Internal("failed to scan bonus program", err)
		}
		programs = append(programs, &p)
	}
	return programs, rows.Err()
}

// HasAward reports whether the driver already earned this program in this
// period.
func (r *Repository) HasAward(ctx context.Context, q Querier, driverID, programID uuid.UUID, periodKey string) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bonus_awards
			WHERE driver_id = $1 AND program_id = $2 AND period_key = $3
		)`, driverID, programID, periodKey).Scan(&exists)
	if err != nil {
		return false, apperrors.Internal("failed to check bonus award", err)
	}
	return exists, nil
}

// InsertAward records a quest payout. UNIQUE(driver_id, program_id,
// period_key) is the double-award kill switch.
func (r *Repository) InsertAward(ctx context.Context, q Querier, award *models.BonusAward) error {
	if award.ID == uuid.Nil {
		award.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO bonus_awards (id, driver_id, program_id, period_key, amount, trip_id, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,NOW())`,
		award.ID, award.DriverID, award.ProgramID, award.PeriodKey, award.Amount, award.TripID,
	)
	if err != nil {
		return apperrors.Internal("failed to insert bonus award", err)
	}
	return nil
}

// CountCompletedTrips counts the driver's completed trips since the period
// start. Inside the settlement transaction the current trip is already
// COMPLETED and counts toward the quest.
func (r *Repository) CountCompletedTrips(ctx context.Context, q Querier, driverID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := q.QueryRow(ctx, `
		SELECT COUNT(*) FROM trips
		WHERE driver_id = $1 AND status = $2 AND trip_completed_at >= $3`,
		driverID, models.TripStatusCompleted, since).Scan(&count)
	if err != nil {
		return 0, apperrors.Internal("failed to count completed trips", err)
	}
	return count, nil
}

// SumFareEarnings sums the driver's TRIP_FARE ledger entries since the
// period start, including the entry written earlier in the transaction.
func (r *Repository) SumFareEarnings(ctx context.Context, q Querier, driverID uuid.UUID, since time.Time) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM driver_wallet_transactions
		WHERE driver_id = $1 AND type = $2 AND created_at >= $3`,
		driverID, models.TxTripFare, since).Scan(&sum)
	if err != nil {
		return 0, apperrors.Internal("failed to sum fare earnings", err)
	}
	return sum, nil
}

// GetDriverTier returns the driver's tier for rule matching, defaulting to
// "standard" when no profile exists.
func (r *Repository) GetDriverTier(ctx context.Context, q Querier, driverID uuid.UUID) (string, error) {
	var tier string
	err := q.QueryRow(ctx, `
		SELECT COALESCE(tier, 'standard') FROM driver_profiles WHERE account_id = $1`,
		driverID).Scan(&tier)
	if errors.Is(err, pgx.ErrNoRows) {
		return "standard", nil
	}
	if err != nil {
		return "", apperrors.Internal("failed to load driver tier", err)
	}
	return tier, nil
}

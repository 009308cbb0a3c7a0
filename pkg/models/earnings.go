package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReceiptStatus tracks settlement progress of a trip receipt.
type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "PENDING"
	ReceiptSettled  ReceiptStatus = "SETTLED"
	ReceiptRefunded ReceiptStatus = "REFUNDED"
)

// TripReceipt is the settlement record of one completed trip.
// UNIQUE(trip_id) is the double-post kill switch.
type TripReceipt struct {
	ID               uuid.UUID       `json:"id"`
	TripID           uuid.UUID       `json:"trip_id"`
	DriverID         uuid.UUID       `json:"driver_id"`
	PassengerID      uuid.UUID       `json:"passenger_id"`
	GrossFare        int64           `json:"gross_fare"`
	CommissionRate   float64         `json:"commission_rate"`
	CommissionAmount int64           `json:"commission_amount"`
	BonusTotal       int64           `json:"bonus_total"`
	DriverNet        int64           `json:"driver_net"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	CommissionRuleID *uuid.UUID      `json:"commission_rule_id,omitempty"`
	AppliedRules     json.RawMessage `json:"applied_rules,omitempty"`
	Status           ReceiptStatus   `json:"status"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}

// WalletStatus gates wallet mutation.
type WalletStatus string

const (
	WalletActive    WalletStatus = "ACTIVE"
	WalletFrozen    WalletStatus = "FROZEN"
	WalletSuspended WalletStatus = "SUSPENDED"
)

// DriverWallet caches the ledger sum; the ledger is the source of truth.
type DriverWallet struct {
	ID              uuid.UUID    `json:"id"`
	DriverID        uuid.UUID    `json:"driver_id"`
	Balance         int64        `json:"balance"`
	TotalEarned     int64        `json:"total_earned"`
	TotalCommission int64        `json:"total_commission"`
	TotalBonuses    int64        `json:"total_bonuses"`
	TotalPayouts    int64        `json:"total_payouts"`
	LastPayoutAt    *time.Time   `json:"last_payout_at,omitempty"`
	Status          WalletStatus `json:"status"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
}

// WalletTransactionType labels a ledger entry.
type WalletTransactionType string

const (
	TxTripFare   WalletTransactionType = "TRIP_FARE"
	TxCommission WalletTransactionType = "COMMISSION"
	TxBonusTrip  WalletTransactionType = "BONUS_TRIP"
	TxBonusQuest WalletTransactionType = "BONUS_QUEST"
	TxAdjustment WalletTransactionType = "ADJUSTMENT"
	TxRefund     WalletTransactionType = "REFUND"
	TxPayout     WalletTransactionType = "PAYOUT"
)

// WalletTransaction is an immutable ledger entry, credit positive, debit negative.
type WalletTransaction struct {
	ID           uuid.UUID             `json:"id"`
	DriverID     uuid.UUID             `json:"driver_id"`
	Type         WalletTransactionType `json:"type"`
	Amount       int64                 `json:"amount"`
	BalanceAfter int64                 `json:"balance_after"`
	Description  string                `json:"description"`
	TripID       *uuid.UUID            `json:"trip_id,omitempty"`
	ReceiptID    *uuid.UUID            `json:"receipt_id,omitempty"`
	Metadata     json.RawMessage       `json:"metadata,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// EarningRuleType classifies a settlement rule.
type EarningRuleType string

const (
	RuleCommissionPercent EarningRuleType = "COMMISSION_PERCENT"
	RuleBonusFlat         EarningRuleType = "BONUS_FLAT"
	RuleBonusMultiplier   EarningRuleType = "BONUS_MULTIPLIER"
	RulePenalty           EarningRuleType = "PENALTY"
)

// EarningRule is a priority-ordered settlement rule with a JSON condition.
type EarningRule struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Type       EarningRuleType `json:"type"`
	Priority   int             `json:"priority"`
	Rate       float64         `json:"rate"`
	Amount     int64           `json:"amount"`
	Condition  json.RawMessage `json:"condition,omitempty"`
	AppliesTo  string          `json:"applies_to"`
	ValidFrom  *time.Time      `json:"valid_from,omitempty"`
	ValidUntil *time.Time      `json:"valid_until,omitempty"`
	IsActive   bool            `json:"is_active"`
	CreatedAt  time.Time       `json:"created_at"`
}

// BonusProgramPeriod is the quest measurement window.
type BonusProgramPeriod string

const (
	PeriodDaily    BonusProgramPeriod = "DAILY"
	PeriodWeekly   BonusProgramPeriod = "WEEKLY"
	PeriodMonthly  BonusProgramPeriod = "MONTHLY"
	PeriodLifetime BonusProgramPeriod = "LIFETIME"
)

// BonusProgramMetric is what a quest counts.
type BonusProgramMetric string

const (
	MetricTripCount BonusProgramMetric = "TRIP_COUNT"
	MetricEarnings  BonusProgramMetric = "EARNINGS"
)

// BonusProgram is a quest definition.
type BonusProgram struct {
	ID          uuid.UUID          `json:"id"`
	Name        string             `json:"name"`
	Period      BonusProgramPeriod `json:"period"`
	Metric      BonusProgramMetric `json:"metric"`
	TargetValue int64              `json:"target_value"`
	BonusAmount int64              `json:"bonus_amount"`
	IsActive    bool               `json:"is_active"`
	CreatedAt   time.Time          `json:"created_at"`
}

// BonusAward is one quest payout. UNIQUE(driver_id, program_id, period_key)
// is the double-award kill switch.
type BonusAward struct {
	ID        uuid.UUID `json:"id"`
	DriverID  uuid.UUID `json:"driver_id"`
	ProgramID uuid.UUID `json:"program_id"`
	PeriodKey string    `json:"period_key"`
	Amount    int64     `json:"amount"`
	TripID    *uuid.UUID `json:"trip_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

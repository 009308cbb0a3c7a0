package earnings

import (
	"github.com/google/uuid"

	"github.com/camride/dispatch/pkg/models"
)

// Result summarizes one settlement.
type Result struct {
	AlreadyProcessed bool         `json:"already_processed"`
	ReceiptID        uuid.UUID    `json:"receipt_id"`
	GrossFare        int64        `json:"gross_fare"`
	CommissionRate   float64      `json:"commission_rate"`
	CommissionAmount int64        `json:"commission_amount"`
	BonusTotal       int64        `json:"bonus_total"`
	DriverNet        int64        `json:"driver_net"`
	QuestAwards      []QuestAward `json:"quest_awards,omitempty"`
}

// QuestAward reports a bonus program paid out during settlement.
type QuestAward struct {
	ProgramID   uuid.UUID `json:"program_id"`
	ProgramName string    `json:"program_name"`
	PeriodKey   string    `json:"period_key"`
	Amount      int64     `json:"amount"`
}

// appliedRule is one row of the receipt's audit snapshot. Every evaluated
// rule appears, matched or not, so a disputed receipt can be replayed.
type appliedRule struct {
	RuleID  uuid.UUID              `json:"rule_id"`
	Name    string                 `json:"name"`
	Type    models.EarningRuleType `json:"type"`
	Matched bool                   `json:"matched"`
	Applied bool                   `json:"applied"`
	Rate    float64                `json:"rate,omitempty"`
	Amount  int64                  `json:"amount,omitempty"`
	Effect  int64                  `json:"effect"`
}

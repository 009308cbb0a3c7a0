package earnings

import (
	"encoding/json"

	"github.com/camride/dispatch/pkg/models"
)

// RuleContext is the evaluation context built per settlement.
type RuleContext struct {
	Fare          int64                `json:"fare"`
	City          string               `json:"city"`
	TripHour      int                  `json:"trip_hour"`
	TripDayOfWeek int                  `json:"trip_day_of_week"`
	DistanceM     int                  `json:"distance_m"`
	PaymentMethod models.PaymentMethod `json:"payment_method"`
	DriverTier    string               `json:"driver_tier"`
	PickupZone    string               `json:"pickup_zone"`
}

// ruleCondition is the JSON shape stored in earning_rules.condition. All
// fields are optional; absent fields match everything.
type ruleCondition struct {
	City           string   `json:"city,omitempty"`
	HourFrom       *int     `json:"hour_from,omitempty"`
	HourTo         *int     `json:"hour_to,omitempty"`
	DaysOfWeek     []int    `json:"days_of_week,omitempty"`
	MinFare        *int64   `json:"min_fare,omitempty"`
	MaxFare        *int64   `json:"max_fare,omitempty"`
	MinDistanceM   *int     `json:"min_distance_m,omitempty"`
	PaymentMethods []string `json:"payment_methods,omitempty"`
	DriverTiers    []string `json:"driver_tiers,omitempty"`
	PickupZones    []string `json:"pickup_zones,omitempty"`
}

// MatchesContext evaluates one rule against the settlement context. A rule
// with no condition, or an unparseable one, matches everything so a typo in
// back-office data cannot silently disable all commission.
func MatchesContext(rule *models.EarningRule, ctx *RuleContext) bool {
	if len(rule.Condition) == 0 {
		return true
	}

	var cond ruleCondition
	if err := json.Unmarshal(rule.Condition, &cond); err != nil {
		return true
	}

	if cond.City != "" && cond.City != ctx.City {
		return false
	}
	if cond.HourFrom != nil && cond.HourTo != nil && !hourInWindow(ctx.TripHour, *cond.HourFrom, *cond.HourTo) {
		return false
	}
	if len(cond.DaysOfWeek) > 0 && !containsInt(cond.DaysOfWeek, ctx.TripDayOfWeek) {
		return false
	}
	if cond.MinFare != nil && ctx.Fare < *cond.MinFare {
		return false
	}
	if cond.MaxFare != nil && ctx.Fare > *cond.MaxFare {
		return false
	}
	if cond.MinDistanceM != nil && ctx.DistanceM < *cond.MinDistanceM {
		return false
	}
	if len(cond.PaymentMethods) > 0 && !containsString(cond.PaymentMethods, string(ctx.PaymentMethod)) {
		return false
	}
	if len(cond.DriverTiers) > 0 && !containsString(cond.DriverTiers, ctx.DriverTier) {
		return false
	}
	if len(cond.PickupZones) > 0 && !containsString(cond.PickupZones, ctx.PickupZone) {
		return false
	}
	return true
}

// hourInWindow handles windows that wrap midnight, e.g. 22 to 6.
func hourInWindow(hour, from, to int) bool {
	if from <= to {
		return hour >= from && hour <= to
	}
	return hour >= from || hour <= to
}

func containsInt(s []int, v int) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

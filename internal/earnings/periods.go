package earnings

import (
	"fmt"
	"time"

	"github.com/camride/dispatch/pkg/models"
)

// PeriodKey returns the quest bucket a timestamp falls into. One award per
// (driver, program, key) is enforced by the database.
func PeriodKey(period models.BonusProgramPeriod, t time.Time) string {
	switch period {
	case models.PeriodDaily:
		return t.Format("2006-01-02")
	case models.PeriodWeekly:
		year, week := t.ISOWeek()
		return fmt.Sprintf("%d-W%02d", year, week)
	case models.PeriodMonthly:
		return t.Format("2006-01")
	default:
		return "lifetime"
	}
}

// PeriodStart returns the inclusive lower bound of the period containing t,
// used to measure quest progress.
func PeriodStart(period models.BonusProgramPeriod, t time.Time) time.Time {
	switch period {
	case models.PeriodDaily:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	case models.PeriodWeekly:
		// ISO weeks start on Monday.
		weekday := int(t.Weekday())
		if weekday == 0 {
			weekday = 7
		}
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
		return day.AddDate(0, 0, -(weekday - 1))
	case models.PeriodMonthly:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
	default:
		return time.Time{}
	}
}

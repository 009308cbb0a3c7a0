package pricing

import "math"

// EstimateFare computes the quoted fare for a distance and duration under a
// tariff: max(base + km·per_km + min·per_min, min_fare) · surge, rounded to
// the nearest XAF. Pure so the mobile clients can mirror it exactly.
func EstimateFare(rule *PriceRule, distanceKm, durationMin float64) int64 {
	fare := float64(rule.BaseFare) + distanceKm*float64(rule.PerKm) + durationMin*float64(rule.PerMin)
	if fare < float64(rule.MinFare) {
		fare = float64(rule.MinFare)
	}
	surge := rule.SurgeMult
	if surge <= 0 {
		surge = 1
	}
	return int64(math.Round(fare * surge))
}

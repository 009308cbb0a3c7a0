// Package keys centralizes the Redis key schema and TTLs shared by the
// presence, dispatch, trip and gateway layers.
package keys

import (
	"fmt"
	"time"
)

// Global index keys.
const (
	DriversGeoLocations = "drivers:geo:locations"
	DriversOnline       = "drivers:online"
	DriversAvailable    = "drivers:available"
)

// TTLs.
const (
	TTLDriverMetadata = 3600 * time.Second
	TTLDriverLocation = 300 * time.Second
	TTLDriverOnline   = 3600 * time.Second
	TTLTripSearching  = 600 * time.Second
	TTLTripMatched    = 7200 * time.Second
	TTLTripLock       = 10 * time.Second
	TTLTripTimeout    = 30 * time.Second
	TTLTripAccepting  = 120 * time.Second
	TTLTripNoExpire   = 120 * time.Second
	TTLTripDeclined   = 300 * time.Second
	TTLActiveTrip     = 7200 * time.Second
	TTLPendingOffers  = 3600 * time.Second
	TTLUserSocket     = 3600 * time.Second
)

func DriverMetadata(driverID string) string {
	return fmt.Sprintf("driver:%s:metadata", driverID)
}

func DriverLocation(driverID string) string {
	return fmt.Sprintf("driver:location:%s", driverID)
}

func DriverOnline(driverID string) string {
	return fmt.Sprintf("driver:online:%s", driverID)
}

func Trip(tripID string) string {
	return fmt.Sprintf("trip:%s", tripID)
}

func TripLock(tripID string) string {
	return fmt.Sprintf("trip:lock:%s", tripID)
}

func TripTimeout(tripID string) string {
	return fmt.Sprintf("trip:timeout:%s", tripID)
}

func TripAccepting(tripID string) string {
	return fmt.Sprintf("trip:accepting:%s", tripID)
}

func TripNoExpire(tripID string) string {
	return fmt.Sprintf("trip:no_expire:%s", tripID)
}

func TripOffers(tripID string) string {
	return fmt.Sprintf("trip:offers:%s", tripID)
}

func TripDeclined(tripID string) string {
	return fmt.Sprintf("trip:declined:%s", tripID)
}

// TripWave tracks the current offer wave number for a searching trip.
func TripWave(tripID string) string {
	return fmt.Sprintf("trip:wave:%s", tripID)
}

func PassengerActiveTrip(passengerID string) string {
	return fmt.Sprintf("passenger:active_trip:%s", passengerID)
}

func DriverActiveTrip(driverID string) string {
	return fmt.Sprintf("driver:active_trip:%s", driverID)
}

func DriverPendingOffers(driverID string) string {
	return fmt.Sprintf("driver:pending_offers:%s", driverID)
}

func UserSocket(userID string) string {
	return fmt.Sprintf("user:socket:%s", userID)
}

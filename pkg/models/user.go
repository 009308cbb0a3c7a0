package models

import (
	"time"

	"github.com/google/uuid"
)

// AccountType is the tagged variant discriminator on Account.
type AccountType string

const (
	AccountPassenger AccountType = "PASSENGER"
	AccountDriver    AccountType = "DRIVER"
	AccountPartner   AccountType = "PARTNER"
	AccountAdmin     AccountType = "ADMIN"
)

// AccountStatus is the account lifecycle state.
type AccountStatus string

const (
	AccountActive    AccountStatus = "ACTIVE"
	AccountPending   AccountStatus = "PENDING"
	AccountSuspended AccountStatus = "SUSPENDED"
	AccountDeleted   AccountStatus = "DELETED"
)

// Account is the identity row shared by all user types.
type Account struct {
	ID            uuid.UUID     `json:"id"`
	Type          AccountType   `json:"type"`
	Email         string        `json:"email"`
	Phone         string        `json:"phone"`
	FirstName     string        `json:"first_name"`
	LastName      string        `json:"last_name"`
	EmailVerified bool          `json:"email_verified"`
	PhoneVerified bool          `json:"phone_verified"`
	Status        AccountStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// VehicleType is the service class a driver's vehicle belongs to.
type VehicleType string

const (
	VehicleEconomy VehicleType = "Economy"
	VehicleComfort VehicleType = "Comfort"
	VehicleLuxury  VehicleType = "Luxury"
)

// DriverOperationalStatus is the driver's live availability state.
type DriverOperationalStatus string

const (
	DriverOffline   DriverOperationalStatus = "offline"
	DriverOnline    DriverOperationalStatus = "online"
	DriverOnTrip    DriverOperationalStatus = "on_trip"
	DriverSuspended DriverOperationalStatus = "suspended"
)

// DriverProfile extends a driver Account with vehicle and verification data.
type DriverProfile struct {
	ID                uuid.UUID               `json:"id"`
	AccountID         uuid.UUID               `json:"account_id"`
	LicenseNumber     string                  `json:"license_number"`
	VerificationState string                  `json:"verification_state"`
	VehicleType       VehicleType             `json:"vehicle_type"`
	VehiclePlate      string                  `json:"vehicle_plate"`
	VehicleMake       string                  `json:"vehicle_make"`
	VehicleModel      string                  `json:"vehicle_model"`
	VehicleColor      string                  `json:"vehicle_color"`
	VehicleYear       int                     `json:"vehicle_year"`
	RatingAverage     float64                 `json:"rating_average"`
	RatingCount       int                     `json:"rating_count"`
	Tier              string                  `json:"tier"`
	OperationalStatus DriverOperationalStatus `json:"operational_status"`
	CreatedAt         time.Time               `json:"created_at"`
	UpdatedAt         time.Time               `json:"updated_at"`
}

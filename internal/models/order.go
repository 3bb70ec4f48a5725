package models

import "time"

type ShippingOrder struct {
	// ID is the internal storage key, never exposed as the order identifier.
	ID             uint64
	OrderID        string
	Address        string
	ShippingMethod string
	PackageDetails string
	Status         ShippingStatus

	CarrierCode    string
	TrackingNumber string

	// Version grows on every committed write; used for conflict detection.
	Version int64

	// Poller bookkeeping.
	NextCheckAt    *time.Time
	LastCheckedAt  *time.Time
	CheckFailCount int32
	LastError      *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

type OrderCreateInput struct {
	OrderID        string
	Address        string
	ShippingMethod string
	PackageDetails string
	// Status is optional; when set it must be PENDING.
	Status string
}

// OrderUpdateInput carries optional field edits. Nil means "keep".
type OrderUpdateInput struct {
	Address        *string
	ShippingMethod *string
	PackageDetails *string
	Status         *string
}

type OrderFilter struct {
	Status         *ShippingStatus
	ShippingMethod string
	Limit          int
	Offset         int
}

// StatusChange is a validated transition persisted together with a tracking event.
type StatusChange struct {
	OrderID         string
	From            ShippingStatus
	To              ShippingStatus
	ExpectedVersion int64

	CarrierCode    *string
	TrackingNumber *string
	PackageDetails *string

	// NextCheckAt schedules the carrier poller; nil clears the schedule.
	NextCheckAt *time.Time
}

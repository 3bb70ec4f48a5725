package models

import "time"

// TrackingEvent is append-only; it is never mutated after insert.
type TrackingEvent struct {
	ID                uint64
	OrderID           string
	Status            ShippingStatus
	StatusLabel       string
	Location          *string
	EstimatedDelivery *time.Time
	TrackingNumber    *string
	EventTime         time.Time
	// AdvancedStatus marks events that moved the order forward.
	AdvancedStatus bool
	Source         string
	CreatedAt      time.Time
}

type TrackingUpdateInput struct {
	OrderID           string
	ReportedStatus    string
	Location          *string
	EstimatedDelivery *time.Time
	TrackingNumber    *string
	EventTime         time.Time
	Source            string
}

type ReconcileResult struct {
	Order *ShippingOrder
	Event *TrackingEvent
	// Advanced is true when the order status moved forward.
	Advanced bool
	// Duplicate is true when an identical event was already recorded.
	Duplicate bool
}

type CarrierHandoffInput struct {
	OrderID        string
	CarrierCode    string
	ServiceLevel   string
	PackageDetails string
	// Timeout bounds the gateway call; zero means the engine default.
	Timeout time.Duration
}

type HandoffResult struct {
	Order *ShippingOrder
	Event *TrackingEvent
}

// Poll sources for TrackingEvent.Source.
const (
	SourceHandoff = "handoff"
	SourceWebhook = "webhook"
	SourcePoller  = "poller"
)

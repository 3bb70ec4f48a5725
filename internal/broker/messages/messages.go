package messages

import (
	"time"
)

// TrackingReported is one carrier-reported tracking event, keyed by order id.
type TrackingReported struct {
	MessageID         string     `json:"message_id"`
	OrderID           string     `json:"order_id"`
	CarrierCode       string     `json:"carrier_code,omitempty"`
	TrackingNumber    string     `json:"tracking_number,omitempty"`
	Status            string     `json:"status"`
	Location          *string    `json:"location,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	EventTime         time.Time  `json:"event_time"`
	Source            string     `json:"source"`
	ReportedAt        time.Time  `json:"reported_at"`
}

// OrderStatusChanged is emitted after a status transition commits.
type OrderStatusChanged struct {
	MessageID      string    `json:"message_id"`
	OrderID        string    `json:"order_id"`
	From           string    `json:"from"`
	To             string    `json:"to"`
	CarrierCode    string    `json:"carrier_code,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	ChangedAt      time.Time `json:"changed_at"`
}

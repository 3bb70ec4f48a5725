package carrier

import (
	"context"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
)

type ShipmentRequest struct {
	Carrier        models.ShippingCarrier
	OrderID        string
	Address        string
	ShippingMethod string
	PackageDetails string
	ServiceLevel   string
}

type ShipmentResult struct {
	TrackingNumber    string
	InitialStatus     string
	EstimatedDelivery *time.Time
}

type TrackingEvent struct {
	StatusLabel       string
	EventTime         time.Time
	Location          *string
	EstimatedDelivery *time.Time
}

type TrackingResult struct {
	StatusLabel string
	StatusAt    *time.Time
	Events      []TrackingEvent
}

// Gateway hands an order over to a carrier. Implementations must honor ctx deadlines.
type Gateway interface {
	CreateShipment(ctx context.Context, req ShipmentRequest) (ShipmentResult, error)
}

// Tracker reads the carrier's view of an existing shipment.
type Tracker interface {
	GetTracking(ctx context.Context, carrierCode, trackingNumber string) (TrackingResult, error)
}

type Client interface {
	Gateway
	Tracker
}

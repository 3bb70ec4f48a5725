package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
)

// FakeClient is a deterministic in-process carrier used when no emulator is configured.
// A fifth of shipments report "delivered" on tracking.
type FakeClient struct {
	now func() time.Time
}

func New() *FakeClient { return &FakeClient{now: func() time.Time { return time.Now().UTC() }} }

func (f *FakeClient) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	if err := ctx.Err(); err != nil {
		return carrier.ShipmentResult{}, carrier.Timeout(req.Carrier.Name, err)
	}
	if req.Address == "" {
		return carrier.ShipmentResult{}, carrier.Rejected(req.Carrier.Name, 422, "address is required")
	}

	eta := f.now().Add(72 * time.Hour)
	return carrier.ShipmentResult{
		TrackingNumber:    fmt.Sprintf("%s%010d", prefix(req.Carrier.Name), hash(req.Carrier.Name, req.OrderID)),
		InitialStatus:     models.StatusLabelInTransit,
		EstimatedDelivery: &eta,
	}, nil
}

func (f *FakeClient) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (carrier.TrackingResult, error) {
	if err := ctx.Err(); err != nil {
		return carrier.TrackingResult{}, carrier.Timeout(carrierCode, err)
	}
	now := f.now()

	label := models.StatusLabelInTransit
	if hash(carrierCode, trackingNumber)%5 == 0 {
		label = "delivered"
	}

	return carrier.TrackingResult{
		StatusLabel: label,
		StatusAt:    &now,
		Events: []carrier.TrackingEvent{
			{StatusLabel: label, EventTime: now, Location: ptr("fake hub")},
		},
	}, nil
}

func hash(parts ...string) uint32 {
	h := fnv.New32a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte("|"))
		}
		_, _ = h.Write([]byte(p))
	}
	return h.Sum32()
}

func prefix(name string) string {
	if len(name) >= 2 {
		return name[:2]
	}
	return "TR"
}

func ptr(s string) *string { return &s }

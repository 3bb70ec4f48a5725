package fake

import (
	"context"
	"testing"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestFakeClient_CreateShipment_Deterministic(t *testing.T) {
	c := New()
	req := carrier.ShipmentRequest{
		Carrier: models.ShippingCarrier{Name: "UPS"},
		OrderID: "1",
		Address: "1 Main St",
	}
	a, err := c.CreateShipment(context.Background(), req)
	require.NoError(t, err)
	b, err := c.CreateShipment(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, a.TrackingNumber, b.TrackingNumber)
	require.Equal(t, models.StatusLabelInTransit, a.InitialStatus)
	require.NotNil(t, a.EstimatedDelivery)
}

func TestFakeClient_CreateShipment_RejectsEmptyAddress(t *testing.T) {
	_, err := New().CreateShipment(context.Background(), carrier.ShipmentRequest{
		Carrier: models.ShippingCarrier{Name: "UPS"},
		OrderID: "1",
	})
	require.Error(t, err)
	require.Equal(t, carrier.FailureRejected, carrier.Classify(err))
}

func TestFakeClient_CanceledContextIsTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New().GetTracking(ctx, "UPS", "T1")
	require.Equal(t, carrier.FailureTimeout, carrier.Classify(err))
}

func TestFakeClient_GetTracking(t *testing.T) {
	res, err := New().GetTracking(context.Background(), "UPS", "UP0000000001")
	require.NoError(t, err)
	require.NotEmpty(t, res.StatusLabel)
	require.NotNil(t, res.StatusAt)
	require.Len(t, res.Events, 1)

	_, err = models.NormalizeReportedStatus(res.StatusLabel)
	require.NoError(t, err)
}

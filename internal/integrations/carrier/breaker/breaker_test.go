package breaker

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	calls int
	err   error
}

func (s *stubClient) CreateShipment(ctx context.Context, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	s.calls++
	if s.err != nil {
		return carrier.ShipmentResult{}, s.err
	}
	return carrier.ShipmentResult{TrackingNumber: "T1"}, nil
}

func (s *stubClient) GetTracking(ctx context.Context, carrierCode, trackingNumber string) (carrier.TrackingResult, error) {
	s.calls++
	return carrier.TrackingResult{}, s.err
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	return cfg
}

func TestClient_OpensAfterConsecutiveFailures(t *testing.T) {
	stub := &stubClient{err: carrier.Transient("UPS", 503, "down", nil)}
	c := New(stub, testConfig())
	req := carrier.ShipmentRequest{Carrier: models.ShippingCarrier{Name: "UPS"}}

	for i := 0; i < 2; i++ {
		_, err := c.CreateShipment(context.Background(), req)
		require.Error(t, err)
	}
	require.Equal(t, gobreaker.StateOpen, c.State("UPS"))

	_, err := c.CreateShipment(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, carrier.FailureTransient, carrier.Classify(err))
	require.Equal(t, 2, stub.calls)

	// other carriers keep their own breaker
	require.Equal(t, gobreaker.StateClosed, c.State("DHL"))
}

func TestClient_RejectionsDoNotTrip(t *testing.T) {
	stub := &stubClient{err: carrier.Rejected("UPS", 422, "bad address")}
	c := New(stub, testConfig())
	req := carrier.ShipmentRequest{Carrier: models.ShippingCarrier{Name: "UPS"}}

	for i := 0; i < 5; i++ {
		_, err := c.CreateShipment(context.Background(), req)
		require.Equal(t, carrier.FailureRejected, carrier.Classify(err))
	}
	require.Equal(t, gobreaker.StateClosed, c.State("UPS"))
	require.Equal(t, 5, stub.calls)
}

func TestClient_PassesResult(t *testing.T) {
	c := New(&stubClient{}, DefaultConfig())
	res, err := c.CreateShipment(context.Background(), carrier.ShipmentRequest{Carrier: models.ShippingCarrier{Name: "UPS"}})
	require.NoError(t, err)
	require.Equal(t, "T1", res.TrackingNumber)
}

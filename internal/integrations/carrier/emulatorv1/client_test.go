package emulatorv1

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/require"
)

func TestClient_GetTracking_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tracking/UPS/123", r.URL.Path)
		require.Equal(t, "k", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "carrier": "UPS",
  "track_number": "123",
  "status": "in transit",
  "status_at": "2025-01-01T00:00:00Z",
  "events": [{"status":"in transit","event_time":"2025-01-01T00:00:00Z","location":"Hub"}]
}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	res, err := c.GetTracking(context.Background(), "UPS", "123")
	require.NoError(t, err)
	require.Equal(t, "in transit", res.StatusLabel)
	require.NotNil(t, res.StatusAt)
	require.WithinDuration(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), *res.StatusAt, time.Second)
	require.Len(t, res.Events, 1)
	require.Equal(t, "Hub", *res.Events[0].Location)
}

func TestClient_GetTracking_UsesCarrierEndpoint(t *testing.T) {
	fallback := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to default emulator: %s", r.URL.Path)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer fallback.Close()

	own := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/tracking/DHL/555", r.URL.Path)
		require.Equal(t, "dhl-key", r.Header.Get("X-Api-Key"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"carrier":"DHL","track_number":"555","status":"delivered","status_at":"2025-01-02T00:00:00Z"}`))
	}))
	defer own.Close()

	c := New(fallback.URL, "k").WithCarriers(carrier.NewRegistry(
		models.ShippingCarrier{Name: "DHL", Endpoint: own.URL, APIKey: "dhl-key"},
	))
	res, err := c.GetTracking(context.Background(), "DHL", "555")
	require.NoError(t, err)
	require.Equal(t, "delivered", res.StatusLabel)
}

func TestClient_GetTracking_429(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(429)
	}))
	defer srv.Close()

	c := New(srv.URL, "k")
	_, err := c.GetTracking(context.Background(), "UPS", "123")
	require.Error(t, err)
	require.Equal(t, carrier.FailureTransient, carrier.Classify(err))
}

func TestClient_CreateShipment_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/shipments", r.URL.Path)
		require.Equal(t, "carrier-key", r.Header.Get("X-Api-Key"))

		var body shipmentReq
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "UPS", body.Carrier)
		require.Equal(t, "42", body.OrderID)
		require.Equal(t, "express", body.ServiceLevel)

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"tracking_number":"1Z999","status":"in transit"}`))
	}))
	defer srv.Close()

	c := New("http://unused.invalid", "default-key")
	res, err := c.CreateShipment(context.Background(), carrier.ShipmentRequest{
		Carrier:      models.ShippingCarrier{Name: "UPS", APIKey: "carrier-key", Endpoint: srv.URL},
		OrderID:      "42",
		Address:      "1 Main St",
		ServiceLevel: "express",
	})
	require.NoError(t, err)
	require.Equal(t, "1Z999", res.TrackingNumber)
	require.Equal(t, "in transit", res.InitialStatus)
}

func TestClient_CreateShipment_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`invalid address`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").CreateShipment(context.Background(), carrier.ShipmentRequest{
		Carrier: models.ShippingCarrier{Name: "UPS"},
		OrderID: "42",
	})
	require.Error(t, err)
	require.Equal(t, carrier.FailureRejected, carrier.Classify(err))
	require.Contains(t, err.Error(), "invalid address")
}

func TestClient_CreateShipment_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := New(srv.URL, "").CreateShipment(ctx, carrier.ShipmentRequest{
		Carrier: models.ShippingCarrier{Name: "UPS"},
		OrderID: "42",
	})
	require.Error(t, err)
	require.Equal(t, carrier.FailureTimeout, carrier.Classify(err))
}

package emulatorv1

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/pkg/errors"
)

// Client talks to the carrier emulator HTTP API (v1).
// A carrier's own Endpoint and APIKey take precedence over the client defaults.
type Client struct {
	baseURL  string
	apiKey   string
	httpc    *http.Client
	carriers *carrier.Registry
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// WithCarriers lets GetTracking, which only receives a carrier code, reach the
// same endpoint the shipment was created on.
func (c *Client) WithCarriers(r *carrier.Registry) *Client {
	c.carriers = r
	return c
}

type shipmentReq struct {
	Carrier        string `json:"carrier"`
	OrderID        string `json:"order_id"`
	Address        string `json:"address"`
	ShippingMethod string `json:"shipping_method"`
	PackageDetails string `json:"package_details"`
	ServiceLevel   string `json:"service_level,omitempty"`
}

type shipmentResp struct {
	TrackingNumber    string     `json:"tracking_number"`
	Status            string     `json:"status"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
}

type respEvent struct {
	Status            string     `json:"status"`
	EventTime         time.Time  `json:"event_time"`
	Location          *string    `json:"location,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
}

type trackingResp struct {
	Carrier     string      `json:"carrier"`
	TrackNumber string      `json:"track_number"`
	Status      string      `json:"status"`
	StatusAt    time.Time   `json:"status_at"`
	Events      []respEvent `json:"events"`
}

func (c *Client) CreateShipment(ctx context.Context, in carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	name := in.Carrier.Name
	u, err := c.endpoint(in.Carrier.Endpoint, "/v1/shipments")
	if err != nil {
		return carrier.ShipmentResult{}, err
	}

	body, err := json.Marshal(shipmentReq{
		Carrier:        name,
		OrderID:        in.OrderID,
		Address:        in.Address,
		ShippingMethod: in.ShippingMethod,
		PackageDetails: in.PackageDetails,
		ServiceLevel:   in.ServiceLevel,
	})
	if err != nil {
		return carrier.ShipmentResult{}, errors.Wrap(err, "marshal shipment")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return carrier.ShipmentResult{}, errors.Wrap(err, "new request")
	}
	req.Header.Set("Content-Type", "application/json")
	c.auth(req, in.Carrier.APIKey)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.ShipmentResult{}, transportErr(ctx, name, err)
	}
	defer resp.Body.Close()

	if err := statusErr(name, resp); err != nil {
		return carrier.ShipmentResult{}, err
	}

	var sr shipmentResp
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return carrier.ShipmentResult{}, carrier.Transient(name, resp.StatusCode, "decode shipment", err)
	}
	if sr.TrackingNumber == "" {
		return carrier.ShipmentResult{}, carrier.Transient(name, resp.StatusCode, "empty tracking number", nil)
	}

	return carrier.ShipmentResult{
		TrackingNumber:    sr.TrackingNumber,
		InitialStatus:     sr.Status,
		EstimatedDelivery: sr.EstimatedDelivery,
	}, nil
}

func (c *Client) GetTracking(ctx context.Context, carrierCode, trackNumber string) (carrier.TrackingResult, error) {
	var override, key string
	if c.carriers != nil {
		if sel, err := c.carriers.Get(carrierCode); err == nil {
			override, key = sel.Endpoint, sel.APIKey
		}
	}
	u, err := c.endpoint(override, fmt.Sprintf("/v1/tracking/%s/%s", url.PathEscape(carrierCode), url.PathEscape(trackNumber)))
	if err != nil {
		return carrier.TrackingResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return carrier.TrackingResult{}, errors.Wrap(err, "new request")
	}
	c.auth(req, key)

	resp, err := c.httpc.Do(req)
	if err != nil {
		return carrier.TrackingResult{}, transportErr(ctx, carrierCode, err)
	}
	defer resp.Body.Close()

	if err := statusErr(carrierCode, resp); err != nil {
		return carrier.TrackingResult{}, err
	}

	var rb trackingResp
	if err := json.NewDecoder(resp.Body).Decode(&rb); err != nil {
		return carrier.TrackingResult{}, carrier.Transient(carrierCode, resp.StatusCode, "decode tracking", err)
	}

	evs := make([]carrier.TrackingEvent, 0, len(rb.Events))
	for _, e := range rb.Events {
		evs = append(evs, carrier.TrackingEvent{
			StatusLabel:       e.Status,
			EventTime:         e.EventTime,
			Location:          e.Location,
			EstimatedDelivery: e.EstimatedDelivery,
		})
	}

	statusAt := rb.StatusAt
	return carrier.TrackingResult{
		StatusLabel: rb.Status,
		StatusAt:    &statusAt,
		Events:      evs,
	}, nil
}

func (c *Client) endpoint(override, path string) (*url.URL, error) {
	base := c.baseURL
	if override != "" {
		base = override
	}
	u, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = path
	return u, nil
}

func (c *Client) auth(req *http.Request, key string) {
	if key == "" {
		key = c.apiKey
	}
	if key != "" {
		req.Header.Set("X-Api-Key", key)
	}
}

func transportErr(ctx context.Context, name string, err error) error {
	if ctx.Err() != nil {
		return carrier.Timeout(name, ctx.Err())
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return carrier.Timeout(name, err)
	}
	return carrier.Transient(name, 0, "do request", err)
}

func statusErr(name string, resp *http.Response) error {
	code := resp.StatusCode
	if code/100 == 2 {
		return nil
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	text := fmt.Sprintf("carrier emulator http %d", code)
	if len(msg) > 0 {
		text += ": " + string(bytes.TrimSpace(msg))
	}

	switch {
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return &carrier.Error{Carrier: name, Kind: carrier.FailureTimeout, Message: text, StatusCode: code}
	case code == http.StatusTooManyRequests || code >= 500:
		return carrier.Transient(name, code, text, nil)
	default:
		return carrier.Rejected(name, code, text)
	}
}

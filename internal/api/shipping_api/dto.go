package shipping_api

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/BearBump/ShipBox/internal/models"
)

// OrderID accepts either a JSON string or a JSON number.
type OrderID string

func (id *OrderID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = OrderID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("order_id must be a string or a number")
	}
	*id = OrderID(n.String())
	return nil
}

type createOrderRequest struct {
	OrderID        OrderID `json:"order_id"`
	Address        string  `json:"address"`
	ShippingMethod string  `json:"shipping_method"`
	PackageDetails string  `json:"package_details"`
	Status         string  `json:"status"`
}

type updateOrderRequest struct {
	OrderID        *OrderID `json:"order_id"`
	Address        *string  `json:"address"`
	ShippingMethod *string  `json:"shipping_method"`
	PackageDetails *string  `json:"package_details"`
	Status         *string  `json:"status"`
}

type integrateRequest struct {
	OrderID         OrderID `json:"order_id"`
	Carrier         string  `json:"carrier"`
	SelectedCarrier string  `json:"selected_carrier"`
	ServiceLevel    string  `json:"service_level"`
	PackageDetails  string  `json:"package_details"`
	TimeoutSeconds  float64 `json:"timeout_seconds"`
}

type statusUpdateRequest struct {
	Status            string     `json:"status"`
	Location          *string    `json:"location"`
	EstimatedDelivery *time.Time `json:"estimated_delivery"`
	TrackingNumber    *string    `json:"tracking_number"`
	Timestamp         *time.Time `json:"timestamp"`
}

type orderResponse struct {
	ID             uint64    `json:"id"`
	OrderID        string    `json:"order_id"`
	Address        string    `json:"address"`
	ShippingMethod string    `json:"shipping_method"`
	PackageDetails string    `json:"package_details"`
	Status         string    `json:"status"`
	CarrierCode    string    `json:"carrier,omitempty"`
	TrackingNumber string    `json:"tracking_number,omitempty"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type eventResponse struct {
	ID                uint64     `json:"id"`
	OrderID           string     `json:"order_id"`
	Status            string     `json:"status"`
	StatusLabel       string     `json:"status_label"`
	Location          *string    `json:"location,omitempty"`
	EstimatedDelivery *time.Time `json:"estimated_delivery,omitempty"`
	TrackingNumber    *string    `json:"tracking_number,omitempty"`
	Timestamp         time.Time  `json:"timestamp"`
	AdvancedStatus    bool       `json:"advanced_status"`
	Source            string     `json:"source"`
}

type trackingResponse struct {
	OrderID      string          `json:"order_id"`
	TrackingInfo []eventResponse `json:"tracking_info"`
}

type handoffResponse struct {
	Order         orderResponse `json:"order"`
	TrackingEvent eventResponse `json:"tracking_event"`
}

type reconcileResponse struct {
	Order         orderResponse  `json:"order"`
	TrackingEvent *eventResponse `json:"tracking_event,omitempty"`
	Advanced      bool           `json:"advanced"`
	Duplicate     bool           `json:"duplicate"`
}

type carrierResponse struct {
	Name              string   `json:"name"`
	SupportedServices []string `json:"supported_services"`
}

type errorBody struct {
	Error errorPayload `json:"error"`
}

type errorPayload struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func toOrder(o *models.ShippingOrder) orderResponse {
	return orderResponse{
		ID:             o.ID,
		OrderID:        o.OrderID,
		Address:        o.Address,
		ShippingMethod: o.ShippingMethod,
		PackageDetails: o.PackageDetails,
		Status:         string(o.Status),
		CarrierCode:    o.CarrierCode,
		TrackingNumber: o.TrackingNumber,
		Version:        o.Version,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func toEvent(e *models.TrackingEvent) eventResponse {
	return eventResponse{
		ID:                e.ID,
		OrderID:           e.OrderID,
		Status:            string(e.Status),
		StatusLabel:       e.StatusLabel,
		Location:          e.Location,
		EstimatedDelivery: e.EstimatedDelivery,
		TrackingNumber:    e.TrackingNumber,
		Timestamp:         e.EventTime,
		AdvancedStatus:    e.AdvancedStatus,
		Source:            e.Source,
	}
}

func toEvents(evs []*models.TrackingEvent) []eventResponse {
	out := make([]eventResponse, 0, len(evs))
	for _, e := range evs {
		out = append(out, toEvent(e))
	}
	return out
}

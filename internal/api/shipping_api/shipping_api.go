package shipping_api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/BearBump/ShipBox/internal/apperr"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/go-chi/chi/v5"
)

type Service interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.ShippingOrder, error)
	GetOrder(ctx context.Context, orderID string) (*models.ShippingOrder, error)
	ListOrders(ctx context.Context, f models.OrderFilter) ([]*models.ShippingOrder, error)
	UpdateOrder(ctx context.Context, orderID string, in models.OrderUpdateInput) (*models.ShippingOrder, error)
	DeleteOrder(ctx context.Context, orderID string) error
	GetTracking(ctx context.Context, orderID string) ([]*models.TrackingEvent, error)
	InitiateCarrierIntegration(ctx context.Context, in models.CarrierHandoffInput) (*models.HandoffResult, error)
	ApplyTrackingUpdate(ctx context.Context, in models.TrackingUpdateInput) (*models.ReconcileResult, error)
	Carriers() []models.ShippingCarrier
}

type ShippingAPI struct {
	svc Service
}

func New(svc Service) *ShippingAPI {
	return &ShippingAPI{svc: svc}
}

// Register mounts the shipping routes on r.
func (a *ShippingAPI) Register(r chi.Router) {
	r.Get("/health", a.health)

	r.Route("/shipping_orders", func(r chi.Router) {
		r.Get("/", a.listOrders)
		r.Post("/", a.createOrder)
		r.Get("/{orderId}", a.getOrder)
		r.Put("/{orderId}", a.updateOrder)
		r.Delete("/{orderId}", a.deleteOrder)
	})

	r.Get("/track_shipment/{orderId}", a.trackShipment)
	r.Post("/integrate_with_carrier", a.integrateWithCarrier)
	r.Put("/update_shipment_status/{orderId}", a.updateShipmentStatus)
	r.Get("/carriers", a.listCarriers)
}

func (a *ShippingAPI) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (a *ShippingAPI) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f models.OrderFilter
	if s := q.Get("status"); s != "" {
		st, err := models.ParseShippingStatus(s)
		if err != nil {
			writeError(w, apperr.Validation("%v", err))
			return
		}
		f.Status = &st
	}
	f.ShippingMethod = q.Get("shipping_method")

	var err error
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, apperr.Validation("limit: %v", err))
		return
	}
	if f.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, apperr.Validation("offset: %v", err))
		return
	}

	orders, err := a.svc.ListOrders(r.Context(), f)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, toOrder(o))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *ShippingAPI) createOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if !decode(w, r, &req) {
		return
	}
	o, err := a.svc.CreateOrder(r.Context(), models.OrderCreateInput{
		OrderID:        string(req.OrderID),
		Address:        req.Address,
		ShippingMethod: req.ShippingMethod,
		PackageDetails: req.PackageDetails,
		Status:         req.Status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(o))
}

func (a *ShippingAPI) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := a.svc.GetOrder(r.Context(), chi.URLParam(r, "orderId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (a *ShippingAPI) updateOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	var req updateOrderRequest
	if !decode(w, r, &req) {
		return
	}
	if req.OrderID != nil && string(*req.OrderID) != orderID {
		writeError(w, apperr.Validation("order_id cannot be changed"))
		return
	}
	o, err := a.svc.UpdateOrder(r.Context(), orderID, models.OrderUpdateInput{
		Address:        req.Address,
		ShippingMethod: req.ShippingMethod,
		PackageDetails: req.PackageDetails,
		Status:         req.Status,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (a *ShippingAPI) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := a.svc.DeleteOrder(r.Context(), chi.URLParam(r, "orderId")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "shipping order deleted"})
}

func (a *ShippingAPI) trackShipment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	evs, err := a.svc.GetTracking(r.Context(), orderID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, trackingResponse{OrderID: orderID, TrackingInfo: toEvents(evs)})
}

func (a *ShippingAPI) integrateWithCarrier(w http.ResponseWriter, r *http.Request) {
	var req integrateRequest
	if !decode(w, r, &req) {
		return
	}
	carrierName := req.Carrier
	if carrierName == "" {
		carrierName = req.SelectedCarrier
	}
	res, err := a.svc.InitiateCarrierIntegration(r.Context(), models.CarrierHandoffInput{
		OrderID:        string(req.OrderID),
		CarrierCode:    carrierName,
		ServiceLevel:   req.ServiceLevel,
		PackageDetails: req.PackageDetails,
		Timeout:        time.Duration(req.TimeoutSeconds * float64(time.Second)),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, handoffResponse{Order: toOrder(res.Order), TrackingEvent: toEvent(res.Event)})
}

func (a *ShippingAPI) updateShipmentStatus(w http.ResponseWriter, r *http.Request) {
	var req statusUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	in := models.TrackingUpdateInput{
		OrderID:           chi.URLParam(r, "orderId"),
		ReportedStatus:    req.Status,
		Location:          req.Location,
		EstimatedDelivery: req.EstimatedDelivery,
		TrackingNumber:    req.TrackingNumber,
		Source:            models.SourceWebhook,
	}
	if req.Timestamp != nil {
		in.EventTime = *req.Timestamp
	}

	res, err := a.svc.ApplyTrackingUpdate(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	out := reconcileResponse{Order: toOrder(res.Order), Advanced: res.Advanced, Duplicate: res.Duplicate}
	if res.Event != nil {
		ev := toEvent(res.Event)
		out.TrackingEvent = &ev
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *ShippingAPI) listCarriers(w http.ResponseWriter, r *http.Request) {
	cs := a.svc.Carriers()
	out := make([]carrierResponse, 0, len(cs))
	for _, c := range cs {
		services := c.SupportedServices
		if services == nil {
			services = []string{}
		}
		out = append(out, carrierResponse{Name: c.Name, SupportedServices: services})
	}
	writeJSON(w, http.StatusOK, out)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperr.Validation("invalid JSON body: %v", err))
		return false
	}
	return true
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// StatusCode maps an error kind to its HTTP status.
func StatusCode(err error) int {
	switch apperr.KindOf(err) {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindInvalidState, apperr.KindConflict:
		return http.StatusConflict
	case apperr.KindCarrierIntegration:
		if apperr.IsRetryable(err) {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	kind := string(apperr.KindOf(err))
	msg := err.Error()
	if kind == "" {
		kind = "INTERNAL"
	}
	if code >= http.StatusInternalServerError {
		slog.Error("request failed", "code", kind, "error", msg)
	}
	var ae *apperr.Error
	if errors.As(err, &ae) && ae.Message != "" {
		msg = ae.Message
	}
	writeJSON(w, code, errorBody{Error: errorPayload{Code: kind, Message: msg, Retryable: apperr.IsRetryable(err)}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

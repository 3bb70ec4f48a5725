package shipping

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/BearBump/ShipBox/internal/apperr"
	"github.com/BearBump/ShipBox/internal/integrations/carrier"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
)

// InitiateCarrierIntegration hands a PENDING order to a carrier. The carrier call
// happens before any write; on success the order moves to SHIPPED and the first
// tracking event is appended in one transaction.
func (e *Engine) InitiateCarrierIntegration(ctx context.Context, in models.CarrierHandoffInput) (*models.HandoffResult, error) {
	in.OrderID = strings.TrimSpace(in.OrderID)
	in.CarrierCode = strings.TrimSpace(in.CarrierCode)
	if in.OrderID == "" {
		return nil, apperr.Validation("order id is required")
	}
	if in.CarrierCode == "" {
		return nil, apperr.Validation("carrier is required")
	}
	if in.Timeout < 0 {
		return nil, apperr.Validation("timeout must not be negative")
	}
	sel, err := e.carriers.Get(in.CarrierCode)
	if err != nil {
		return nil, apperr.Validation("unknown carrier %q", in.CarrierCode)
	}
	if !sel.Supports(in.ServiceLevel) {
		return nil, apperr.Validation("carrier %s does not support service %q", sel.Name, in.ServiceLevel)
	}

	timeout := in.Timeout
	if timeout == 0 {
		timeout = e.gatewayTimeout
	}
	// the lock has to outlive the carrier call and still cover the write after it
	unlock, err := e.lockOrder(ctx, in.OrderID, timeout+e.lockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	order, err := e.store.GetOrder(ctx, in.OrderID)
	if err != nil {
		return nil, apperr.FromStore(err, "get order")
	}
	if order.Status != models.StatusPending {
		return nil, apperr.InvalidState("order %s is %s; carrier hand-off requires %s", order.OrderID, order.Status, models.StatusPending)
	}

	pkg := order.PackageDetails
	if in.PackageDetails != "" {
		pkg = in.PackageDetails
	}

	res, err := e.createShipment(ctx, timeout, carrier.ShipmentRequest{
		Carrier:        sel,
		OrderID:        order.OrderID,
		Address:        order.Address,
		ShippingMethod: order.ShippingMethod,
		PackageDetails: pkg,
		ServiceLevel:   in.ServiceLevel,
	})
	if err != nil {
		return nil, err
	}

	label := res.InitialStatus
	if st, err := models.NormalizeReportedStatus(label); err != nil || st != models.StatusShipped {
		label = models.StatusLabelInTransit
	}

	now := eventTime(e.now())
	nextCheck := now.Add(e.firstCheckDelay)
	tracking := res.TrackingNumber
	carrierName := sel.Name

	var out models.HandoffResult
	err = e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := tx.GetOrderForUpdate(ctx, order.OrderID)
		if err != nil {
			return err
		}
		if cur.Status != models.StatusPending {
			return apperr.InvalidState("order %s became %s during carrier hand-off", cur.OrderID, cur.Status)
		}
		if cur.Version != order.Version {
			return apperr.Conflict("order %s was modified during carrier hand-off", cur.OrderID)
		}

		ch := models.StatusChange{
			OrderID:         cur.OrderID,
			From:            models.StatusPending,
			To:              models.StatusShipped,
			ExpectedVersion: cur.Version,
			CarrierCode:     &carrierName,
			TrackingNumber:  &tracking,
			NextCheckAt:     &nextCheck,
		}
		if in.PackageDetails != "" {
			ch.PackageDetails = &in.PackageDetails
		}
		if out.Order, err = tx.UpdateOrderStatus(ctx, ch); err != nil {
			return err
		}

		out.Event, _, err = tx.InsertTrackingEvent(ctx, &models.TrackingEvent{
			OrderID:           cur.OrderID,
			Status:            models.StatusShipped,
			StatusLabel:       label,
			EstimatedDelivery: res.EstimatedDelivery,
			TrackingNumber:    &tracking,
			EventTime:         now,
			AdvancedStatus:    true,
			Source:            models.SourceHandoff,
		})
		return err
	})
	if err != nil {
		slog.Error("carrier shipment created but not recorded",
			"order_id", order.OrderID, "carrier", carrierName, "tracking_number", tracking, "error", err.Error())
		return nil, apperr.FromStore(err, "record carrier hand-off")
	}

	e.afterTransition(ctx, out.Order, models.StatusPending)
	return &out, nil
}

// createShipment calls the gateway under a deadline and classifies any failure.
func (e *Engine) createShipment(ctx context.Context, timeout time.Duration, req carrier.ShipmentRequest) (carrier.ShipmentResult, error) {
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	res, err := e.gateway.CreateShipment(gctx, req)
	elapsed := time.Since(started).Seconds()

	if err == nil && res.TrackingNumber == "" {
		err = carrier.Transient(req.Carrier.Name, 0, "carrier returned no tracking number", nil)
	}
	if err != nil {
		kind := carrier.Classify(err)
		if errors.Is(gctx.Err(), context.DeadlineExceeded) {
			kind = carrier.FailureTimeout
		}
		e.metrics.RecordCarrierCall(req.Carrier.Name, "create_shipment", string(kind), elapsed)
		slog.Warn("carrier hand-off failed",
			"order_id", req.OrderID, "carrier", req.Carrier.Name, "kind", kind, "error", err.Error())
		return carrier.ShipmentResult{}, apperr.CarrierIntegration(err, kind != carrier.FailureRejected,
			"carrier %s %s", req.Carrier.Name, kind)
	}

	e.metrics.RecordCarrierCall(req.Carrier.Name, "create_shipment", "ok", elapsed)
	return res, nil
}

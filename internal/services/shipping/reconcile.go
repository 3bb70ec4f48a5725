package shipping

import (
	"context"
	"log/slog"
	"strings"

	"github.com/BearBump/ShipBox/internal/apperr"
	"github.com/BearBump/ShipBox/internal/broker/messages"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
)

// ApplyTrackingUpdate records a carrier-reported event and moves the order forward when allowed.
//
// Rules, in order: an identical (order, status, event time) is a no-op; an event older
// than the latest recorded one is kept for history but never changes status; otherwise
// the reported status may only stay equal or take the next legal step.
func (e *Engine) ApplyTrackingUpdate(ctx context.Context, in models.TrackingUpdateInput) (*models.ReconcileResult, error) {
	res, err := e.applyTrackingUpdate(ctx, in)
	switch {
	case err != nil && apperr.IsTerminal(err):
		e.metrics.RecordReconciliation("rejected")
	case err != nil:
		e.metrics.RecordReconciliation("failed")
	case res.Duplicate:
		e.metrics.RecordReconciliation("duplicate")
	case res.Advanced:
		e.metrics.RecordReconciliation("advanced")
	default:
		e.metrics.RecordReconciliation("appended")
	}
	return res, err
}

func (e *Engine) applyTrackingUpdate(ctx context.Context, in models.TrackingUpdateInput) (*models.ReconcileResult, error) {
	orderID := strings.TrimSpace(in.OrderID)
	if orderID == "" {
		return nil, apperr.Validation("order id is required")
	}
	if in.EventTime.IsZero() {
		return nil, apperr.Validation("event timestamp is required")
	}
	reported, err := models.NormalizeReportedStatus(in.ReportedStatus)
	if err != nil {
		return nil, apperr.Validation("%v", err)
	}
	at := eventTime(in.EventTime)
	source := in.Source
	if source == "" {
		source = models.SourceWebhook
	}

	unlock, err := e.lockOrder(ctx, orderID, e.lockTTL)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out models.ReconcileResult
	var from models.ShippingStatus
	err = e.store.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := tx.GetOrderForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		out.Order = cur
		from = cur.Status

		if cur.Status == models.StatusPending {
			return apperr.InvalidState("order %s has not been handed to a carrier yet", orderID)
		}

		dup, err := tx.HasTrackingEvent(ctx, orderID, reported, at)
		if err != nil {
			return err
		}
		if dup {
			out.Duplicate = true
			return nil
		}

		latest, err := tx.LatestTrackingEvent(ctx, orderID)
		if err != nil {
			return err
		}
		late := latest != nil && at.Before(latest.EventTime)

		advance := false
		if !late {
			switch cmp := reported.Compare(cur.Status); {
			case cmp < 0:
				return apperr.InvalidState("reported %s is behind current status %s", reported, cur.Status)
			case cmp > 0:
				if !models.CanTransition(cur.Status, reported) {
					return apperr.InvalidState("cannot move order %s from %s to %s", orderID, cur.Status, reported)
				}
				advance = true
			}
		}

		if advance {
			ch := models.StatusChange{
				OrderID:         orderID,
				From:            cur.Status,
				To:              reported,
				ExpectedVersion: cur.Version,
			}
			if !reported.Terminal() {
				ch.NextCheckAt = cur.NextCheckAt
			}
			if out.Order, err = tx.UpdateOrderStatus(ctx, ch); err != nil {
				return err
			}
		}

		tracking := in.TrackingNumber
		if tracking == nil && cur.TrackingNumber != "" {
			tn := cur.TrackingNumber
			tracking = &tn
		}
		ev, inserted, err := tx.InsertTrackingEvent(ctx, &models.TrackingEvent{
			OrderID:           orderID,
			Status:            reported,
			StatusLabel:       strings.TrimSpace(in.ReportedStatus),
			Location:          in.Location,
			EstimatedDelivery: in.EstimatedDelivery,
			TrackingNumber:    tracking,
			EventTime:         at,
			AdvancedStatus:    advance,
			Source:            source,
		})
		if err != nil {
			return err
		}
		out.Event = ev
		out.Advanced = advance
		out.Duplicate = !inserted
		if late {
			slog.Info("late tracking event recorded", "order_id", orderID, "status", reported, "event_time", at)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.FromStore(err, "apply tracking update")
	}

	// a non-advancing event leaves the order row, and so the cached copy, unchanged
	if out.Advanced {
		e.afterTransition(ctx, out.Order, from)
	}
	return &out, nil
}

// HandleTrackingReported applies one message from the carrier tracking topic.
// Terminal failures are logged and swallowed so the message is committed;
// retryable ones are returned so it is delivered again.
func (e *Engine) HandleTrackingReported(ctx context.Context, msg messages.TrackingReported) error {
	source := msg.Source
	if source == "" {
		source = models.SourcePoller
	}
	var tracking *string
	if msg.TrackingNumber != "" {
		tn := msg.TrackingNumber
		tracking = &tn
	}

	_, err := e.ApplyTrackingUpdate(ctx, models.TrackingUpdateInput{
		OrderID:           msg.OrderID,
		ReportedStatus:    msg.Status,
		Location:          msg.Location,
		EstimatedDelivery: msg.EstimatedDelivery,
		TrackingNumber:    tracking,
		EventTime:         msg.EventTime,
		Source:            source,
	})
	if err != nil && apperr.IsTerminal(err) {
		slog.Warn("tracking report skipped",
			"order_id", msg.OrderID, "message_id", msg.MessageID, "status", msg.Status, "error", err.Error())
		return nil
	}
	return err
}

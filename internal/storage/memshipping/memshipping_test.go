package memshipping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/apperr"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/BearBump/ShipBox/internal/storage"
	"github.com/stretchr/testify/require"
)

func newOrder(t *testing.T, s *Store, id string) *models.ShippingOrder {
	t.Helper()
	o, err := s.CreateOrder(context.Background(), &models.ShippingOrder{
		OrderID:        id,
		Address:        "1 Main St",
		ShippingMethod: "Air",
		Status:         models.StatusPending,
	})
	require.NoError(t, err)
	return o
}

func TestStore_CreateGetList(t *testing.T) {
	s := New()
	ctx := context.Background()

	o := newOrder(t, s, "1")
	require.Equal(t, int64(1), o.Version)
	require.NotZero(t, o.ID)

	_, err := s.CreateOrder(ctx, &models.ShippingOrder{OrderID: "1", Status: models.StatusPending})
	require.ErrorIs(t, err, apperr.ErrValidation)

	got, err := s.GetOrder(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, "1 Main St", got.Address)

	_, err = s.GetOrder(ctx, "nope")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	newOrder(t, s, "2")
	newOrder(t, s, "3")
	list, err := s.ListOrders(ctx, models.OrderFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 2)
	require.Equal(t, "2", list[0].OrderID)

	shipped := models.StatusShipped
	list, err = s.ListOrders(ctx, models.OrderFilter{Status: &shipped})
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestStore_TxCommitIsAtomic(t *testing.T) {
	s := New()
	ctx := context.Background()
	o := newOrder(t, s, "1")
	now := time.Now().UTC()

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := tx.GetOrderForUpdate(ctx, "1")
		if err != nil {
			return err
		}
		if _, err := tx.UpdateOrderStatus(ctx, models.StatusChange{
			OrderID: "1", From: models.StatusPending, To: models.StatusShipped, ExpectedVersion: cur.Version,
		}); err != nil {
			return err
		}
		if _, _, err := tx.InsertTrackingEvent(ctx, &models.TrackingEvent{
			OrderID: "1", Status: models.StatusShipped, EventTime: now,
		}); err != nil {
			return err
		}

		// staged writes are invisible outside the tx
		outside, err := s.GetOrder(ctx, "1")
		require.NoError(t, err)
		require.Equal(t, models.StatusPending, outside.Status)
		evs, _ := s.ListTrackingEvents(ctx, "1")
		require.Empty(t, evs)
		return nil
	})
	require.NoError(t, err)

	got, err := s.GetOrder(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, models.StatusShipped, got.Status)
	require.Equal(t, o.Version+1, got.Version)
	evs, err := s.ListTrackingEvents(ctx, "1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestStore_TxRollbackDiscardsWrites(t *testing.T) {
	s := New()
	ctx := context.Background()
	newOrder(t, s, "1")
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		cur, err := tx.GetOrderForUpdate(ctx, "1")
		require.NoError(t, err)
		_, err = tx.UpdateOrderStatus(ctx, models.StatusChange{
			OrderID: "1", From: models.StatusPending, To: models.StatusShipped, ExpectedVersion: cur.Version,
		})
		require.NoError(t, err)
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetOrder(ctx, "1")
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, got.Status)

	// lock released
	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetOrderForUpdate(ctx, "1")
		return err
	}))
}

func TestStore_LockedOrderConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	newOrder(t, s, "1")

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.GetOrderForUpdate(ctx, "1")
		require.NoError(t, err)

		inner := s.InTx(ctx, func(ctx context.Context, tx2 storage.Tx) error {
			_, err := tx2.GetOrderForUpdate(ctx, "1")
			return err
		})
		require.ErrorIs(t, inner, apperr.ErrConflict)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_VersionMismatchConflicts(t *testing.T) {
	s := New()
	ctx := context.Background()
	newOrder(t, s, "1")

	err := s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.UpdateOrderStatus(ctx, models.StatusChange{
			OrderID: "1", From: models.StatusPending, To: models.StatusShipped, ExpectedVersion: 7,
		})
		return err
	})
	require.ErrorIs(t, err, apperr.ErrConflict)
}

func TestStore_InsertTrackingEventDedup(t *testing.T) {
	s := New()
	ctx := context.Background()
	newOrder(t, s, "1")
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	insert := func() bool {
		var inserted bool
		require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
			var err error
			_, inserted, err = tx.InsertTrackingEvent(ctx, &models.TrackingEvent{
				OrderID: "1", Status: models.StatusShipped, StatusLabel: "in transit", EventTime: at,
			})
			return err
		}))
		return inserted
	}
	require.True(t, insert())
	require.False(t, insert())

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		n, err := tx.CountTrackingEvents(ctx, "1")
		require.Equal(t, 1, n)
		ok, _ := tx.HasTrackingEvent(ctx, "1", models.StatusShipped, at)
		require.True(t, ok)
		latest, _ := tx.LatestTrackingEvent(ctx, "1")
		require.Equal(t, at, latest.EventTime)
		return err
	}))
}

func TestStore_DeleteOrder(t *testing.T) {
	s := New()
	ctx := context.Background()
	newOrder(t, s, "1")
	newOrder(t, s, "2")

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, _, err := tx.InsertTrackingEvent(ctx, &models.TrackingEvent{OrderID: "2", Status: models.StatusShipped, EventTime: time.Now()})
		return err
	}))

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteOrder(ctx, "1")
	}))
	_, err := s.GetOrder(ctx, "1")
	require.ErrorIs(t, err, apperr.ErrNotFound)

	err = s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		return tx.DeleteOrder(ctx, "2")
	})
	require.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestStore_ClaimAndSchedule(t *testing.T) {
	s := New()
	ctx := context.Background()
	newOrder(t, s, "1")
	now := time.Now().UTC()
	due := now.Add(-time.Minute)

	require.NoError(t, s.InTx(ctx, func(ctx context.Context, tx storage.Tx) error {
		_, err := tx.UpdateOrderStatus(ctx, models.StatusChange{
			OrderID: "1", From: models.StatusPending, To: models.StatusShipped, ExpectedVersion: 1, NextCheckAt: &due,
		})
		return err
	}))

	claimed, err := s.ClaimDueShipments(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// leased: not claimed again
	claimed, err = s.ClaimDueShipments(ctx, now, 10, time.Minute)
	require.NoError(t, err)
	require.Empty(t, claimed)

	msg := "carrier down"
	require.NoError(t, s.SchedulePoll(ctx, "1", now, now, &msg))
	got, _ := s.GetOrder(ctx, "1")
	require.Equal(t, int32(1), got.CheckFailCount)
	require.Equal(t, msg, *got.LastError)

	require.NoError(t, s.SchedulePoll(ctx, "1", now, now, nil))
	got, _ = s.GetOrder(ctx, "1")
	require.Zero(t, got.CheckFailCount)
	require.Nil(t, got.LastError)

	require.ErrorIs(t, s.SchedulePoll(ctx, "missing", now, now, nil), apperr.ErrNotFound)
}

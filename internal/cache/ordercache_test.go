package cache_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/ShipBox/internal/cache"
	cachemocks "github.com/BearBump/ShipBox/internal/cache/mocks"
	"github.com/BearBump/ShipBox/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOrderCache_PutDropsPollState(t *testing.T) {
	ctx := context.Background()
	m := cachemocks.NewMockVersionedCache(t)
	oc := cache.NewOrderCache(m, time.Minute)

	next := time.Date(2025, 3, 1, 13, 0, 0, 0, time.UTC)
	msg := "carrier timeout"
	o := &models.ShippingOrder{OrderID: "1", Status: models.StatusShipped, Version: 3,
		NextCheckAt: &next, LastCheckedAt: &next, CheckFailCount: 2, LastError: &msg}

	m.On("SetIfNewer", mock.Anything, "shipping:order:1:current", int64(3),
		mock.MatchedBy(func(b []byte) bool {
			var got models.ShippingOrder
			return json.Unmarshal(b, &got) == nil &&
				got.Status == models.StatusShipped && got.NextCheckAt == nil && got.LastError == nil && got.CheckFailCount == 0
		}), time.Minute).Return(true, nil).Once()

	stored, err := oc.Put(ctx, o)
	require.NoError(t, err)
	require.True(t, stored)
	require.NotNil(t, o.NextCheckAt)
}

func TestOrderCache_DeletedReadsAsMiss(t *testing.T) {
	ctx := context.Background()
	m := cachemocks.NewMockVersionedCache(t)
	oc := cache.NewOrderCache(m, time.Minute)

	m.On("SetIfNewer", mock.Anything, "shipping:order:1:current", mock.MatchedBy(func(v int64) bool { return v > 1<<40 }),
		mock.Anything, time.Minute).Return(true, nil).Once()
	oc.Forget(ctx, "1")

	m.On("Get", mock.Anything, "shipping:order:1:current").Return([]byte{}, true, nil).Once()
	_, ok, err := oc.Get(ctx, "1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestOrderCache_FailedWriteDropsEntry(t *testing.T) {
	ctx := context.Background()
	m := cachemocks.NewMockVersionedCache(t)
	oc := cache.NewOrderCache(m, time.Minute)

	m.On("SetIfNewer", mock.Anything, "shipping:order:1:current", int64(2), mock.Anything, time.Minute).
		Return(false, errors.New("redis timeout")).Once()
	m.On("Delete", mock.Anything, "shipping:order:1:current").Return(nil).Once()

	oc.Refresh(ctx, &models.ShippingOrder{OrderID: "1", Version: 2})
}

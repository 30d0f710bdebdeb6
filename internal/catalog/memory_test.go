package catalog

import (
	"context"
	"testing"

	admissionerrors "turnstile/internal/admission/errors"
	"turnstile/pkg/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog(&model.EventCapacity{ID: "ev-1", TotalCapacity: 2})

	got, err := c.GetEventCapacity(ctx, "ev-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.TotalCapacity)

	_, err = c.GetEventCapacity(ctx, "missing")
	assert.ErrorIs(t, err, admissionerrors.ErrEventNotFound)

	require.NoError(t, c.MarkCancelled(ctx, "ev-1"))
	require.NoError(t, c.MarkCancelled(ctx, "ev-1"))
	assert.ErrorIs(t, c.MarkCancelled(ctx, "missing"), admissionerrors.ErrEventNotFound)

	got, err = c.GetEventCapacity(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, got.IsCancelled)
}

func TestMemoryCatalog_Upsert(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCatalog()

	require.NoError(t, c.Upsert(ctx, &model.EventCapacity{ID: "ev-1", TotalCapacity: 5}))
	require.NoError(t, c.MarkCancelled(ctx, "ev-1"))

	require.NoError(t, c.Upsert(ctx, &model.EventCapacity{ID: "ev-1", TotalCapacity: 5}))
	got, err := c.GetEventCapacity(ctx, "ev-1")
	require.NoError(t, err)
	assert.True(t, got.IsCancelled, "an upsert must not revive a cancelled event")

	err = c.Upsert(ctx, &model.EventCapacity{ID: "ev-1", TotalCapacity: 6})
	assert.ErrorIs(t, err, admissionerrors.ErrCapacityChanged)
}

package register_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Vintech-code/Vapeshop/internal/register"
)

func TestStoreLifecycle(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store := &register.Store{TTL: time.Hour, Now: func() time.Time { return now }}

	id, entry := store.Create(" maria ")
	require.Equal(t, "maria", entry.Cashier)
	require.Equal(t, 1, store.Len())

	err := store.With(id, func(e *register.Entry) error {
		require.Same(t, entry, e)
		return nil
	})
	require.NoError(t, err)
	require.ErrorIs(t, store.With(uuid.New(), func(*register.Entry) error { return nil }), register.ErrSessionNotFound)

	require.True(t, store.Delete(id))
	require.False(t, store.Delete(id))
	require.ErrorIs(t, store.With(id, func(*register.Entry) error { return nil }), register.ErrSessionNotFound)
}

func TestStoreSweepExpiresIdleSessions(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store := &register.Store{TTL: time.Hour, Now: func() time.Time { return now }}

	idle, _ := store.Create("a")
	active, _ := store.Create("b")

	now = now.Add(45 * time.Minute)
	require.NoError(t, store.With(active, func(*register.Entry) error { return nil }))

	now = now.Add(30 * time.Minute)
	require.Equal(t, 1, store.Sweep(now))
	require.ErrorIs(t, store.With(idle, func(*register.Entry) error { return nil }), register.ErrSessionNotFound)
	require.NoError(t, store.With(active, func(*register.Entry) error { return nil }))
}

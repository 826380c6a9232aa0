package notification_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/notification/storetest"
)

func TestMemoryStoreConformance(t *testing.T) {
	t.Parallel()
	storetest.Run(t, func(*testing.T) notification.Store {
		return notification.NewMemoryStore()
	})
}

func TestMemoryStoreCancelledContextIsPersistenceError(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := notification.NewMemoryStore()
	_, err := s.Append(ctx, notification.New(notification.RoleAdmin, notification.KindPoacherConfirmed, "x", time.Now()))
	require.Error(t, err)
	assert.True(t, errors.IsPersistence(err))

	_, err = s.Acknowledge(ctx, notification.RoleAdmin)
	assert.True(t, errors.IsPersistence(err))
}

func TestParseRole(t *testing.T) {
	t.Parallel()

	for raw, want := range map[string]notification.Role{
		"admin":   notification.RoleAdmin,
		" Ranger": notification.RoleRanger,
	} {
		got, err := notification.ParseRole(raw)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := notification.ParseRole("poacher")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestPrepareAssignsDefaults(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 0, 0, 0, 123456789, time.UTC)
	n, err := notification.Prepare(notification.Notification{Role: notification.RoleAdmin, Kind: notification.KindPoacherCleared}, time.Time{}, time.Time{}, now)
	require.NoError(t, err)
	assert.NotEmpty(t, n.ID)
	assert.Equal(t, now.Truncate(notification.Resolution), n.CreatedAt)

	_, err = notification.Prepare(notification.Notification{Role: notification.RoleAdmin}, time.Time{}, time.Time{}, now)
	require.Error(t, err, "kind is required")
}

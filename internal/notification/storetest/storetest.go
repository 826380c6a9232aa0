// Package storetest is a conformance suite for notification.Store implementations.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/notification"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) notification.Store

var base = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

func at(sec int) time.Time { return base.Add(time.Duration(sec) * time.Second) }

func ranger(sec int) notification.Notification {
	return notification.New(notification.RoleRanger, notification.KindPoacherConfirmed, "poacher near Z01", at(sec))
}

// Run exercises every Store guarantee against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("watermark scenario", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.Append(ctx, ranger(100))
		require.NoError(t, err)
		_, err = s.Append(ctx, ranger(200))
		require.NoError(t, err)

		mark, err := s.Watermark(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.True(t, mark.IsZero(), "unset watermark is the zero time")

		n, err := s.UnreadCount(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		mark, err = s.Acknowledge(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.True(t, mark.Equal(at(200)), "watermark %s", mark)

		n, err = s.UnreadCount(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		_, err = s.Append(ctx, ranger(300))
		require.NoError(t, err)
		n, err = s.UnreadCount(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("roles are independent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.Append(ctx, ranger(100))
		require.NoError(t, err)
		admin := notification.New(notification.RoleAdmin, notification.KindPoacherConfirmed, "summary", at(100))
		_, err = s.Append(ctx, admin)
		require.NoError(t, err)

		_, err = s.Acknowledge(ctx, notification.RoleAdmin)
		require.NoError(t, err)

		n, err := s.UnreadCount(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		n, err = s.UnreadCount(ctx, notification.RoleAdmin)
		require.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("watermark never decreases", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		var last time.Time
		for i, sec := range []int{500, 100, 700, 300} {
			_, err := s.Append(ctx, ranger(sec))
			require.NoError(t, err)
			mark, err := s.Acknowledge(ctx, notification.RoleRanger)
			require.NoError(t, err)
			assert.False(t, mark.Before(last), "step %d regressed: %s < %s", i, mark, last)
			last = mark
		}

		mark, err := s.Acknowledge(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.True(t, mark.Equal(last))
	})

	t.Run("acknowledge on empty log keeps zero watermark", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		mark, err := s.Acknowledge(ctx, notification.RoleAdmin)
		require.NoError(t, err)
		assert.True(t, mark.IsZero())
	})

	t.Run("log order is non decreasing", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		for _, sec := range []int{300, 100, 200, 400} {
			_, err := s.Append(ctx, ranger(sec))
			require.NoError(t, err)
		}
		log, err := s.ListSince(ctx, notification.RoleRanger, time.Time{})
		require.NoError(t, err)
		require.Len(t, log, 4)
		for i := 1; i < len(log); i++ {
			assert.False(t, log[i].CreatedAt.Before(log[i-1].CreatedAt), "entry %d out of order", i)
		}
		assert.Equal(t, "poacher near Z01", log[0].Message)
	})

	t.Run("list since excludes the boundary", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		for _, sec := range []int{100, 200, 300} {
			_, err := s.Append(ctx, ranger(sec))
			require.NoError(t, err)
		}
		log, err := s.ListSince(ctx, notification.RoleRanger, at(200))
		require.NoError(t, err)
		require.Len(t, log, 1)
		assert.True(t, log[0].CreatedAt.Equal(at(300)))
	})

	t.Run("append after acknowledge is unread even with a late clock", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.Append(ctx, ranger(200))
		require.NoError(t, err)
		_, err = s.Acknowledge(ctx, notification.RoleRanger)
		require.NoError(t, err)

		stored, err := s.Append(ctx, ranger(150))
		require.NoError(t, err)
		assert.True(t, stored.CreatedAt.After(at(200)))

		n, err := s.UnreadCount(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("metadata round trips", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		n := ranger(100).WithLocation(-22.12, 32.31, "Z01").WithImage("img1")
		stored, err := s.Append(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, n.ID, stored.ID)

		log, err := s.ListSince(ctx, notification.RoleRanger, time.Time{})
		require.NoError(t, err)
		require.Len(t, log, 1)
		got := log[0]
		assert.Equal(t, n.ID, got.ID)
		assert.Equal(t, notification.KindPoacherConfirmed, got.Kind)
		assert.Equal(t, "Z01", got.Zone)
		assert.Equal(t, "img1", got.ImageRef)
		require.NotNil(t, got.Latitude)
		assert.InDelta(t, -22.12, *got.Latitude, 1e-9)
	})

	t.Run("unknown role is rejected", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		bad := ranger(1)
		bad.Role = "poacher"
		_, err := s.Append(ctx, bad)
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryValidation))

		_, err = s.Acknowledge(ctx, "visitor")
		require.Error(t, err)
	})

	t.Run("acknowledge is linearized with appends", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		const appends = 40
		var wg sync.WaitGroup
		wg.Go(func() {
			for i := range appends {
				_, err := s.Append(ctx, ranger(1000+i))
				assert.NoError(t, err)
			}
		})

		var marks []time.Time
		wg.Go(func() {
			for range appends {
				mark, err := s.Acknowledge(ctx, notification.RoleRanger)
				assert.NoError(t, err)
				marks = append(marks, mark)
			}
		})
		wg.Wait()

		for i := 1; i < len(marks); i++ {
			assert.False(t, marks[i].Before(marks[i-1]), "watermark regressed at %d", i)
		}

		// Everything appended before the final acknowledge is read.
		_, err := s.Acknowledge(ctx, notification.RoleRanger)
		require.NoError(t, err)
		n, err := s.UnreadCount(ctx, notification.RoleRanger)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		log, err := s.ListSince(ctx, notification.RoleRanger, time.Time{})
		require.NoError(t, err)
		assert.Len(t, log, appends)
	})
}

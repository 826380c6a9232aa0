package datastore

import (
	"time"

	"github.com/poachwatch/poachwatch/internal/errors"
)

// dbError creates a categorized database error with context pairs.
func dbError(err error, operation, priority string, context ...any) error {
	return build(errors.New(err).Category(errors.CategoryDatabase).Context("operation", operation), priority, context)
}

// persistenceError marks a failed notification or watermark write. Callers
// must surface it because it affects unread counts. The time spent before
// the failure is attached so lock waits and timeouts are visible.
func persistenceError(err error, operation string, start time.Time, context ...any) error {
	return build(errors.New(err).Category(errors.CategoryPersistence).Timing(operation, time.Since(start)), errors.PriorityHigh, context)
}

func build(b *errors.ErrorBuilder, priority string, context []any) error {
	b = b.Component("datastore")
	if priority != "" {
		b = b.Priority(priority)
	}
	for i := 0; i+1 < len(context); i += 2 {
		if key, ok := context[i].(string); ok {
			b = b.Context(key, context[i+1])
		}
	}
	return b.Build()
}

package datastore

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/poachwatch/poachwatch/internal/notification"
)

// NotificationStore implements notification.Store on the database. Append
// and Acknowledge both lock the role's watermark row inside their
// transaction, so an acknowledge either includes or excludes a concurrent
// append.
type NotificationStore struct {
	s *Store
}

var _ notification.Store = (*NotificationStore)(nil)

func (n *NotificationStore) Append(ctx context.Context, note notification.Notification) (notification.Notification, error) {
	start := time.Now()
	if err := note.Validate(); err != nil {
		return note, err
	}

	var stored notification.Notification
	err := n.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wm, err := n.s.watermarkRow(tx, note.Role)
		if err != nil {
			return err
		}

		var last NotificationRecord
		if err := tx.Where("role = ?", string(note.Role)).
			Order("created_at DESC").Order("id DESC").
			Limit(1).Find(&last).Error; err != nil {
			return err
		}

		prepared, err := notification.Prepare(note, last.CreatedAt, markOf(wm), n.s.now())
		if err != nil {
			return err
		}
		rec := toNotificationRecord(prepared)
		if err := tx.Create(&rec).Error; err != nil {
			return err
		}
		stored = rec.notification()
		return nil
	})
	n.s.observe("append", start, err)
	if err != nil {
		return note, persistenceError(err, "append_notification", start,
			"role", string(note.Role),
			"kind", string(note.Kind),
			"table", "notifications")
	}
	return stored, nil
}

func (n *NotificationStore) ListSince(ctx context.Context, role notification.Role, since time.Time) ([]notification.Notification, error) {
	start := time.Now()
	if _, err := notification.ParseRole(string(role)); err != nil {
		return nil, err
	}

	q := n.s.db.WithContext(ctx).Where("role = ?", string(role))
	if !since.IsZero() {
		q = q.Where("created_at > ?", since.UTC())
	}
	var rows []NotificationRecord
	err := q.Order("created_at ASC").Order("id ASC").Find(&rows).Error
	n.s.observe("list", start, err)
	if err != nil {
		return nil, dbError(err, "list_notifications", "", "role", string(role))
	}

	out := make([]notification.Notification, len(rows))
	for i, r := range rows {
		out[i] = r.notification()
	}
	return out, nil
}

func (n *NotificationStore) Acknowledge(ctx context.Context, role notification.Role) (time.Time, error) {
	start := time.Now()
	if _, err := notification.ParseRole(string(role)); err != nil {
		return time.Time{}, err
	}

	var mark time.Time
	err := n.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		wm, err := n.s.watermarkRow(tx, role)
		if err != nil {
			return err
		}
		mark = markOf(wm)

		var newest NotificationRecord
		if err := tx.Where("role = ?", string(role)).
			Order("created_at DESC").Limit(1).Find(&newest).Error; err != nil {
			return err
		}
		if newest.ID == 0 || !newest.CreatedAt.After(mark) {
			return nil
		}

		mark = newest.CreatedAt.UTC()
		return tx.Model(&Watermark{}).
			Where("role = ?", string(role)).
			Updates(map[string]any{"last_acknowledged_at": mark, "updated_at": time.Now().UTC()}).Error
	})
	n.s.observe("acknowledge", start, err)
	if err != nil {
		return time.Time{}, persistenceError(err, "acknowledge_watermark", start,
			"role", string(role),
			"table", "watermarks")
	}
	return mark, nil
}

func (n *NotificationStore) Watermark(ctx context.Context, role notification.Role) (time.Time, error) {
	if _, err := notification.ParseRole(string(role)); err != nil {
		return time.Time{}, err
	}
	var wm Watermark
	if err := n.s.db.WithContext(ctx).Where("role = ?", string(role)).Limit(1).Find(&wm).Error; err != nil {
		return time.Time{}, dbError(err, "get_watermark", "", "role", string(role))
	}
	return markOf(&wm), nil
}

func (n *NotificationStore) UnreadCount(ctx context.Context, role notification.Role) (int, error) {
	start := time.Now()
	if _, err := notification.ParseRole(string(role)); err != nil {
		return 0, err
	}

	var count int64
	err := n.s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var wm Watermark
		if err := tx.Where("role = ?", string(role)).Limit(1).Find(&wm).Error; err != nil {
			return err
		}
		q := tx.Model(&NotificationRecord{}).Where("role = ?", string(role))
		if wm.LastAcknowledgedAt != nil {
			q = q.Where("created_at > ?", wm.LastAcknowledgedAt.UTC())
		}
		return q.Count(&count).Error
	})
	n.s.observe("unread_count", start, err)
	if err != nil {
		return 0, dbError(err, "unread_count", "", "role", string(role))
	}
	return int(count), nil
}

// watermarkRow loads and locks the role's watermark, creating it if missing.
func (s *Store) watermarkRow(tx *gorm.DB, role notification.Role) (*Watermark, error) {
	var wm Watermark
	if err := s.lockRow(tx).Where("role = ?", string(role)).Limit(1).Find(&wm).Error; err != nil {
		return nil, err
	}
	if wm.Role == "" {
		wm = Watermark{Role: string(role), UpdatedAt: time.Now().UTC()}
		if err := tx.Create(&wm).Error; err != nil {
			return nil, err
		}
	}
	return &wm, nil
}

func markOf(wm *Watermark) time.Time {
	if wm == nil || wm.LastAcknowledgedAt == nil {
		return time.Time{}
	}
	return wm.LastAcknowledgedAt.UTC()
}

package notification

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/poachwatch/poachwatch/internal/errors"
)

// Store persists the per-role logs and watermarks.
//
// Acknowledge must read the newest createdAt and write the watermark under
// one lock or transaction, and the watermark must never decrease.
type Store interface {
	Append(ctx context.Context, n Notification) (Notification, error)
	// ListSince returns the role's notifications with createdAt after since,
	// oldest first. A zero since returns the whole log.
	ListSince(ctx context.Context, role Role, since time.Time) ([]Notification, error)
	Acknowledge(ctx context.Context, role Role) (time.Time, error)
	// Watermark returns the zero time when the role never acknowledged.
	Watermark(ctx context.Context, role Role) (time.Time, error)
	UnreadCount(ctx context.Context, role Role) (int, error)
}

// MemoryStore is a Store kept in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	logs  map[Role][]Notification
	marks map[Role]time.Time
	now   func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		logs:  make(map[Role][]Notification),
		marks: make(map[Role]time.Time),
		now:   time.Now,
	}
}

func (s *MemoryStore) Append(ctx context.Context, n Notification) (Notification, error) {
	if err := ctx.Err(); err != nil {
		return n, persistence(err, "append", n.Role)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.logs[n.Role]
	var last time.Time
	if len(log) > 0 {
		last = log[len(log)-1].CreatedAt
	}
	n, err := Prepare(n, last, s.marks[n.Role], s.now())
	if err != nil {
		return n, err
	}
	s.logs[n.Role] = append(log, n.Clone())
	return n, nil
}

func (s *MemoryStore) ListSince(ctx context.Context, role Role, since time.Time) ([]Notification, error) {
	if err := ctx.Err(); err != nil {
		return nil, persistence(err, "list", role)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	log := s.logs[role]
	// The log is ordered by createdAt, so the first unseen entry bounds the result.
	i, _ := slices.BinarySearchFunc(log, since, func(n Notification, t time.Time) int {
		if n.CreatedAt.After(t) {
			return 1
		}
		return -1
	})
	out := make([]Notification, 0, len(log)-i)
	for _, n := range log[i:] {
		out = append(out, n.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Acknowledge(ctx context.Context, role Role) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, persistence(err, "acknowledge", role)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return time.Time{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mark := s.marks[role]
	if log := s.logs[role]; len(log) > 0 {
		if newest := log[len(log)-1].CreatedAt; newest.After(mark) {
			mark = newest
		}
	}
	s.marks[role] = mark
	return mark, nil
}

func (s *MemoryStore) Watermark(ctx context.Context, role Role) (time.Time, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, persistence(err, "watermark", role)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return time.Time{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.marks[role], nil
}

func (s *MemoryStore) UnreadCount(ctx context.Context, role Role) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, persistence(err, "unread_count", role)
	}
	if _, err := ParseRole(string(role)); err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mark := s.marks[role]
	log := s.logs[role]
	count := 0
	for i := len(log) - 1; i >= 0 && log[i].CreatedAt.After(mark); i-- {
		count++
	}
	return count, nil
}

func persistence(err error, operation string, role Role) error {
	return errors.New(err).
		Category(errors.CategoryPersistence).
		Context("operation", operation).
		Context("role", string(role)).
		Build()
}

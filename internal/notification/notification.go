// Package notification holds the per-role append-only notification logs,
// the per-role acknowledgement watermarks and the fan-out to live subscribers
// and push providers.
package notification

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/poachwatch/poachwatch/internal/errors"
)

// Role is an audience with its own log and watermark.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleRanger Role = "ranger"
)

// Roles lists every role.
var Roles = []Role{RoleAdmin, RoleRanger}

// ParseRole validates a role name.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RoleAdmin, RoleRanger:
		return r, nil
	default:
		return "", errors.Newf("unknown role %q", raw).
			Category(errors.CategoryValidation).
			Context("role", raw).
			Build()
	}
}

// Kind classifies a notification.
type Kind string

const (
	KindPoacherConfirmed Kind = "poacher_confirmed"
	KindPoacherCleared   Kind = "poacher_cleared"
)

// Resolution is the smallest createdAt step kept by every store.
const Resolution = time.Microsecond

// Notification is one immutable entry of a role's log.
type Notification struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Kind      Kind      `json:"kind"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	Zone      string    `json:"zone,omitempty"`
	ImageRef  string    `json:"image_ref,omitempty"`
	Latitude  *float64  `json:"latitude,omitempty"`
	Longitude *float64  `json:"longitude,omitempty"`
}

// New creates a notification with a fresh ID.
func New(role Role, kind Kind, message string, createdAt time.Time) Notification {
	return Notification{
		ID:        uuid.NewString(),
		Role:      role,
		Kind:      kind,
		Message:   message,
		CreatedAt: createdAt,
	}
}

// WithLocation returns n with coordinates and zone attached.
func (n Notification) WithLocation(lat, lon float64, zone string) Notification {
	n.Latitude = &lat
	n.Longitude = &lon
	n.Zone = zone
	return n
}

// WithImage returns n with an image reference attached.
func (n Notification) WithImage(ref string) Notification {
	n.ImageRef = ref
	return n
}

// Clone returns a deep copy.
func (n Notification) Clone() Notification {
	if n.Latitude != nil {
		lat := *n.Latitude
		n.Latitude = &lat
	}
	if n.Longitude != nil {
		lon := *n.Longitude
		n.Longitude = &lon
	}
	return n
}

// Validate checks role and kind.
func (n Notification) Validate() error {
	if _, err := ParseRole(string(n.Role)); err != nil {
		return err
	}
	if n.Kind == "" {
		return errors.Newf("notification kind is required").
			Category(errors.CategoryValidation).
			Context("role", string(n.Role)).
			Build()
	}
	return nil
}

// Prepare validates n and assigns defaults before it is appended after last
// with the role's watermark at mark. The returned createdAt is truncated to
// Resolution, never earlier than last, and always after mark so a fresh
// append is unread.
func Prepare(n Notification, last, mark time.Time, now time.Time) (Notification, error) {
	if err := n.Validate(); err != nil {
		return n, err
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	n.CreatedAt = n.CreatedAt.UTC().Truncate(Resolution)
	if n.CreatedAt.Before(last) {
		n.CreatedAt = last
	}
	if !n.CreatedAt.After(mark) {
		n.CreatedAt = mark.Add(Resolution)
	}
	return n, nil
}

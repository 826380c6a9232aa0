package datastore

import (
	"time"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/notification"
)

// NotificationRecord is one row of a role's append-only log.
type NotificationRecord struct {
	ID        uint      `gorm:"primaryKey"`
	UID       string    `gorm:"size:36;uniqueIndex;not null"`
	Role      string    `gorm:"size:16;not null;index:idx_notification_role_created,priority:1"`
	Kind      string    `gorm:"size:32;not null"`
	Message   string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"precision:6;not null;autoCreateTime:false;index:idx_notification_role_created,priority:2"`
	Zone      string    `gorm:"size:8"`
	ImageRef  string    `gorm:"size:512"`
	Latitude  *float64
	Longitude *float64
}

func (NotificationRecord) TableName() string { return "notifications" }

// Watermark is the durable per-role acknowledgement boundary. A NULL
// LastAcknowledgedAt means the role never acknowledged.
type Watermark struct {
	Role               string     `gorm:"primaryKey;size:16"`
	LastAcknowledgedAt *time.Time `gorm:"precision:6"`
	UpdatedAt          time.Time  `gorm:"precision:6"`
}

func (Watermark) TableName() string { return "watermarks" }

// PoachingIncident is one confirmed episode.
type PoachingIncident struct {
	ID        uint       `gorm:"primaryKey"`
	Species   string     `gorm:"size:64"`
	Zone      string     `gorm:"size:8;index"`
	Latitude  *float64
	Longitude *float64
	ImageRef  string     `gorm:"size:512"`
	EnteredAt time.Time  `gorm:"precision:6;not null;index"`
	ClearedAt *time.Time `gorm:"precision:6;index"`

	ImageClass       string `gorm:"size:64"`
	ImageProbability float64
}

// ValidationRecord is one operator validation request.
type ValidationRecord struct {
	ID          uint      `gorm:"primaryKey"`
	ImageRef    string    `gorm:"size:512;not null;index"`
	RequestedBy string    `gorm:"size:64"`
	RequestedAt time.Time `gorm:"precision:6;not null;index"`
	Forwarded   bool
	Response    string `gorm:"type:text"`
	Error       string `gorm:"type:text"`
}

func (ValidationRecord) TableName() string { return "validation_requests" }

func toNotificationRecord(n notification.Notification) NotificationRecord {
	return NotificationRecord{
		UID:       n.ID,
		Role:      string(n.Role),
		Kind:      string(n.Kind),
		Message:   n.Message,
		CreatedAt: n.CreatedAt.UTC(),
		Zone:      n.Zone,
		ImageRef:  n.ImageRef,
		Latitude:  n.Latitude,
		Longitude: n.Longitude,
	}
}

func (r NotificationRecord) notification() notification.Notification {
	return notification.Notification{
		ID:        r.UID,
		Role:      notification.Role(r.Role),
		Kind:      notification.Kind(r.Kind),
		Message:   r.Message,
		CreatedAt: r.CreatedAt.UTC(),
		Zone:      r.Zone,
		ImageRef:  r.ImageRef,
		Latitude:  r.Latitude,
		Longitude: r.Longitude,
	}
}

func toIncidentRecord(inc alert.Incident) PoachingIncident {
	rec := PoachingIncident{
		Species:   inc.Species,
		Zone:      inc.Zone,
		ImageRef:  inc.ImageRef,
		EnteredAt: inc.EnteredAt.UTC(),

		ImageClass:       inc.ImageClass,
		ImageProbability: inc.ImageProbability,
	}
	if inc.Location != nil {
		lat, lon := inc.Location.Latitude, inc.Location.Longitude
		rec.Latitude, rec.Longitude = &lat, &lon
	}
	return rec
}

func (r PoachingIncident) incident() alert.Incident {
	inc := alert.Incident{
		ID:        uint64(r.ID),
		Species:   r.Species,
		Zone:      r.Zone,
		ImageRef:  r.ImageRef,
		EnteredAt: r.EnteredAt.UTC(),

		ImageClass:       r.ImageClass,
		ImageProbability: r.ImageProbability,
	}
	if r.Latitude != nil && r.Longitude != nil {
		inc.Location = &detection.Location{Latitude: *r.Latitude, Longitude: *r.Longitude}
	}
	if r.ClearedAt != nil {
		t := r.ClearedAt.UTC()
		inc.ClearedAt = &t
	}
	return inc
}

func (r ValidationRecord) request() alert.ValidationRequest {
	return alert.ValidationRequest{
		ID:          uint64(r.ID),
		ImageRef:    r.ImageRef,
		RequestedBy: r.RequestedBy,
		RequestedAt: r.RequestedAt.UTC(),
		Forwarded:   r.Forwarded,
		Response:    r.Response,
		Error:       r.Error,
	}
}

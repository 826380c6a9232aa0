package alert

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
)

// DefaultHistoryLimit is the number of incidents returned when no limit is given.
const DefaultHistoryLimit = 20

// Incident is one confirmed poaching episode.
type Incident struct {
	ID        uint64              `json:"id"`
	Species   string              `json:"species,omitempty"`
	Zone      string              `json:"zone,omitempty"`
	Location  *detection.Location `json:"location,omitempty"`
	ImageRef  string              `json:"image_ref,omitempty"`
	EnteredAt time.Time           `json:"entered_at"`
	ClearedAt *time.Time          `json:"cleared_at,omitempty"`

	// ImageClass and ImageProbability are the image classifier's prediction
	// that confirmed the episode.
	ImageClass       string  `json:"image_class,omitempty"`
	ImageProbability float64 `json:"image_probability,omitempty"`
}

// Open reports whether the episode is still running.
func (i Incident) Open() bool {
	return i.ClearedAt == nil
}

// IncidentFrom builds an open incident from a confirmed alert.
func IncidentFrom(a FusedAlert) Incident {
	a = a.clone()
	return Incident{
		Species:   a.Species,
		Zone:      a.Zone,
		Location:  a.Location,
		ImageRef:  a.ImageRef,
		EnteredAt: a.EnteredAt,

		ImageClass:       a.ImageClass,
		ImageProbability: a.ImageProbability,
	}
}

// Alert returns the CONFIRMED alert an open incident represents.
func (i Incident) Alert() FusedAlert {
	return FusedAlert{
		State:     StateConfirmed,
		Location:  i.Location,
		ImageRef:  i.ImageRef,
		Species:   i.Species,
		Zone:      i.Zone,
		EnteredAt: i.EnteredAt,

		ImageClass:       i.ImageClass,
		ImageProbability: i.ImageProbability,
	}.clone()
}

// History records confirmed episodes.
type History interface {
	// OpenIncident stores a new open incident and returns its ID.
	OpenIncident(ctx context.Context, inc Incident) (uint64, error)
	// CloseIncident marks every open incident cleared at clearedAt.
	CloseIncident(ctx context.Context, clearedAt time.Time) error
	// Incidents returns up to limit incidents, newest first.
	Incidents(ctx context.Context, limit int) ([]Incident, error)
	// Current returns the open incident, if any.
	Current(ctx context.Context) (*Incident, error)
}

// ValidationRequest records that an operator asked for an image to be
// confirmed as a poacher.
type ValidationRequest struct {
	ID          uint64    `json:"id"`
	ImageRef    string    `json:"image_ref"`
	RequestedBy string    `json:"requested_by"`
	RequestedAt time.Time `json:"requested_at"`
	Forwarded   bool      `json:"forwarded"`
	Response    string    `json:"response,omitempty"`
	Error       string    `json:"error,omitempty"`
}

// ValidationLog records validation requests.
type ValidationLog interface {
	RecordValidation(ctx context.Context, req ValidationRequest) (ValidationRequest, error)
	Validations(ctx context.Context, limit int) ([]ValidationRequest, error)
}

// MemoryHistory keeps incidents and validation requests in memory.
type MemoryHistory struct {
	mu          sync.RWMutex
	incidents   []Incident
	validations []ValidationRequest
	nextID      uint64
}

var (
	_ History       = (*MemoryHistory)(nil)
	_ ValidationLog = (*MemoryHistory)(nil)
)

// NewMemoryHistory creates an empty MemoryHistory.
func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{}
}

func (h *MemoryHistory) OpenIncident(_ context.Context, inc Incident) (uint64, error) {
	if inc.EnteredAt.IsZero() {
		return 0, errors.Newf("incident entered time is required").
			Category(errors.CategoryValidation).
			Build()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	inc.ID = h.nextID
	inc.ClearedAt = nil
	h.incidents = append(h.incidents, inc)
	return inc.ID, nil
}

func (h *MemoryHistory) CloseIncident(_ context.Context, clearedAt time.Time) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.incidents {
		if h.incidents[i].Open() {
			t := clearedAt
			h.incidents[i].ClearedAt = &t
		}
	}
	return nil
}

func (h *MemoryHistory) Incidents(_ context.Context, limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]Incident, 0, min(limit, len(h.incidents)))
	for i := len(h.incidents) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.incidents[i])
	}
	return out, nil
}

func (h *MemoryHistory) Current(_ context.Context) (*Incident, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := len(h.incidents) - 1; i >= 0; i-- {
		if h.incidents[i].Open() {
			inc := h.incidents[i]
			return &inc, nil
		}
	}
	return nil, nil
}

func (h *MemoryHistory) RecordValidation(_ context.Context, req ValidationRequest) (ValidationRequest, error) {
	if req.ImageRef == "" {
		return req, errors.Newf("image reference is required").
			Category(errors.CategoryValidation).
			Build()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	req.ID = h.nextID
	h.validations = append(h.validations, req)
	return req, nil
}

func (h *MemoryHistory) Validations(_ context.Context, limit int) ([]ValidationRequest, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := slices.Clone(h.validations)
	slices.Reverse(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

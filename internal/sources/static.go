package sources

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
)

// Static is an in-process Source whose batches and failures are set by the caller.
// It backs the offline fuse command and tests.
type Static struct {
	mu          sync.RWMutex
	movements   []detection.MovementPrediction
	images      []detection.ImageClassification
	positions   map[string][]detection.EntityPosition
	movementErr error
	imageErr    error
	validations []string
}

var _ Source = (*Static)(nil)

// NewStatic creates an empty Static source.
func NewStatic() *Static {
	return &Static{positions: make(map[string][]detection.EntityPosition)}
}

// SetMovements replaces the movement batch.
func (s *Static) SetMovements(batch ...detection.MovementPrediction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movements = slices.Clone(batch)
}

// SetImages replaces the image batch.
func (s *Static) SetImages(batch ...detection.ImageClassification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = slices.Clone(batch)
}

// SetPositions replaces the positions for kind.
func (s *Static) SetPositions(kind string, batch ...detection.EntityPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[kind] = slices.Clone(batch)
}

// FailMovements makes movement fetches return err until cleared with nil.
func (s *Static) FailMovements(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.movementErr = err
}

// FailImages makes image fetches return err until cleared with nil.
func (s *Static) FailImages(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.imageErr = err
}

// Validations returns the image refs passed to ValidatePoacher.
func (s *Static) Validations() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.validations)
}

func (s *Static) FetchMovementPredictions(ctx context.Context) ([]detection.MovementPrediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.movementErr != nil {
		return nil, staticUnavailable("movement", s.movementErr)
	}
	return slices.Clone(s.movements), nil
}

func (s *Static) FetchImageClassifications(ctx context.Context) ([]detection.ImageClassification, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.imageErr != nil {
		return nil, staticUnavailable("image", s.imageErr)
	}
	return slices.Clone(s.images), nil
}

func (s *Static) FetchEntityPositions(ctx context.Context, kind string) ([]detection.EntityPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.positions[kind]), nil
}

func (s *Static) ValidatePoacher(ctx context.Context, imageRef string) (Ack, error) {
	if err := ctx.Err(); err != nil {
		return Ack{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validations = append(s.validations, imageRef)
	return Ack{Message: "validation recorded", AcceptedAt: time.Now()}, nil
}

func staticUnavailable(source string, err error) error {
	return errors.New(err).
		Component("sources").
		Category(errors.CategorySourceUnavailable).
		Context("source", source).
		Build()
}

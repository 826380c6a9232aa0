// Package fusion combines the movement and image classifier streams into one verdict.
package fusion

import (
	"cmp"
	"slices"
	"time"

	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
)

// Level is the strength of the evidence found in one evaluation.
type Level string

const (
	LevelNone      Level = "NONE"
	LevelSuspected Level = "SUSPECTED"
	LevelConfirmed Level = "CONFIRMED"
)

// Stream names used in Dropped records.
const (
	StreamMovement = "movement"
	StreamImage    = "image"
)

// Dropped describes a record excluded from fusion because it failed validation.
type Dropped struct {
	Stream string `json:"stream"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Verdict is the outcome of one fusion pass.
type Verdict struct {
	Level    Level                          `json:"level"`
	Location *detection.Location            `json:"location,omitempty"`
	ImageRef string                         `json:"image_ref,omitempty"`
	Movement *detection.MovementPrediction  `json:"movement,omitempty"`
	Image    *detection.ImageClassification `json:"image,omitempty"`
	Dropped  []Dropped                      `json:"dropped,omitempty"`
}

// None returns an empty NONE verdict.
func None() Verdict {
	return Verdict{Level: LevelNone}
}

// Config tunes the fusion policy.
type Config struct {
	// CorrelationWindow is the largest gap between a movement prediction and
	// an image classification that still corroborates it. Zero means unbounded.
	CorrelationWindow time.Duration
	// MinImageProbability is the lowest probability a poacher image needs to count.
	MinImageProbability float64
}

// Engine evaluates batches. It holds no state between calls.
type Engine struct {
	cfg Config
}

// New creates an Engine.
func New(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Config returns the policy in use.
func (e *Engine) Config() Config {
	return e.cfg
}

// Fuse evaluates one pair of batches.
//
// Poacher movement evidence is required for any non-NONE verdict. Movement
// candidates are considered earliest first; the first one corroborated by a
// poacher image inside the correlation window yields CONFIRMED with that
// candidate's location. Otherwise the earliest candidate yields SUSPECTED.
// Among corroborating images the most probable wins, ties going to the
// earliest observation.
//
// Malformed records are skipped and listed in Verdict.Dropped. When every
// movement record is malformed Fuse returns a malformed-record error.
func (e *Engine) Fuse(movements []detection.MovementPrediction, images []detection.ImageClassification) (Verdict, error) {
	v := None()

	candidates := make([]detection.MovementPrediction, 0, len(movements))
	for i, m := range movements {
		if err := m.Validate(); err != nil {
			v.Dropped = append(v.Dropped, Dropped{Stream: StreamMovement, Index: i, Reason: err.Error()})
			continue
		}
		if m.IsPoacher() {
			candidates = append(candidates, m)
		}
	}
	if len(movements) > 0 && len(v.Dropped) == len(movements) {
		return v, errors.Newf("all %d movement records are malformed", len(movements)).
			Category(errors.CategoryMalformedRecord).
			Context("dropped", len(v.Dropped)).
			Build()
	}

	evidence := make([]detection.ImageClassification, 0, len(images))
	for i, img := range images {
		if err := img.Validate(); err != nil {
			v.Dropped = append(v.Dropped, Dropped{Stream: StreamImage, Index: i, Reason: err.Error()})
			continue
		}
		if img.IsPoacher() && img.Probability >= e.cfg.MinImageProbability {
			evidence = append(evidence, img)
		}
	}

	if len(candidates) == 0 {
		return v, nil
	}

	slices.SortStableFunc(candidates, func(a, b detection.MovementPrediction) int {
		return a.ObservedAt.Compare(b.ObservedAt)
	})
	slices.SortStableFunc(evidence, func(a, b detection.ImageClassification) int {
		if c := cmp.Compare(b.Probability, a.Probability); c != 0 {
			return c
		}
		return a.ObservedAt.Compare(b.ObservedAt)
	})

	for i := range candidates {
		m := &candidates[i]
		for j := range evidence {
			if !e.correlated(m.ObservedAt, evidence[j].ObservedAt) {
				continue
			}
			loc := m.Location()
			img := evidence[j]
			v.Level = LevelConfirmed
			v.Location = &loc
			v.ImageRef = img.ImageRef
			v.Movement = m
			v.Image = &img
			return v, nil
		}
	}

	first := candidates[0]
	loc := first.Location()
	v.Level = LevelSuspected
	v.Location = &loc
	v.Movement = &first
	return v, nil
}

func (e *Engine) correlated(movement, image time.Time) bool {
	if e.cfg.CorrelationWindow <= 0 {
		return true
	}
	gap := image.Sub(movement)
	if gap < 0 {
		gap = -gap
	}
	return gap <= e.cfg.CorrelationWindow
}

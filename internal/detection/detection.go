// Package detection provides the domain records produced by the movement and image classifiers.
// Records are immutable values; Validate reports shape problems as malformed-record errors.
package detection

import (
	"math"
	"strings"
	"time"

	"github.com/poachwatch/poachwatch/internal/errors"
)

// Label is the movement classifier's verdict for one prediction.
type Label string

const (
	LabelPoacher Label = "poacher"
	LabelNormal  Label = "normal"
)

// PoacherClass is the image class name that counts as poacher evidence.
const PoacherClass = "poacher"

// ParseLabel accepts the label spellings emitted by the movement classifier.
func ParseLabel(raw string) (Label, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "poacher", "1", "true":
		return LabelPoacher, nil
	case "normal", "0", "false":
		return LabelNormal, nil
	default:
		return "", malformed("movement", "unknown label").Context("label", raw).Build()
	}
}

// Location is a WGS84 coordinate.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// MovementPrediction is one row of the movement classifier output.
type MovementPrediction struct {
	ID         string    `json:"id"`
	Species    string    `json:"species"`
	Label      Label     `json:"label"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at"`
}

// IsPoacher reports whether the prediction is movement evidence of a poacher.
func (m MovementPrediction) IsPoacher() bool {
	return m.Label == LabelPoacher
}

// Location returns the prediction coordinates.
func (m MovementPrediction) Location() Location {
	return Location{Latitude: m.Latitude, Longitude: m.Longitude}
}

// Validate checks basic shape.
func (m MovementPrediction) Validate() error {
	switch {
	case m.Label != LabelPoacher && m.Label != LabelNormal:
		return malformed("movement", "invalid label").Context("id", m.ID).Context("label", string(m.Label)).Build()
	case !validCoordinate(m.Latitude, 90) || !validCoordinate(m.Longitude, 180):
		return malformed("movement", "coordinates out of range").Context("id", m.ID).Build()
	case m.ObservedAt.IsZero():
		return malformed("movement", "missing observation time").Context("id", m.ID).Build()
	}
	return nil
}

// ImageClassification is one result of the image classifier.
// An empty ImageRef means the classifier did not attach an image.
type ImageClassification struct {
	ClassName   string    `json:"class_name"`
	Probability float64   `json:"probability"`
	ImageRef    string    `json:"image_ref,omitempty"`
	Zone        string    `json:"zone,omitempty"`
	ObservedAt  time.Time `json:"observed_at"`
}

// IsPoacher matches the poacher class case-insensitively.
func (c ImageClassification) IsPoacher() bool {
	return strings.EqualFold(strings.TrimSpace(c.ClassName), PoacherClass)
}

// Validate checks basic shape.
func (c ImageClassification) Validate() error {
	switch {
	case strings.TrimSpace(c.ClassName) == "":
		return malformed("image", "missing class name").Build()
	case math.IsNaN(c.Probability) || c.Probability < 0 || c.Probability > 1:
		return malformed("image", "probability outside [0,1]").Context("probability", c.Probability).Build()
	case c.ObservedAt.IsZero():
		return malformed("image", "missing observation time").Build()
	}
	return nil
}

// EntityPosition is the last reported position of a tracked animal.
type EntityPosition struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	ObservedAt time.Time `json:"observed_at,omitzero"`
}

// Validate checks basic shape.
func (p EntityPosition) Validate() error {
	if !validCoordinate(p.Latitude, 90) || !validCoordinate(p.Longitude, 180) {
		return malformed("position", "coordinates out of range").Context("id", p.ID).Build()
	}
	return nil
}

func validCoordinate(v, limit float64) bool {
	return !math.IsNaN(v) && v >= -limit && v <= limit
}

func malformed(record, reason string) *errors.ErrorBuilder {
	return errors.Newf("malformed %s record: %s", record, reason).
		Component("detection").
		Category(errors.CategoryMalformedRecord).
		Context("record", record)
}

// Package sources defines the pull interfaces for detection data and their implementations.
package sources

import (
	"context"
	"time"

	"github.com/poachwatch/poachwatch/internal/detection"
)

// MovementSource returns the latest batch of movement predictions.
type MovementSource interface {
	FetchMovementPredictions(ctx context.Context) ([]detection.MovementPrediction, error)
}

// ImageSource returns the latest batch of image classifications.
type ImageSource interface {
	FetchImageClassifications(ctx context.Context) ([]detection.ImageClassification, error)
}

// PositionSource returns the latest positions of one entity kind.
type PositionSource interface {
	FetchEntityPositions(ctx context.Context, kind string) ([]detection.EntityPosition, error)
}

// Validator forwards a poacher confirmation to the classifier backend.
type Validator interface {
	ValidatePoacher(ctx context.Context, imageRef string) (Ack, error)
}

// Source bundles every pull interface.
type Source interface {
	MovementSource
	ImageSource
	PositionSource
	Validator
}

// Ack is the backend's reply to a validation request.
type Ack struct {
	Message    string    `json:"message"`
	AcceptedAt time.Time `json:"accepted_at"`
}

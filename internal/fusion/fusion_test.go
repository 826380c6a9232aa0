package fusion

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
)

var epoch = time.Unix(0, 0).UTC()

func at(sec int) time.Time { return epoch.Add(time.Duration(sec) * time.Second) }

func poacher(id string, lat, lon float64, sec int) detection.MovementPrediction {
	return detection.MovementPrediction{
		ID: id, Species: "human", Label: detection.LabelPoacher,
		Latitude: lat, Longitude: lon, ObservedAt: at(sec),
	}
}

func normal(id string, sec int) detection.MovementPrediction {
	return detection.MovementPrediction{
		ID: id, Species: "rhino", Label: detection.LabelNormal,
		Latitude: -22.1, Longitude: 32.3, ObservedAt: at(sec),
	}
}

func image(class string, p float64, ref string, sec int) detection.ImageClassification {
	return detection.ImageClassification{ClassName: class, Probability: p, ImageRef: ref, ObservedAt: at(sec)}
}

func TestFuse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		cfg       Config
		movements []detection.MovementPrediction
		images    []detection.ImageClassification
		wantLevel Level
		wantLoc   *detection.Location
		wantRef   string
	}{
		{
			name:      "movement poacher without image is suspected",
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 100)},
			wantLevel: LevelSuspected,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
		},
		{
			name:      "movement and image poacher is confirmed",
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 100)},
			images:    []detection.ImageClassification{image("poacher", 0.92, "img1", 101)},
			wantLevel: LevelConfirmed,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
			wantRef:   "img1",
		},
		{
			name:      "image alone is none",
			movements: []detection.MovementPrediction{normal("a", 100)},
			images:    []detection.ImageClassification{image("poacher", 0.99, "img1", 100)},
			wantLevel: LevelNone,
		},
		{
			name:      "empty batches are none",
			wantLevel: LevelNone,
		},
		{
			name:      "class name match is case insensitive",
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 100)},
			images:    []detection.ImageClassification{image("POACHER", 0.6, "img2", 100)},
			wantLevel: LevelConfirmed,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
			wantRef:   "img2",
		},
		{
			name:      "non poacher image does not corroborate",
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 100)},
			images:    []detection.ImageClassification{image("elephant", 0.99, "img1", 100)},
			wantLevel: LevelSuspected,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
		},
		{
			name:      "earliest movement is canonical",
			movements: []detection.MovementPrediction{poacher("late", 5, 6, 300), poacher("early", 3, 4, 100)},
			wantLevel: LevelSuspected,
			wantLoc:   &detection.Location{Latitude: 3, Longitude: 4},
		},
		{
			name: "image outside window does not corroborate",
			cfg:  Config{CorrelationWindow: time.Minute},
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 1000)},
			images:    []detection.ImageClassification{image("poacher", 0.9, "old", 100)},
			wantLevel: LevelSuspected,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
		},
		{
			name: "window picks the corroborated movement",
			cfg:  Config{CorrelationWindow: time.Minute},
			movements: []detection.MovementPrediction{
				poacher("early", 1, 2, 100),
				poacher("later", 7, 8, 1000),
			},
			images:    []detection.ImageClassification{image("poacher", 0.9, "img9", 1010)},
			wantLevel: LevelConfirmed,
			wantLoc:   &detection.Location{Latitude: 7, Longitude: 8},
			wantRef:   "img9",
		},
		{
			name:      "unbounded window accepts any held image",
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 100000)},
			images:    []detection.ImageClassification{image("poacher", 0.9, "ancient", 1)},
			wantLevel: LevelConfirmed,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
			wantRef:   "ancient",
		},
		{
			name:      "probability threshold filters weak images",
			cfg:       Config{MinImageProbability: 0.5},
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 100)},
			images:    []detection.ImageClassification{image("poacher", 0.3, "weak", 100)},
			wantLevel: LevelSuspected,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
		},
		{
			name:      "most probable image wins",
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 100)},
			images: []detection.ImageClassification{
				image("poacher", 0.7, "low", 100),
				image("poacher", 0.95, "high", 101),
			},
			wantLevel: LevelConfirmed,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
			wantRef:   "high",
		},
		{
			name:      "probability tie goes to earliest image",
			movements: []detection.MovementPrediction{poacher("a", 1, 2, 100)},
			images: []detection.ImageClassification{
				image("poacher", 0.8, "second", 105),
				image("poacher", 0.8, "first", 101),
			},
			wantLevel: LevelConfirmed,
			wantLoc:   &detection.Location{Latitude: 1, Longitude: 2},
			wantRef:   "first",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			v, err := New(tt.cfg).Fuse(tt.movements, tt.images)
			require.NoError(t, err)
			assert.Equal(t, tt.wantLevel, v.Level)
			assert.Equal(t, tt.wantLoc, v.Location)
			assert.Equal(t, tt.wantRef, v.ImageRef)
		})
	}
}

func TestFuseIsDeterministicUnderReordering(t *testing.T) {
	t.Parallel()

	movements := []detection.MovementPrediction{
		poacher("c", 5, 5, 300),
		poacher("a", 1, 1, 100),
		normal("n", 50),
		poacher("b", 3, 3, 200),
	}
	images := []detection.ImageClassification{
		image("poacher", 0.9, "x", 150),
		image("poacher", 0.9, "y", 120),
	}
	e := New(Config{})

	first, err := e.Fuse(movements, images)
	require.NoError(t, err)

	for range 10 {
		reversed := make([]detection.MovementPrediction, len(movements))
		for i, m := range movements {
			reversed[len(movements)-1-i] = m
		}
		movements = reversed
		v, err := e.Fuse(movements, images)
		require.NoError(t, err)
		assert.Equal(t, first.Location, v.Location)
		assert.Equal(t, first.ImageRef, v.ImageRef)
	}
	assert.Equal(t, &detection.Location{Latitude: 1, Longitude: 1}, first.Location)
	assert.Equal(t, "y", first.ImageRef)
}

func TestFuseDropsMalformedRecords(t *testing.T) {
	t.Parallel()

	bad := poacher("bad", 95, 2, 100) // latitude out of range
	movements := []detection.MovementPrediction{bad, poacher("ok", 1, 2, 100)}
	images := []detection.ImageClassification{
		image("poacher", 1.5, "broken", 100),
		image("poacher", 0.9, "img1", 100),
	}

	v, err := New(Config{}).Fuse(movements, images)
	require.NoError(t, err)
	assert.Equal(t, LevelConfirmed, v.Level)
	assert.Equal(t, "img1", v.ImageRef)
	require.Len(t, v.Dropped, 2)
	assert.Equal(t, StreamMovement, v.Dropped[0].Stream)
	assert.Equal(t, 0, v.Dropped[0].Index)
	assert.Equal(t, StreamImage, v.Dropped[1].Stream)
}

func TestFuseAllMovementsMalformed(t *testing.T) {
	t.Parallel()

	movements := []detection.MovementPrediction{
		{ID: "x", Label: "maybe", ObservedAt: at(1)},
		{ID: "y", Label: detection.LabelPoacher},
	}
	v, err := New(Config{}).Fuse(movements, nil)
	require.Error(t, err)
	assert.True(t, errors.IsMalformedRecord(err))
	assert.Equal(t, LevelNone, v.Level)
	assert.Len(t, v.Dropped, 2)
}

func TestFuseNeverConfirmsWithoutMovementEvidence(t *testing.T) {
	t.Parallel()

	e := New(Config{})
	images := []detection.ImageClassification{image("poacher", 1, "img", 1)}
	for i := range 20 {
		movements := []detection.MovementPrediction{normal("n", i)}
		v, err := e.Fuse(movements, images)
		require.NoError(t, err)
		assert.Equal(t, LevelNone, v.Level)
	}
}

package detection

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poachwatch/poachwatch/internal/errors"
)

func TestParseLabel(t *testing.T) {
	for _, raw := range []string{"poacher", "Poacher", " 1 ", "true"} {
		label, err := ParseLabel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, LabelPoacher, label, raw)
	}
	for _, raw := range []string{"normal", "0", "FALSE"} {
		label, err := ParseLabel(raw)
		require.NoError(t, err, raw)
		assert.Equal(t, LabelNormal, label, raw)
	}

	_, err := ParseLabel("maybe")
	assert.True(t, errors.IsMalformedRecord(err))
}

func TestMovementPredictionValidate(t *testing.T) {
	valid := MovementPrediction{ID: "1", Species: "human", Label: LabelPoacher, Latitude: 1, Longitude: 2, ObservedAt: time.Unix(100, 0)}
	require.NoError(t, valid.Validate())
	assert.True(t, valid.IsPoacher())
	assert.Equal(t, Location{Latitude: 1, Longitude: 2}, valid.Location())

	tests := []struct {
		name   string
		mutate func(*MovementPrediction)
	}{
		{"bad label", func(m *MovementPrediction) { m.Label = "unknown" }},
		{"latitude out of range", func(m *MovementPrediction) { m.Latitude = 91 }},
		{"longitude NaN", func(m *MovementPrediction) { m.Longitude = math.NaN() }},
		{"zero time", func(m *MovementPrediction) { m.ObservedAt = time.Time{} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid
			tt.mutate(&m)
			err := m.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsMalformedRecord(err))
		})
	}
}

func TestImageClassification(t *testing.T) {
	img := ImageClassification{ClassName: "POACHER", Probability: 0.92, ImageRef: "img1", ObservedAt: time.Unix(101, 0)}
	require.NoError(t, img.Validate())
	assert.True(t, img.IsPoacher())

	assert.False(t, ImageClassification{ClassName: "elephant"}.IsPoacher())

	bad := img
	bad.Probability = 1.2
	assert.True(t, errors.IsMalformedRecord(bad.Validate()))

	bad = img
	bad.ClassName = "  "
	assert.True(t, errors.IsMalformedRecord(bad.Validate()))
}

func TestZoneFor(t *testing.T) {
	assert.Equal(t, "Z01", ZoneFor(-22.12, 32.32))
	assert.Equal(t, "Z10", ZoneFor(-20.85, 31.95))
	assert.Equal(t, "", ZoneFor(1, 2))

	// shared edge between Z01 and Z03 resolves to the first listed zone
	assert.Equal(t, "Z01", ZoneFor(-22.10, 32.30))
}

package buildinfo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		info    Info
		version string
		agent   string
	}{
		{"empty", New("", "", ""), UnknownValue, "poachwatch/unknown"},
		{"tagged", New("v1.2.0", "2025-03-01", "abc123"), "v1.2.0", "poachwatch/v1.2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.version, tt.info.Version)
			assert.Equal(t, tt.agent, tt.info.UserAgent("poachwatch"))
			assert.Contains(t, tt.info.String(), tt.version)
		})
	}
}

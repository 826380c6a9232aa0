// Package buildinfo carries build-time metadata, set with -ldflags -X.
package buildinfo

import "fmt"

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

// Injected at build time.
var (
	version   string
	buildDate string
	commit    string
)

// Info is build-time metadata that is not user-configurable.
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	Commit    string `json:"commit"`
}

// Current returns the metadata of the running binary.
func Current() Info {
	return New(version, buildDate, commit)
}

// New builds an Info, replacing empty values with UnknownValue.
func New(version, buildDate, commit string) Info {
	orUnknown := func(s string) string {
		if s == "" {
			return UnknownValue
		}
		return s
	}
	return Info{Version: orUnknown(version), BuildDate: orUnknown(buildDate), Commit: orUnknown(commit)}
}

// UserAgent returns the User-Agent sent to the detection backend.
func (i Info) UserAgent(product string) string {
	return fmt.Sprintf("%s/%s", product, i.Version)
}

func (i Info) String() string {
	return fmt.Sprintf("%s (built %s, commit %s)", i.Version, i.BuildDate, i.Commit)
}

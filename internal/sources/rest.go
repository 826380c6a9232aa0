package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/httpclient"
	"github.com/poachwatch/poachwatch/internal/logger"
)

// Paths are the backend endpoints relative to the base URL.
type Paths struct {
	Movement  string
	Image     string
	Positions string
	Validate  string
}

// DefaultPaths match the classifier backend's routes.
var DefaultPaths = Paths{
	Movement:  "/xgb-results/",
	Image:     "/image-results/",
	Positions: "/mapview/",
	Validate:  "/validate-poacher/",
}

// REST pulls detection batches from the classifier backend's JSON API.
// Records are mapped leniently; shape validation happens during fusion.
type REST struct {
	client  *httpclient.Client
	baseURL string
	paths   Paths
	log     logger.Logger
	now     func() time.Time
}

var _ Source = (*REST)(nil)

// NewREST creates a REST source rooted at baseURL.
func NewREST(client *httpclient.Client, baseURL string, paths Paths, log logger.Logger) *REST {
	if client == nil {
		client = httpclient.New(nil)
	}
	if log == nil {
		log = logger.NewSlogLogger(nil, logger.LogLevelInfo, nil)
	}
	return &REST{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		paths:   paths,
		log:     log.Module("rest"),
		now:     time.Now,
	}
}

type xgbResponse struct {
	Results []xgbResult `json:"xgb_results"`
}

type xgbResult struct {
	ID         flexString `json:"id"`
	Species    string     `json:"species"`
	Prediction flexString `json:"prediction"`
	Latitude   float64    `json:"latitude"`
	Longitude  *float64   `json:"longitude"`
	// the backend serializes this column with its historical spelling
	Longtitude *float64 `json:"longtitude"`
	Timestamp  string   `json:"timestamp"`
}

type imageResponse struct {
	Results []imageResult `json:"image_results"`
	Message string        `json:"message"`
}

type imageResult struct {
	ClassName   string  `json:"class_name"`
	Probability float64 `json:"probability"`
	Zone        string  `json:"zone"`
	Datetime    string  `json:"datetime"`
	ImageURL    string  `json:"image_url"`
}

type mapViewResponse struct {
	Rhinos          []positionEntry `json:"rhinos"`
	Elephants       []positionEntry `json:"elephants"`
	LatestTimestamp string          `json:"latest_timestamp"`
}

type positionEntry struct {
	ID        flexString `json:"id"`
	Latitude  float64    `json:"latitude"`
	Longitude float64    `json:"longitude"`
}

// FetchMovementPredictions pulls the latest movement classifier batch.
func (r *REST) FetchMovementPredictions(ctx context.Context) ([]detection.MovementPrediction, error) {
	var resp xgbResponse
	if err := r.get(ctx, "movement", r.paths.Movement, &resp); err != nil {
		return nil, err
	}

	out := make([]detection.MovementPrediction, 0, len(resp.Results))
	for _, row := range resp.Results {
		label, err := detection.ParseLabel(string(row.Prediction))
		if err != nil {
			// keep the raw label so fusion drops and counts it
			label = detection.Label(row.Prediction)
		}
		lon := 0.0
		switch {
		case row.Longitude != nil:
			lon = *row.Longitude
		case row.Longtitude != nil:
			lon = *row.Longtitude
		}
		out = append(out, detection.MovementPrediction{
			ID:         string(row.ID),
			Species:    row.Species,
			Label:      label,
			Latitude:   row.Latitude,
			Longitude:  lon,
			ObservedAt: r.parseTime(row.Timestamp),
		})
	}
	return out, nil
}

// FetchImageClassifications pulls the latest image classifier batch.
// A reply without results ("camera trap off") is an empty batch.
func (r *REST) FetchImageClassifications(ctx context.Context) ([]detection.ImageClassification, error) {
	var resp imageResponse
	if err := r.get(ctx, "image", r.paths.Image, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 && resp.Message != "" {
		r.log.Debug("image source reported no results", logger.String("message", resp.Message))
	}

	out := make([]detection.ImageClassification, 0, len(resp.Results))
	for _, row := range resp.Results {
		out = append(out, detection.ImageClassification{
			ClassName:   row.ClassName,
			Probability: row.Probability,
			ImageRef:    row.ImageURL,
			Zone:        row.Zone,
			ObservedAt:  r.parseTime(row.Datetime),
		})
	}
	return out, nil
}

// FetchEntityPositions pulls the latest positions for kind ("rhino" or "elephant").
func (r *REST) FetchEntityPositions(ctx context.Context, kind string) ([]detection.EntityPosition, error) {
	var resp mapViewResponse
	if err := r.get(ctx, "positions", r.paths.Positions, &resp); err != nil {
		return nil, err
	}

	var entries []positionEntry
	switch strings.ToLower(kind) {
	case "rhino":
		entries = resp.Rhinos
	case "elephant":
		entries = resp.Elephants
	default:
		return nil, errors.Newf("unknown entity kind %q", kind).
			Component("sources").
			Category(errors.CategoryValidation).
			Build()
	}

	observed := r.parseTime(resp.LatestTimestamp)
	out := make([]detection.EntityPosition, 0, len(entries))
	for _, e := range entries {
		out = append(out, detection.EntityPosition{
			ID:         string(e.ID),
			Kind:       strings.ToLower(kind),
			Latitude:   e.Latitude,
			Longitude:  e.Longitude,
			ObservedAt: observed,
		})
	}
	return out, nil
}

// ValidatePoacher asks the backend to confirm the detection behind imageRef.
func (r *REST) ValidatePoacher(ctx context.Context, imageRef string) (Ack, error) {
	var reply struct {
		Message string `json:"message"`
	}
	url := r.baseURL + r.paths.Validate
	if err := r.client.PostJSON(ctx, url, map[string]string{"image_url": imageRef}, &reply); err != nil {
		return Ack{}, r.unavailable(err, "validate", url)
	}
	return Ack{Message: reply.Message, AcceptedAt: r.now()}, nil
}

func (r *REST) get(ctx context.Context, source, path string, out any) error {
	url := r.baseURL + path
	if err := r.client.GetJSON(ctx, url, out); err != nil {
		return r.unavailable(err, source, url)
	}
	return nil
}

func (r *REST) unavailable(err error, source, url string) error {
	priority := errors.PriorityMedium
	var statusErr *httpclient.StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode >= http.StatusInternalServerError {
		priority = errors.PriorityHigh
	}
	return errors.New(fmt.Errorf("fetch %s: %w", source, err)).
		Component("sources").
		Category(errors.CategorySourceUnavailable).
		Priority(priority).
		Context("source", source).
		Context("url", url).
		Build()
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
}

// parseTime returns the zero time for unparseable values so validation rejects the record
func (r *REST) parseTime(raw string) time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t
		}
	}
	r.log.Debug("unparseable timestamp", logger.String("value", raw))
	return time.Time{}
}

// flexString accepts JSON strings and numbers
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
		*f = flexString(strconv.FormatInt(i, 10))
		return nil
	}
	*f = flexString(n.String())
	return nil
}

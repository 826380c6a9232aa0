package engine

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/poller"
)

// CurrentAlert returns a snapshot of the live alert.
func (e *Engine) CurrentAlert() alert.FusedAlert {
	return e.machine.Current()
}

// Notifications returns role's log, oldest first.
func (e *Engine) Notifications(ctx context.Context, role notification.Role) ([]notification.Notification, error) {
	return e.notes.List(ctx, role)
}

// Unread returns the number of role's notifications newer than its watermark.
func (e *Engine) Unread(ctx context.Context, role notification.Role) (int, error) {
	return e.notes.Tracker().UnreadCount(ctx, role)
}

// UnreadNotifications returns role's notifications newer than its watermark.
func (e *Engine) UnreadNotifications(ctx context.Context, role notification.Role) ([]notification.Notification, error) {
	return e.notes.Tracker().Unread(ctx, role)
}

// Acknowledge marks everything currently in role's log as seen.
func (e *Engine) Acknowledge(ctx context.Context, role notification.Role) (time.Time, error) {
	return e.notes.Tracker().Acknowledge(ctx, role)
}

// Positions returns the last good batch of positions for kind.
func (e *Engine) Positions(kind string) ([]detection.EntityPosition, error) {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if !slices.Contains(e.cfg.PositionKinds, kind) {
		return nil, errors.Newf("unknown entity kind %q", kind).
			Component("engine").
			Category(errors.CategoryNotFound).
			Context("kind", kind).
			Build()
	}
	positions, _ := poller.Latest[[]detection.EntityPosition](e.poller, SourcePrefix+kind)
	return slices.Clone(positions), nil
}

// History returns up to limit incidents, newest first. A non-positive limit
// uses the configured default.
func (e *Engine) History(ctx context.Context, limit int) ([]alert.Incident, error) {
	if limit <= 0 {
		limit = e.cfg.HistoryLimit
	}
	return e.history.Incidents(ctx, limit)
}

// ValidationResult is the outcome of RequestValidation.
type ValidationResult struct {
	Request alert.ValidationRequest `json:"request"`
	// Duplicate is set when the same image was requested within the dedupe TTL.
	Duplicate bool `json:"duplicate"`
}

// RequestValidation records that an operator confirmed imageRef as a poacher
// and forwards it to the backend when a validator is configured. Repeats
// within the dedupe TTL return the earlier request.
func (e *Engine) RequestValidation(ctx context.Context, imageRef, requestedBy string) (ValidationResult, error) {
	imageRef = strings.TrimSpace(imageRef)
	if imageRef == "" {
		return ValidationResult{}, errors.Newf("image reference is required").
			Component("engine").
			Category(errors.CategoryValidation).
			Build()
	}
	if prev, ok := e.dedupe.Get(imageRef); ok {
		e.metrics.RecordValidation("duplicate")
		return ValidationResult{Request: prev.(alert.ValidationRequest), Duplicate: true}, nil
	}

	req := alert.ValidationRequest{
		ImageRef:    imageRef,
		RequestedBy: requestedBy,
		RequestedAt: e.now().UTC(),
	}
	result := "recorded"
	if e.validator != nil {
		ack, err := e.validator.ValidatePoacher(ctx, imageRef)
		if err != nil {
			req.Error = errors.Sanitize(err).Error()
			result = "failed"
			e.log.Warn("validation forward failed",
				logger.String("image_ref", imageRef),
				logger.Error(err))
		} else {
			req.Forwarded = true
			req.Response = ack.Message
			result = "forwarded"
		}
	}

	stored, err := e.validations.RecordValidation(ctx, req)
	if err != nil {
		e.metrics.RecordValidation("error")
		return ValidationResult{}, err
	}
	// Failed forwards are not cached so the operator can retry immediately.
	if req.Error == "" {
		e.dedupe.SetDefault(imageRef, stored)
	}
	e.metrics.RecordValidation(result)
	e.log.Info("validation requested",
		logger.String("image_ref", imageRef),
		logger.String("requested_by", requestedBy),
		logger.String("result", result))
	return ValidationResult{Request: stored}, nil
}

// Validations returns the latest validation requests, newest first.
func (e *Engine) Validations(ctx context.Context, limit int) ([]alert.ValidationRequest, error) {
	if limit <= 0 {
		limit = e.cfg.HistoryLimit
	}
	return e.validations.Validations(ctx, limit)
}

// SourceStatus reports the health of every polled source.
func (e *Engine) SourceStatus() []poller.Status {
	return e.poller.Statuses()
}

// SubscribeAlerts streams alert transitions until the returned func is called
// or the engine stops.
func (e *Engine) SubscribeAlerts() (<-chan alert.Transition, func()) {
	return e.hub.subscribe()
}

// SubscribeNotifications streams newly appended notifications for role; an
// empty role receives every role.
func (e *Engine) SubscribeNotifications(role notification.Role) (<-chan notification.Notification, func()) {
	return e.notes.Subscribe(role)
}

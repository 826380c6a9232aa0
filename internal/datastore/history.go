package datastore

import (
	"context"
	"time"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/errors"
)

var (
	_ alert.History       = (*Store)(nil)
	_ alert.ValidationLog = (*Store)(nil)
)

// OpenIncident stores a new open incident.
func (s *Store) OpenIncident(ctx context.Context, inc alert.Incident) (uint64, error) {
	start := time.Now()
	if inc.EnteredAt.IsZero() {
		return 0, errors.Newf("incident entered time is required").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	rec := toIncidentRecord(inc)
	err := s.db.WithContext(ctx).Create(&rec).Error
	s.observe("open_incident", start, err)
	if err != nil {
		return 0, dbError(err, "open_incident", errors.PriorityMedium, "zone", inc.Zone, "table", "poaching_incidents")
	}
	return uint64(rec.ID), nil
}

// CloseIncident marks open incidents cleared.
func (s *Store) CloseIncident(ctx context.Context, clearedAt time.Time) error {
	start := time.Now()
	err := s.db.WithContext(ctx).Model(&PoachingIncident{}).
		Where("cleared_at IS NULL").
		Update("cleared_at", clearedAt.UTC()).Error
	s.observe("close_incident", start, err)
	if err != nil {
		return dbError(err, "close_incident", errors.PriorityMedium, "table", "poaching_incidents")
	}
	return nil
}

// Incidents returns up to limit incidents, newest first.
func (s *Store) Incidents(ctx context.Context, limit int) ([]alert.Incident, error) {
	if limit <= 0 {
		limit = alert.DefaultHistoryLimit
	}
	var rows []PoachingIncident
	err := s.db.WithContext(ctx).Order("entered_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "list_incidents", "", "limit", limit)
	}
	out := make([]alert.Incident, len(rows))
	for i, r := range rows {
		out[i] = r.incident()
	}
	return out, nil
}

// Current returns the newest open incident.
func (s *Store) Current(ctx context.Context) (*alert.Incident, error) {
	var rows []PoachingIncident
	err := s.db.WithContext(ctx).Where("cleared_at IS NULL").
		Order("entered_at DESC").Order("id DESC").Limit(1).Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "current_incident", "")
	}
	if len(rows) == 0 {
		return nil, nil
	}
	inc := rows[0].incident()
	return &inc, nil
}

// RecordValidation stores a validation request.
func (s *Store) RecordValidation(ctx context.Context, req alert.ValidationRequest) (alert.ValidationRequest, error) {
	start := time.Now()
	if req.ImageRef == "" {
		return req, errors.Newf("image reference is required").
			Component("datastore").
			Category(errors.CategoryValidation).
			Build()
	}
	rec := ValidationRecord{
		ImageRef:    req.ImageRef,
		RequestedBy: req.RequestedBy,
		RequestedAt: req.RequestedAt.UTC(),
		Forwarded:   req.Forwarded,
		Response:    req.Response,
		Error:       req.Error,
	}
	err := s.db.WithContext(ctx).Create(&rec).Error
	s.observe("record_validation", start, err)
	if err != nil {
		return req, dbError(err, "record_validation", errors.PriorityMedium, "table", "validation_requests")
	}
	return rec.request(), nil
}

// Validations returns up to limit requests, newest first.
func (s *Store) Validations(ctx context.Context, limit int) ([]alert.ValidationRequest, error) {
	if limit <= 0 {
		limit = alert.DefaultHistoryLimit
	}
	var rows []ValidationRecord
	err := s.db.WithContext(ctx).Order("requested_at DESC").Order("id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, dbError(err, "list_validations", "", "limit", limit)
	}
	out := make([]alert.ValidationRequest, len(rows))
	for i, r := range rows {
		out[i] = r.request()
	}
	return out, nil
}

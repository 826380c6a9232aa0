package engine

import (
	"context"

	"github.com/poachwatch/poachwatch/internal/alert"
	"github.com/poachwatch/poachwatch/internal/detection"
	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/fusion"
	"github.com/poachwatch/poachwatch/internal/logger"
	"github.com/poachwatch/poachwatch/internal/notification"
	"github.com/poachwatch/poachwatch/internal/poller"
)

// Evaluate fuses the current batches and applies the verdict to the alert.
//
// Until the movement source has delivered a batch the alert is held as is.
// A fusion error is applied as NONE. Notifications that could not be
// appended are kept and retried, in order, before any newer ones. The
// returned error reports such persistence failures; the transition itself
// has been applied.
func (e *Engine) Evaluate(ctx context.Context) (alert.Transition, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	retryErr := e.flushPending(ctx)

	movements, ok := poller.Latest[[]detection.MovementPrediction](e.poller, SourceMovement)
	if !ok {
		cur := e.machine.Current()
		return alert.Transition{From: cur.State, To: cur.State, Previous: cur, Alert: cur}, retryErr
	}
	images, _ := poller.Latest[[]detection.ImageClassification](e.poller, SourceImage)

	tr, err := e.apply(ctx, movements, images)
	return tr, errors.Join(retryErr, err)
}

// EvaluateBatches runs one evaluation over explicit batches, bypassing the
// pollers. It shares the single-writer path with Evaluate.
func (e *Engine) EvaluateBatches(ctx context.Context, movements []detection.MovementPrediction, images []detection.ImageClassification) (alert.Transition, error) {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()

	retryErr := e.flushPending(ctx)
	tr, err := e.apply(ctx, movements, images)
	return tr, errors.Join(retryErr, err)
}

func (e *Engine) apply(ctx context.Context, movements []detection.MovementPrediction, images []detection.ImageClassification) (alert.Transition, error) {
	verdict, err := e.fusion.Fuse(movements, images)
	if err != nil {
		e.metrics.RecordFusionError()
		e.log.Warn("fusion failed, treating tick as NONE",
			logger.Int("movements", len(movements)),
			logger.Int("images", len(images)),
			logger.Error(err))
		verdict = fusion.None()
	}
	e.recordDropped(verdict.Dropped)
	e.metrics.RecordEvaluation(string(verdict.Level))

	now := e.now()
	tr := e.machine.Apply(verdict, now)
	if !tr.Changed {
		return tr, nil
	}

	e.metrics.RecordTransition(string(tr.From), string(tr.To), alert.StateNames())
	e.log.Info("alert transition",
		logger.String("from", string(tr.From)),
		logger.String("to", string(tr.To)),
		logger.String("zone", tr.Alert.Zone),
		logger.String("image_ref", tr.Alert.ImageRef))
	e.hub.publish(tr)
	e.queuePublish(tr)

	var notes []notification.Notification
	switch {
	case tr.Entered:
		if _, err := e.history.OpenIncident(ctx, alert.IncidentFrom(tr.Alert)); err != nil {
			e.log.Error("failed to record incident", logger.Error(err))
		}
		notes = confirmedNotifications(tr.Alert, now)
	case tr.Ended:
		if err := e.history.CloseIncident(ctx, now); err != nil {
			e.log.Error("failed to close incident", logger.Error(err))
		}
		if tr.Cleared && e.cfg.EmitCleared {
			notes = clearedNotifications(tr.Previous, now)
		}
	}
	e.pending = append(e.pending, notes...)
	return tr, e.flushPending(ctx)
}

// flushPending appends queued notifications in order and stops at the first
// failure so a role's log never skips ahead.
func (e *Engine) flushPending(ctx context.Context) error {
	for len(e.pending) > 0 {
		n := e.pending[0]
		if _, err := e.notes.Append(ctx, n); err != nil {
			return err
		}
		e.pending = e.pending[1:]
	}
	e.pending = nil
	return nil
}

// Pending returns how many notifications await a successful append.
func (e *Engine) Pending() int {
	e.evalMu.Lock()
	defer e.evalMu.Unlock()
	return len(e.pending)
}

func (e *Engine) recordDropped(dropped []fusion.Dropped) {
	if len(dropped) == 0 {
		return
	}
	counts := map[string]int{}
	for _, d := range dropped {
		counts[d.Stream]++
	}
	for stream, n := range counts {
		e.metrics.RecordDropped(stream, n)
	}
	e.log.Debug("malformed records dropped",
		logger.Int("count", len(dropped)),
		logger.String("first_reason", dropped[0].Reason))
}

func (e *Engine) queuePublish(tr alert.Transition) {
	if len(e.publishers) == 0 {
		return
	}
	select {
	case e.outbound <- tr:
	default:
		e.log.Warn("publish queue full, transition not forwarded",
			logger.String("to", string(tr.To)))
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/poachwatch/poachwatch/internal/errors"
	"github.com/poachwatch/poachwatch/internal/logger"
)

const sseWriteDeadline = 10 * time.Second

func setSSEHeaders(ctx echo.Context) {
	h := ctx.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set(echo.HeaderCacheControl, "no-cache")
	h.Set(echo.HeaderConnection, "keep-alive")
	ctx.Response().WriteHeader(http.StatusOK)
}

func sendSSEMessage(ctx echo.Context, event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return errors.New(err).
			Component("api").
			Category(errors.CategoryGeneric).
			Context("event", event).
			Build()
	}
	rc := http.NewResponseController(ctx.Response().Writer)
	_ = rc.SetWriteDeadline(time.Now().Add(sseWriteDeadline))
	if _, err := fmt.Fprintf(ctx.Response(), "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	ctx.Response().Flush()
	return nil
}

func sendHeartbeat(ctx echo.Context) error {
	if _, err := fmt.Fprint(ctx.Response(), ": heartbeat\n\n"); err != nil {
		return err
	}
	ctx.Response().Flush()
	return nil
}

// streamLoop forwards values from ch as SSE events until the client goes
// away or ch is closed.
func streamLoop[T any](s *Server, ctx echo.Context, event string, ch <-chan T) error {
	ticker := time.NewTicker(s.cfg.Heartbeat)
	defer ticker.Stop()
	done := ctx.Request().Context().Done()
	for {
		select {
		case <-done:
			return nil
		case v, ok := <-ch:
			if !ok {
				return nil
			}
			if err := sendSSEMessage(ctx, event, v); err != nil {
				s.log.Debug("sse client dropped", logger.String("event", event), logger.Error(err))
				return nil
			}
		case <-ticker.C:
			if err := sendHeartbeat(ctx); err != nil {
				return nil
			}
		}
	}
}

// StreamAlerts sends the current alert, then every transition, as SSE.
func (s *Server) StreamAlerts(ctx echo.Context) error {
	ch, unsub := s.facade.SubscribeAlerts()
	defer unsub()

	setSSEHeaders(ctx)
	if err := sendSSEMessage(ctx, "alert", s.facade.CurrentAlert()); err != nil {
		return nil
	}
	return streamLoop(s, ctx, "transition", ch)
}

// StreamNotifications sends every new notification for a role as SSE.
func (s *Server) StreamNotifications(ctx echo.Context) error {
	role, err := s.role(ctx)
	if err != nil {
		return s.HandleError(ctx, err, "Unknown role", http.StatusBadRequest)
	}
	ch, unsub := s.facade.SubscribeNotifications(role)
	defer unsub()

	setSSEHeaders(ctx)
	if err := sendSSEMessage(ctx, "connected", map[string]any{"role": role}); err != nil {
		return nil
	}
	return streamLoop(s, ctx, "notification", ch)
}

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/poachwatch/poachwatch/internal/notification"
)

// GetAlert returns the live FusedAlert.
func (s *Server) GetAlert(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, s.facade.CurrentAlert())
}

func (s *Server) role(ctx echo.Context) (notification.Role, error) {
	return notification.ParseRole(ctx.Param("role"))
}

// GetNotifications returns a role's log, oldest first. With ?unread=true only
// notifications newer than the watermark are returned.
func (s *Server) GetNotifications(ctx echo.Context) error {
	role, err := s.role(ctx)
	if err != nil {
		return s.HandleError(ctx, err, "Unknown role", http.StatusBadRequest)
	}

	onlyUnread, _ := strconv.ParseBool(ctx.QueryParam("unread"))
	var list []notification.Notification
	if onlyUnread {
		list, err = s.facade.UnreadNotifications(ctx.Request().Context(), role)
	} else {
		list, err = s.facade.Notifications(ctx.Request().Context(), role)
	}
	if err != nil {
		return s.HandleError(ctx, err, "Failed to retrieve notifications", http.StatusInternalServerError)
	}
	if list == nil {
		list = []notification.Notification{}
	}
	return ctx.JSON(http.StatusOK, map[string]any{
		"role":          role,
		"notifications": list,
		"count":         len(list),
	})
}

// GetUnreadCount returns how many of a role's notifications are unread.
func (s *Server) GetUnreadCount(ctx echo.Context) error {
	role, err := s.role(ctx)
	if err != nil {
		return s.HandleError(ctx, err, "Unknown role", http.StatusBadRequest)
	}
	n, err := s.facade.Unread(ctx.Request().Context(), role)
	if err != nil {
		return s.HandleError(ctx, err, "Failed to count unread notifications", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"role": role, "unread": n})
}

// Acknowledge advances a role's watermark to its newest notification.
func (s *Server) Acknowledge(ctx echo.Context) error {
	role, err := s.role(ctx)
	if err != nil {
		return s.HandleError(ctx, err, "Unknown role", http.StatusBadRequest)
	}
	mark, err := s.facade.Acknowledge(ctx.Request().Context(), role)
	if err != nil {
		return s.HandleError(ctx, err, "Failed to acknowledge notifications", http.StatusInternalServerError)
	}
	var acknowledged *time.Time
	if !mark.IsZero() {
		acknowledged = &mark
	}
	return ctx.JSON(http.StatusOK, map[string]any{"role": role, "acknowledged_at": acknowledged})
}

// GetPositions returns the latest positions of one entity kind.
func (s *Server) GetPositions(ctx echo.Context) error {
	kind := ctx.Param("kind")
	positions, err := s.facade.Positions(kind)
	if err != nil {
		return s.HandleError(ctx, err, "Unknown entity kind", statusFor(err))
	}
	return ctx.JSON(http.StatusOK, map[string]any{"kind": kind, "positions": positions, "count": len(positions)})
}

func queryLimit(ctx echo.Context) int {
	limit, err := strconv.Atoi(ctx.QueryParam("limit"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}

// GetHistory returns recent poaching incidents, newest first.
func (s *Server) GetHistory(ctx echo.Context) error {
	incidents, err := s.facade.History(ctx.Request().Context(), queryLimit(ctx))
	if err != nil {
		return s.HandleError(ctx, err, "Failed to retrieve incident history", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"incidents": incidents, "count": len(incidents)})
}

// ValidationRequestBody is the payload of POST /validations.
type ValidationRequestBody struct {
	ImageRef    string `json:"image_ref"`
	RequestedBy string `json:"requested_by"`
}

// RequestValidation records an operator's poacher confirmation for an image.
func (s *Server) RequestValidation(ctx echo.Context) error {
	var body ValidationRequestBody
	if err := ctx.Bind(&body); err != nil {
		return s.HandleError(ctx, err, "Invalid request body", http.StatusBadRequest)
	}
	res, err := s.facade.RequestValidation(ctx.Request().Context(), body.ImageRef, body.RequestedBy)
	if err != nil {
		return s.HandleError(ctx, err, "Failed to record validation request", statusFor(err))
	}
	code := http.StatusAccepted
	if res.Duplicate {
		code = http.StatusOK
	}
	return ctx.JSON(code, res)
}

// GetValidations lists recent validation requests.
func (s *Server) GetValidations(ctx echo.Context) error {
	list, err := s.facade.Validations(ctx.Request().Context(), queryLimit(ctx))
	if err != nil {
		return s.HandleError(ctx, err, "Failed to retrieve validation requests", http.StatusInternalServerError)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"validations": list, "count": len(list)})
}

// GetSources reports the poller status of every source.
func (s *Server) GetSources(ctx echo.Context) error {
	statuses := s.facade.SourceStatus()
	out := make([]map[string]any, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, map[string]any{
			"source":               st.SourceID,
			"interval":             st.Interval.String(),
			"last_attempt":         st.LastAttempt,
			"last_success":         st.LastSuccess,
			"last_error":           st.LastError,
			"consecutive_failures": st.ConsecutiveFailures,
			"skipped_ticks":        st.SkippedTicks,
			"has_data":             st.HasData,
			"stale":                st.Stale(),
		})
	}
	return ctx.JSON(http.StatusOK, map[string]any{"sources": out})
}

package api

import (
	"github.com/labstack/echo/v4"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/internal/usecase"
	xhttp "github.com/303webhouse/pandoras-box-sub000/pkg/http"
)

// ConnectionSource reports the live stream state.
type ConnectionSource interface {
	State() models.ConnectionState
}

// StatusHandler serves scouts, connection and activity state.
type StatusHandler struct {
	scouts   *usecase.ScoutTracker
	conn     ConnectionSource
	activity *usecase.ActivityState
	mw       []echo.MiddlewareFunc
}

func NewStatusHandler(scouts *usecase.ScoutTracker, conn ConnectionSource, activity *usecase.ActivityState, mw ...echo.MiddlewareFunc) *StatusHandler {
	return &StatusHandler{scouts: scouts, conn: conn, activity: activity, mw: mw}
}

func (h *StatusHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api", h.mw...)
	g.GET("/scouts", h.Scouts)
	g.DELETE("/scouts/:id", h.DismissScout)
	g.GET("/connection", h.Connection)
	g.GET("/activity", h.Activity)
}

func (h *StatusHandler) Scouts(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.scouts.Snapshot())
}

func (h *StatusHandler) DismissScout(c echo.Context) error {
	id := c.Param("id")
	if !h.scouts.Dismiss(id) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("scout %s not found", id))
	}
	return xhttp.NoContentResponse(c)
}

func (h *StatusHandler) Connection(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.conn.State())
}

func (h *StatusHandler) Activity(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.activity.Snapshot())
}

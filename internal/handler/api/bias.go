package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/internal/usecase"
	xhttp "github.com/303webhouse/pandoras-box-sub000/pkg/http"
	xlogger "github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

// BiasHandler serves the bias board and the user's bias controls.
type BiasHandler struct {
	logger *xlogger.Logger
	board  *usecase.BiasBoard
	mw     []echo.MiddlewareFunc
}

func NewBiasHandler(logger *xlogger.Logger, board *usecase.BiasBoard, mw ...echo.MiddlewareFunc) *BiasHandler {
	return &BiasHandler{logger: logger, board: board, mw: mw}
}

func (h *BiasHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/bias", h.mw...)
	g.GET("", h.Board)
	g.GET("/trading", h.Trading)
	g.PUT("/factors", h.ToggleFactor)
	g.PUT("/personal", h.Personal)
	g.POST("/override", h.SetOverride)
	g.DELETE("/override", h.ClearOverride)
}

func (h *BiasHandler) Board(c echo.Context) error {
	snap := h.board.Snapshot()
	return xhttp.SnapshotResponse(c, snap, snap.Stale)
}

func (h *BiasHandler) Trading(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.board.TradingBias())
}

func (h *BiasHandler) ToggleFactor(c echo.Context) error {
	req := &models.FactorToggleRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	tf, ok := models.ParseTimeframe(req.Timeframe)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestErrorf("unknown timeframe %q", req.Timeframe))
	}

	view, err := h.board.SetFactorEnabled(c.Request().Context(), tf, req.FactorID, req.Enabled)
	if err != nil {
		if errors.Is(err, usecase.ErrUnknownTimeframe) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
		}
		// the toggle applied locally; only persistence failed
		h.logger.Warn("factor toggle not persisted", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, view)
}

func (h *BiasHandler) Personal(c echo.Context) error {
	req := &models.PersonalBiasRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	state, err := h.board.SetPersonal(c.Request().Context(), req.Direction, req.AppliesTo)
	if err != nil {
		if errors.Is(err, usecase.ErrInvalidPersonal) {
			return xhttp.AppErrorResponse(c, xhttp.BadRequestError(err.Error()))
		}
		h.logger.Warn("personal bias not persisted", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, state)
}

func (h *BiasHandler) SetOverride(c echo.Context) error {
	req := &models.OverrideRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	dir, err := usecase.ParseOverrideDirection(req.Direction)
	if err != nil {
		return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_ONEOF", "direction", err.Error(), http.StatusBadRequest))
	}
	ttl := time.Duration(req.TTLMinutes) * time.Minute
	tb, err := h.board.SetOverride(c.Request().Context(), dir, req.Reason, ttl)
	if err != nil {
		h.logger.Warn("override not persisted", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, tb)
}

func (h *BiasHandler) ClearOverride(c echo.Context) error {
	tb, err := h.board.ClearOverride(c.Request().Context())
	if err != nil {
		h.logger.Warn("override clear not persisted", xlogger.Error(err))
	}
	return xhttp.SuccessResponse(c, tb)
}

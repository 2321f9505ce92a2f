package api

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/303webhouse/pandoras-box-sub000/internal/domain/models"
	"github.com/303webhouse/pandoras-box-sub000/internal/usecase"
	xhttp "github.com/303webhouse/pandoras-box-sub000/pkg/http"
	xlogger "github.com/303webhouse/pandoras-box-sub000/pkg/logger"
)

// SignalsHandler serves the ranked feeds and the accept/dismiss actions.
type SignalsHandler struct {
	logger *xlogger.Logger
	feed   *usecase.SignalFeed
	mw     []echo.MiddlewareFunc
}

func NewSignalsHandler(logger *xlogger.Logger, feed *usecase.SignalFeed, mw ...echo.MiddlewareFunc) *SignalsHandler {
	return &SignalsHandler{logger: logger, feed: feed, mw: mw}
}

func (h *SignalsHandler) RegisterRoutes(e *echo.Echo) {
	g := e.Group("/api/signals", h.mw...)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/more", h.More)
	g.POST("/:id/accept", h.Accept)
	g.POST("/:id/dismiss", h.Dismiss)
}

type moreResponse struct {
	Added int             `json:"added"`
	List  models.FeedList `json:"list"`
}

func (h *SignalsHandler) List(c echo.Context) error {
	req := &models.SignalsQuery{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap := h.feed.Snapshot()
	return xhttp.SnapshotResponse(c, listOf(snap, req.AssetClass), snap.Stale)
}

func (h *SignalsHandler) Get(c echo.Context) error {
	id := c.Param("id")
	sig, ok := h.feed.Find(id)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("signal %s not found", id))
	}
	return xhttp.SuccessResponse(c, sig)
}

func (h *SignalsHandler) More(c echo.Context) error {
	req := &models.SignalsQuery{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	ac := models.ParseAssetClass(req.AssetClass)
	added, err := h.feed.LoadMore(c.Request().Context(), ac)
	if err != nil {
		h.logger.Error("load more failed", xlogger.String("asset_class", string(ac)), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.BadGatewayError("could not load more signals").WithError(err))
	}
	return xhttp.SuccessResponse(c, moreResponse{Added: added, List: listOf(h.feed.Snapshot(), req.AssetClass)})
}

func (h *SignalsHandler) Accept(c echo.Context) error {
	id := c.Param("id")
	if err := h.feed.Accept(c.Request().Context(), id); err != nil {
		return h.actionError(c, "accept", id, err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *SignalsHandler) Dismiss(c echo.Context) error {
	id := c.Param("id")
	req := &models.DismissRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	if err := h.feed.Dismiss(c.Request().Context(), id, req.Reason); err != nil {
		return h.actionError(c, "dismiss", id, err)
	}
	return xhttp.NoContentResponse(c)
}

func (h *SignalsHandler) actionError(c echo.Context, op, id string, err error) error {
	if errors.Is(err, usecase.ErrSignalNotFound) {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("signal %s not found", id))
	}
	h.logger.Error("signal "+op+" failed", xlogger.String("signal_id", id), xlogger.Error(err))
	return xhttp.AppErrorResponse(c, xhttp.BadGatewayError("backend rejected "+op).WithError(err))
}

func listOf(snap models.FeedSnapshot, assetClass string) models.FeedList {
	l := snap.Lists[models.ParseAssetClass(assetClass)]
	if l.Signals == nil {
		l.Signals = []models.Signal{}
	}
	return l
}

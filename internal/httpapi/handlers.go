// Package httpapi serves the conveyor grid over HTTP with echo: REST
// commands, a JSON snapshot, a websocket snapshot stream and /metrics.
package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/model"
)

// DefaultStreamInterval caps the websocket stream at 30 frames per second.
const DefaultStreamInterval = time.Second / 30

// Handler holds the dependencies of every route.
type Handler struct {
	registry       *core.Registry
	bounds         model.Bounds
	log            logging.Logger
	metrics        http.Handler
	upgrader       websocket.Upgrader
	streamInterval time.Duration
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) HandlerOption {
	return func(hd *Handler) {
		hd.metrics = h
	}
}

// WithStreamInterval sets the minimum spacing between websocket frames.
func WithStreamInterval(d time.Duration) HandlerOption {
	return func(hd *Handler) {
		if d > 0 {
			hd.streamInterval = d
		}
	}
}

// NewHandler constructs a Handler for registry. Commands outside bounds are
// rejected.
func NewHandler(registry *core.Registry, bounds model.Bounds, log logging.Logger, opts ...HandlerOption) *Handler {
	if log == nil {
		log = logging.Noop()
	}
	h := &Handler{
		registry: registry,
		bounds:   bounds,
		log:      log,
		upgrader: websocket.Upgrader{
			CheckOrigin:       func(*http.Request) bool { return true },
			EnableCompression: true,
		},
		streamInterval: DefaultStreamInterval,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type toggleResponse struct {
	Created   bool   `json:"created"`
	Direction string `json:"direction"`
	BeltID    string `json:"belt_id"`
}

// HandleToggle places a belt on an empty cell or rotates the one there.
// It answers 201 on creation and 200 on rotation.
func (h *Handler) HandleToggle(c echo.Context) error {
	at, err := h.cellParam(c)
	if err != nil {
		return err
	}
	b, created := h.registry.PlaceOrRotate(at)
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	return c.JSON(status, toggleResponse{
		Created:   created,
		Direction: b.Direction().String(),
		BeltID:    b.ID(),
	})
}

type placeRequest struct {
	Direction string `json:"direction"`
}

type placeResponse struct {
	BeltID    string `json:"belt_id"`
	Direction string `json:"direction"`
	Replaced  bool   `json:"replaced"`
}

// HandlePlace puts a new belt facing the requested direction on the cell,
// replacing any belt already there.
func (h *Handler) HandlePlace(c echo.Context) error {
	at, err := h.cellParam(c)
	if err != nil {
		return err
	}
	var req placeRequest
	if err := c.Bind(&req); err != nil {
		return newBadRequestError("invalid request body", err)
	}
	d, err := model.ParseDirection(req.Direction)
	if err != nil {
		return newBadRequestError("invalid direction", err)
	}

	b, replaced := h.registry.PlaceBelt(at, d)
	if replaced {
		ctx := c.Request().Context()
		logging.FromContext(ctx, h.log).Info(ctx, "belt replaced over HTTP", logging.String("coord", at.String()))
	}
	return c.JSON(http.StatusOK, placeResponse{
		BeltID:    b.ID(),
		Direction: d.String(),
		Replaced:  replaced,
	})
}

type spawnResponse struct {
	ItemID int `json:"item_id"`
}

// HandleSpawn puts a fresh item on the belt at the cell.
func (h *Handler) HandleSpawn(c echo.Context) error {
	at, err := h.cellParam(c)
	if err != nil {
		return err
	}
	item, ok := h.registry.SpawnItem(at)
	if !ok {
		return newNoBeltError(at.X, at.Y)
	}
	return c.JSON(http.StatusCreated, spawnResponse{ItemID: item.ID})
}

// HandleGrid returns the current snapshot.
func (h *Handler) HandleGrid(c echo.Context) error {
	return c.JSON(http.StatusOK, newGrid(h.registry.Snapshot(), h.bounds))
}

// HandleHealth reports liveness with a few engine counts.
func (h *Handler) HandleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"belts":     h.registry.Len(),
		"in_flight": len(h.registry.InFlight()),
	})
}

func (h *Handler) cellParam(c echo.Context) (model.Coord, error) {
	x, err := strconv.Atoi(c.Param("x"))
	if err != nil {
		return model.Coord{}, newBadRequestError("x must be an integer", err)
	}
	y, err := strconv.Atoi(c.Param("y"))
	if err != nil {
		return model.Coord{}, newBadRequestError("y must be an integer", err)
	}
	at := model.Coord{X: x, Y: y}
	if !h.bounds.Contains(at) {
		return at, newOutOfBoundsError(x, y, h.bounds.Width, h.bounds.Height)
	}
	return at, nil
}

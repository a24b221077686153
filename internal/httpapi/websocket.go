package httpapi

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	formatJSON    = "json"
	formatMsgpack = "msgpack"

	writeTimeout = 5 * time.Second
)

// HandleGridStream upgrades to a websocket and pushes the grid once on
// connect and again after changes, at most once per stream interval.
// ?format=msgpack switches from JSON text frames to msgpack binary frames.
func (h *Handler) HandleGridStream(c echo.Context) error {
	format := c.QueryParam("format")
	switch format {
	case "":
		format = formatJSON
	case formatJSON, formatMsgpack:
	default:
		return newBadRequestError("format must be json or msgpack", nil)
	}

	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()
	log := logging.FromContext(ctx, h.log).With(logging.String("format", format))
	log.Debug(ctx, "grid stream connected")

	// Reads only detect the peer going away.
	go func() {
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Debug(ctx, "grid stream read failed", logging.Err(err))
				}
				return
			}
		}
	}()

	changed := make(chan struct{}, 1)
	unsubscribe := h.registry.Watch(func(uint64) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	for {
		if err := h.writeGrid(ws, format); err != nil {
			log.Debug(ctx, "grid stream write failed", logging.Err(err))
			return nil
		}
		select {
		case <-ctx.Done():
			log.Debug(ctx, "grid stream closed")
			return nil
		case <-changed:
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(h.streamInterval):
		}
	}
}

func (h *Handler) writeGrid(ws *websocket.Conn, format string) error {
	grid := newGrid(h.registry.Snapshot(), h.bounds)
	if err := ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if format == formatMsgpack {
		b, err := msgpack.Marshal(grid)
		if err != nil {
			return err
		}
		return ws.WriteMessage(websocket.BinaryMessage, b)
	}
	return ws.WriteJSON(grid)
}

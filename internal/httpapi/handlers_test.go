package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/conveyor-simulator/core"
	"github.com/signalsfoundry/conveyor-simulator/internal/logging"
	"github.com/signalsfoundry/conveyor-simulator/internal/observability"
	"github.com/signalsfoundry/conveyor-simulator/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func newTestServer(t *testing.T, opts ...HandlerOption) (*echo.Echo, *core.Registry) {
	t.Helper()
	registry := core.NewRegistry(core.WithParams(core.Params{
		TickInterval:     time.Millisecond,
		TicksPerCell:     10,
		RetryBackoff:     20 * time.Millisecond,
		DefaultDirection: model.Up,
	}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = registry.Shutdown(ctx)
	})
	h := NewHandler(registry, model.Bounds{Width: 11, Height: 11}, logging.Noop(), opts...)
	return NewServer(h), registry
}

func do(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestToggleCreatesThenRotates(t *testing.T) {
	e, registry := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/cells/2/3/toggle", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[toggleResponse](t, rec)
	assert.True(t, first.Created)
	assert.Equal(t, "UP", first.Direction)
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	rec = do(e, http.MethodPost, "/api/cells/2/3/toggle", "")
	require.Equal(t, http.StatusOK, rec.Code)
	second := decode[toggleResponse](t, rec)
	assert.False(t, second.Created)
	assert.Equal(t, "RIGHT", second.Direction)
	assert.Equal(t, first.BeltID, second.BeltID)

	b, ok := registry.FindAt(model.Coord{X: 2, Y: 3})
	require.True(t, ok)
	assert.Equal(t, model.Right, b.Direction())
}

func TestCellParamValidation(t *testing.T) {
	e, registry := newTestServer(t)

	tests := []struct {
		name   string
		target string
		code   string
	}{
		{name: "non-numeric x", target: "/api/cells/a/0/toggle", code: "BAD_REQUEST"},
		{name: "non-numeric y", target: "/api/cells/0/b/toggle", code: "BAD_REQUEST"},
		{name: "beyond width", target: "/api/cells/11/0/toggle", code: "OUT_OF_BOUNDS"},
		{name: "negative", target: "/api/cells/0/-1/toggle", code: "OUT_OF_BOUNDS"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, tc.target, "")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tc.code, decode[APIError](t, rec).Code)
		})
	}
	assert.Equal(t, 0, registry.Len())
}

func TestPlaceBelt(t *testing.T) {
	e, registry := newTestServer(t)

	rec := do(e, http.MethodPut, "/api/cells/1/1", `{"direction":"left"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[placeResponse](t, rec)
	assert.False(t, resp.Replaced)
	assert.Equal(t, "LEFT", resp.Direction)

	rec = do(e, http.MethodPut, "/api/cells/1/1", `{"direction":"down"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[placeResponse](t, rec).Replaced)

	b, _ := registry.FindAt(model.Coord{X: 1, Y: 1})
	assert.Equal(t, model.Down, b.Direction())

	rec = do(e, http.MethodPut, "/api/cells/1/1", `{"direction":"sideways"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpawnItem(t *testing.T) {
	e, _ := newTestServer(t)

	rec := do(e, http.MethodPost, "/api/cells/0/0/items", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "NO_BELT", decode[APIError](t, rec).Code)

	do(e, http.MethodPost, "/api/cells/0/0/toggle", "")
	rec = do(e, http.MethodPost, "/api/cells/0/0/items", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 1, decode[spawnResponse](t, rec).ItemID)
}

func TestGridSnapshot(t *testing.T) {
	e, registry := newTestServer(t)
	registry.PlaceBelt(model.Coord{X: 4, Y: 2}, model.Left)
	registry.PlaceBelt(model.Coord{X: 1, Y: 2}, model.Up)

	rec := do(e, http.MethodGet, "/api/grid", "")
	require.Equal(t, http.StatusOK, rec.Code)
	grid := decode[Grid](t, rec)

	assert.Equal(t, 11, grid.Width)
	assert.Equal(t, 11, grid.Height)
	require.Len(t, grid.Cells, 2)
	assert.Equal(t, 1, grid.Cells[0].X)
	assert.Equal(t, "UP", grid.Cells[0].Direction)
	assert.Equal(t, "LEFT", grid.Cells[1].Direction)
	assert.NotNil(t, grid.InFlight)
}

func TestHealth(t *testing.T) {
	e, registry := newTestServer(t)
	registry.PlaceBelt(model.Coord{}, model.Up)

	rec := do(e, http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["belts"])
}

func TestMetricsRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := observability.NewEngineCollector(reg)
	require.NoError(t, err)
	collector.IncSpawned()

	e, _ := newTestServer(t, WithMetricsHandler(collector.Handler()))
	rec := do(e, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "beltsim_items_spawned_total 1")
}

func TestMetricsRouteAbsentWithoutHandler(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func dialStream(t *testing.T, e *echo.Echo, query string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/grid/ws" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ws.Close() })
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	return ws
}

func TestGridStreamJSON(t *testing.T) {
	e, registry := newTestServer(t, WithStreamInterval(time.Millisecond))
	ws := dialStream(t, e, "")

	var grid Grid
	require.NoError(t, ws.ReadJSON(&grid))
	assert.Empty(t, grid.Cells)

	registry.PlaceBelt(model.Coord{X: 5, Y: 5}, model.Right)
	for len(grid.Cells) == 0 {
		require.NoError(t, ws.ReadJSON(&grid))
	}
	assert.Equal(t, "RIGHT", grid.Cells[0].Direction)
}

func TestGridStreamMsgpack(t *testing.T) {
	e, registry := newTestServer(t, WithStreamInterval(time.Millisecond))
	registry.PlaceBelt(model.Coord{X: 0, Y: 0}, model.Down)
	ws := dialStream(t, e, "?format=msgpack")

	kind, data, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, kind)

	var grid Grid
	require.NoError(t, msgpack.Unmarshal(data, &grid))
	require.Len(t, grid.Cells, 1)
	assert.Equal(t, "DOWN", grid.Cells[0].Direction)
}

func TestGridStreamRejectsUnknownFormat(t *testing.T) {
	e, _ := newTestServer(t)
	rec := do(e, http.MethodGet, "/api/grid/ws?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

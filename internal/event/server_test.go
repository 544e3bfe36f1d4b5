package event_test

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/cardflow/internal/auth"
	boardrepo "github.com/kazz187/cardflow/internal/board/repositoryimpl"
	"github.com/kazz187/cardflow/internal/event"
	"github.com/kazz187/cardflow/internal/eventbus"
	"github.com/kazz187/cardflow/internal/testutil"
	"github.com/kazz187/cardflow/pkg/cerr"
)

func newServer(t *testing.T) (*httptest.Server, *eventbus.Bus, *clockwork.FakeClock) {
	t.Helper()
	gdb := testutil.NewDB(t)
	testutil.SeedPipeline(t, gdb, "b1", "alice")
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	clock := testutil.NewClock()

	r := chi.NewRouter()
	r.Use(cerr.NewConvertErrorChiMiddleware(), auth.Middleware(auth.APIKeys{"a": "alice", "m": "mallory"}))
	event.NewServer(bus, boardrepo.NewGormRepository(gdb), clock, 0).Mount(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, bus, clock
}

func open(t *testing.T, ctx context.Context, srv *httptest.Server, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/boards/b1/events", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", key)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readFrame(t *testing.T, sc *bufio.Scanner) map[string]any {
	t.Helper()
	for sc.Scan() {
		line, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var frame map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &frame))
		return frame
	}
	require.FailNow(t, "stream ended", sc.Err())
	return nil
}

func TestSubscribe(t *testing.T) {
	srv, bus, clock := newServer(t)
	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()

	resp := open(t, ctx, srv, "a")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	sc := bufio.NewScanner(resp.Body)

	assert.Equal(t, "connected", readFrame(t, sc)["type"])

	bus.PublishNew(eventbus.BoardChannel("b2"), eventbus.TypeCardMoved, map[string]any{"card_id": "other"})
	bus.PublishNew(eventbus.BoardChannel("b1"), eventbus.TypeTaskCreated, map[string]any{"task_id": "t1"})
	frame := readFrame(t, sc)
	assert.Equal(t, "task_created", frame["type"])
	assert.Equal(t, "t1", frame["task_id"])

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(event.DefaultHeartbeatInterval)
	assert.Equal(t, "heartbeat", readFrame(t, sc)["type"])
}

func TestSubscribeRequiresMembership(t *testing.T) {
	srv, _, _ := newServer(t)

	resp := open(t, t.Context(), srv, "m")
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = open(t, t.Context(), srv, "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

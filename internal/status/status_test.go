package status

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telerelay/internal/buffer"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
)

func newTestHandler(t testing.TB) (*Handler, buffer.Buffer, *tele.Stat) {
	log := log2.NewTest(t, log2.LDebug)
	buf, err := buffer.OpenLeveldb(log, buffer.OnlyForTesting)
	require.NoError(t, err)
	t.Cleanup(func() { _ = buf.Close() })
	stat := new(tele.Stat)
	return NewHandler(log, stat, buf, "aggregate"), buf, stat
}

func TestStat(t *testing.T) {
	t.Parallel()

	h, _, stat := newTestHandler(t)
	stat.Modify(func(s *tele.StatSnapshot) { s.Cycles = 3; s.Buffered = 2 })
	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stat", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "aggregate", got["mode"])
	assert.Equal(t, 3.0, got["cycles"])
	assert.Equal(t, 2.0, got["buffered"])
}

func TestBuffer(t *testing.T) {
	t.Parallel()

	h, buf, _ := newTestHandler(t)
	ctx := context.Background()
	env := tele.Envelope{DeviceID: "sim01", Payload: "00EA005A", Timestamp: "2024-03-01T10:00:00Z"}
	id1, err := buf.Insert(ctx, env.MustMarshal())
	require.NoError(t, err)
	id2, err := buf.Insert(ctx, []byte("garbage"))
	require.NoError(t, err)

	w := httptest.NewRecorder()
	h.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/buffer", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var got []backlogItem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, id1, got[0].ID)
	assert.JSONEq(t, string(env.MustMarshal()), string(got[0].Envelope))
	assert.Equal(t, id2, got[1].ID)
	assert.Equal(t, "garbage", got[1].Raw)
	assert.NotEmpty(t, got[1].Error)

	require.NoError(t, buf.Close())
	w = httptest.NewRecorder()
	h.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/buffer", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer(t *testing.T) {
	t.Parallel()

	h, _, _ := newTestHandler(t)
	s, err := Listen(log2.NewTest(t, log2.LDebug), "127.0.0.1:0", h)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- s.Serve() }()

	resp, err := http.Get("http://" + s.Addr() + "/stat")
	require.NoError(t, err)
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode, string(b))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Shutdown(ctx))
	require.NoError(t, <-done)
}

package state

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telerelay/internal/relay"
	"github.com/temoto/telerelay/log2"
	tele_api "github.com/temoto/telerelay/tele"
	tele_config "github.com/temoto/telerelay/tele/config"
)

type recordConn struct {
	sync.Mutex
	published [][]byte
}

func (c *recordConn) Publish(ctx context.Context, destination string, payload []byte, durable bool) error {
	c.Lock()
	defer c.Unlock()
	c.published = append(c.published, payload)
	return nil
}
func (c *recordConn) IsClosed() bool { return false }
func (c *recordConn) Close() error   { return nil }
func (c *recordConn) count() int {
	c.Lock()
	defer c.Unlock()
	return len(c.published)
}

func TestGetGlobal(t *testing.T) {
	t.Parallel()

	ctx, g := NewTestContext(t, `relay { mode = "aggregate" device_id = "dev7" }`)
	assert.Equal(t, g, GetGlobal(ctx))
	assert.Equal(t, relay.ModeAggregate, g.Engine.Mode())
	r, err := g.Sensor.Read()
	require.NoError(t, err)
	assert.Equal(t, "dev7", r.DeviceID)
	assert.Panics(t, func() { GetGlobal(context.Background()) })
}

func TestInitInvalid(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	ctx, g := NewContext(log)
	cfg := MustReadConfig(log, NewMockFullReader(map[string]string{"main": `relay { mode = "burst" }`}), "main")
	err := g.Init(ctx, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relay.mode")
	assert.NoError(t, g.Close())
}

func TestRunStoreOnly(t *testing.T) {
	t.Parallel()

	ctx, g := NewTestContext(t, `relay { interval_sec = 1 }`)
	done := make(chan struct{})
	go func() {
		g.Run(ctx)
		close(done)
	}()
	buf := g.Buffer
	require.Eventually(t, func() bool {
		ms, err := buf.List(ctx)
		return err == nil && len(ms) >= 1
	}, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, g.Close())
	<-done

	s := g.Stat.Snapshot()
	assert.GreaterOrEqual(t, s.Buffered, uint64(1))
	assert.GreaterOrEqual(t, s.ConnectErrors, uint64(1))
	assert.Equal(t, uint64(0), s.Sent)
}

func TestRunDeliver(t *testing.T) {
	t.Parallel()

	log := log2.NewTest(t, log2.LDebug)
	ctx, g := NewContext(log)
	conn := &recordConn{}
	dials := 0
	g.Dial = func(ctx context.Context, log *log2.Log, c *tele_config.Config) (tele_api.Connection, error) {
		dials++
		return conn, nil
	}
	cfg := MustReadConfig(log, NewMockFullReader(map[string]string{
		"main": `relay { interval_sec = 1 device_id = "d1" } buffer { path = "` + t.TempDir() + `/buf" }`,
	}), "main")
	require.NoError(t, g.Init(ctx, cfg))
	go g.Run(ctx)
	require.Eventually(t, func() bool { return conn.count() >= 1 }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, g.Close())

	env, err := tele_api.ParseEnvelope(conn.published[0])
	require.NoError(t, err)
	assert.Equal(t, "d1", env.DeviceID)
	assert.Equal(t, 1, dials)
	assert.GreaterOrEqual(t, g.Stat.Snapshot().Sent, uint64(1))
}

func TestStatusServer(t *testing.T) {
	t.Parallel()

	_, g := NewTestContext(t, `http { listen = "127.0.0.1:0" }`)
	require.NotNil(t, g.status)
	g.Stat.Modify(func(s *tele_api.StatSnapshot) { s.Cycles = 5 })

	resp, err := http.Get("http://" + g.status.Addr() + "/stat")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Mode   string `json:"mode"`
		Cycles uint64 `json:"cycles"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, relay.ModePlainRetry, got.Mode)
	assert.Equal(t, uint64(5), got.Cycles)
	require.NoError(t, g.Close())
}

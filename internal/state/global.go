// Package state wires relay components from config and owns their lifecycle.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/telerelay/helpers"
	"github.com/temoto/telerelay/internal/buffer"
	"github.com/temoto/telerelay/internal/relay"
	"github.com/temoto/telerelay/internal/sensor"
	"github.com/temoto/telerelay/internal/status"
	"github.com/temoto/telerelay/internal/tele"
	"github.com/temoto/telerelay/log2"
	tele_api "github.com/temoto/telerelay/tele"
)

const ContextKey = "run/state-global"

const statusShutdownTimeout = 5 * time.Second

type Global struct {
	Alive     *alive.Alive
	Config    *Config
	Log       *log2.Log
	Buffer    buffer.Buffer
	Connector *tele.Connector
	Engine    *relay.Engine
	Sensor    *sensor.Simulator
	Stat      *tele_api.Stat
	// Dial nil = transport selected by broker config
	Dial tele.DialFunc

	status *status.Server
}

func NewContext(log *log2.Log) (context.Context, *Global) {
	if log == nil {
		panic("code error NewContext() log=nil")
	}

	g := &Global{
		Alive: alive.NewAlive(),
		Log:   log,
		Stat:  new(tele_api.Stat),
	}
	log.SetErrorFunc(g.Stat.Error)
	ctx := context.Background()
	ctx = context.WithValue(ctx, log2.ContextKey, log)
	ctx = context.WithValue(ctx, ContextKey, g)
	return ctx, g
}

func GetGlobal(ctx context.Context) *Global {
	v := ctx.Value(ContextKey)
	if v == nil {
		panic(fmt.Sprintf("context['%s'] is nil", ContextKey))
	}
	if g, ok := v.(*Global); ok {
		return g
	}
	panic(fmt.Sprintf("context['%s'] expected type *Global actual=%#v", ContextKey, v))
}

// If `Init` fails, consider `Global` is in broken state, only Close is allowed.
func (g *Global) Init(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return errors.Annotate(err, "config")
	}
	g.Config = cfg
	if cfg.LogDebug {
		g.Log.SetLevel(log2.LDebug)
	}

	buf, err := buffer.Open(ctx, g.Log, cfg.Buffer)
	if err != nil {
		return errors.Annotate(err, "buffer open")
	}
	g.Buffer = buf
	if err = buf.EnsureSchema(ctx); err != nil {
		return errors.Annotate(err, "buffer schema")
	}

	brokerLevel := log2.Level(log2.LInfo)
	if cfg.Broker.LogDebug {
		brokerLevel = log2.LDebug
	}
	g.Connector = tele.NewConnector(g.Log.Clone(brokerLevel), cfg.Broker, g.Dial)

	g.Engine, err = relay.New(g.Log, relay.Options{
		Mode:           cfg.Relay.Mode,
		Destination:    cfg.Destination(),
		Durable:        cfg.Broker.IsDurable(),
		PublishTimeout: cfg.PublishTimeout(),
	}, buf, g.Stat)
	if err != nil {
		return errors.Annotate(err, "relay")
	}

	if g.Sensor, err = sensor.NewSimulator(cfg.DeviceID(), cfg.Sensor); err != nil {
		return errors.Annotate(err, "sensor")
	}

	if cfg.HTTP.Listen != "" {
		h := status.NewHandler(g.Log, g.Stat, buf, g.Engine.Mode())
		if g.status, err = status.Listen(g.Log, cfg.HTTP.Listen, h); err != nil {
			return err
		}
		g.startStatus()
	}
	g.Log.Debugf("init mode=%s interval=%v destination=%s", g.Engine.Mode(), cfg.Interval(), cfg.Destination())
	return nil
}

func (g *Global) MustInit(ctx context.Context, cfg *Config) {
	if err := g.Init(ctx, cfg); err != nil {
		g.Log.Fatal(errors.ErrorStack(err))
	}
}

func (g *Global) startStatus() {
	if !g.Alive.Add(1) {
		return
	}
	go func() {
		defer g.Alive.Done()
		if err := g.status.Serve(); err != nil {
			g.Log.Error(err)
		}
	}()
	go func() {
		<-g.Alive.StopChan()
		ctx, cancel := context.WithTimeout(context.Background(), statusShutdownTimeout)
		defer cancel()
		if err := g.status.Shutdown(ctx); err != nil {
			g.Log.Error(err)
		}
	}()
}

// Run relay loop until ctx is done or Alive is stopped.
// Current cycle is finished before return.
func (g *Global) Run(ctx context.Context) {
	if !g.Alive.Add(1) {
		return
	}
	defer g.Alive.Done()
	g.Log.Infof("relay running mode=%s interval=%v", g.Engine.Mode(), g.Config.Interval())
	g.Engine.Loop(ctx, g.Alive, g.Config.Interval(), g.Sensor, g.Connector)
}

// Close stops Alive, waits for running tasks, then closes broker connection and buffer.
// Repeated calls are no-op.
func (g *Global) Close() error {
	g.Alive.Stop()
	g.Alive.Wait()
	errs := make([]error, 0, 2)
	if g.Connector != nil {
		errs = append(errs, g.Connector.Close())
		g.Connector = nil
	}
	if g.Buffer != nil {
		errs = append(errs, errors.Annotate(g.Buffer.Close(), "buffer close"))
		g.Buffer = nil
	}
	return helpers.FoldErrors(errs)
}

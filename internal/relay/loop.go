package relay

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/telerelay/tele"
)

// Source produces fresh readings, e.g. sensor simulator.
type Source interface {
	Read() (tele.Reading, error)
}

// Connector owns broker connection across cycles.
type Connector interface {
	Ensure(ctx context.Context) (tele.Connection, error)
}

// Tick runs one full cycle: read, encode, connect, deliver.
// Errors are logged and counted, never returned: next tick is the recovery.
func (self *Engine) Tick(ctx context.Context, src Source, connector Connector) Report {
	reading, err := src.Read()
	if err != nil {
		self.log.Errorf("relay source err=%v", err)
		return Report{Mode: self.opt.Mode, Errors: []error{err}}
	}
	env, err := tele.NewEnvelope(reading)
	if err != nil {
		err = errors.Annotate(tele.WrapKind(err, tele.ErrInternal), "relay envelope")
		self.log.Errorf("%v", err)
		return Report{Mode: self.opt.Mode, Errors: []error{err}}
	}

	conn, err := connector.Ensure(ctx)
	if err != nil {
		self.stat.Modify(func(s *tele.StatSnapshot) { s.ConnectErrors++ })
		self.log.Errorf("relay connect err=%v", err)
		conn = nil
	}
	r, _ := self.Cycle(ctx, conn, env)
	if err != nil {
		r.Errors = append([]error{err}, r.Errors...)
	}
	return r
}

// Loop ticks every interval until ctx is done or a is stopped.
// Stop waits for the current cycle to finish.
func (self *Engine) Loop(ctx context.Context, a *alive.Alive, interval time.Duration, src Source, connector Connector) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	stopch := a.StopChan()
	t := time.NewTimer(0)
	defer t.Stop()
	for {
		select {
		case <-t.C:
		case <-stopch:
			return
		case <-ctx.Done():
			return
		}
		if !a.IsRunning() {
			return
		}
		tbegin := time.Now()
		self.Tick(ctx, src, connector)
		next := interval - time.Since(tbegin)
		if next < 0 {
			next = 0
		}
		t.Reset(next)
	}
}

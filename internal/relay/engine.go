// Package relay is store-and-forward engine: one cycle publishes fresh envelope
// together with buffered backlog and reconciles the buffer by outcome.
//
// Buffer rows are deleted strictly after broker acknowledged their content,
// so delivery is at-least-once even if process dies between any two steps.
package relay

import (
	"context"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telerelay/internal/buffer"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
)

const (
	ModePlainRetry = "plain-retry"
	ModeAggregate  = "aggregate"

	DefaultMode     = ModePlainRetry
	DefaultInterval = 5 * time.Second
	DefaultDeviceID = "sim01"
)

type Config struct {
	DeviceID          string `hcl:"device_id"`
	Mode              string `hcl:"mode"`
	IntervalSec       int    `hcl:"interval_sec"`
	PublishTimeoutSec int    `hcl:"publish_timeout_sec"`
}

type Options struct {
	Mode           string
	Destination    string
	Durable        bool
	PublishTimeout time.Duration
}

// Engine is not safe for concurrent Cycle calls, relay runs one cycle at a time.
type Engine struct {
	log  *log2.Log
	buf  buffer.Buffer
	stat *tele.Stat
	opt  Options
}

func New(log *log2.Log, opt Options, buf buffer.Buffer, stat *tele.Stat) (*Engine, error) {
	switch opt.Mode {
	case "":
		opt.Mode = DefaultMode
	case ModePlainRetry, ModeAggregate:
	default:
		return nil, errors.NotValidf("relay mode=%q", opt.Mode)
	}
	if opt.Destination == "" {
		return nil, errors.NotValidf("relay destination empty")
	}
	if opt.PublishTimeout <= 0 {
		opt.PublishTimeout = DefaultInterval
	}
	if buf == nil {
		return nil, errors.NotValidf("relay buffer nil")
	}
	if stat == nil {
		stat = new(tele.Stat)
	}
	return &Engine{log: log, buf: buf, stat: stat, opt: opt}, nil
}

func (self *Engine) Mode() string { return self.opt.Mode }

// Cycle delivers env and backlog through conn, nil or closed conn means no connection.
// Returned error is not nil only when env was lost: publish failed and buffer insert failed.
// Every other failure is recovered inside the cycle and listed in Report.Errors.
func (self *Engine) Cycle(ctx context.Context, conn tele.Connection, env tele.Envelope) (Report, error) {
	r := Report{Mode: self.opt.Mode}
	self.stat.Modify(func(s *tele.StatSnapshot) { s.Cycles++ })

	payload, err := env.Marshal()
	if err != nil {
		err = tele.WrapKind(err, tele.ErrInternal)
		r.addError(err)
		return r, err
	}

	if conn == nil || conn.IsClosed() {
		r.addError(errors.Annotate(tele.ErrNoConnection, "relay"))
		return r, self.store(ctx, &r, payload)
	}

	switch self.opt.Mode {
	case ModeAggregate:
		err = self.cycleAggregate(ctx, &r, conn, env, payload)
	default:
		err = self.cyclePlain(ctx, &r, conn, payload)
	}
	return r, err
}

// publish with bounded wait, timeout is publish failure for this cycle.
func (self *Engine) publish(ctx context.Context, conn tele.Connection, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, self.opt.PublishTimeout)
	defer cancel()
	err := conn.Publish(ctx, self.opt.Destination, payload, self.opt.Durable)
	if err != nil && tele.Kind(err) == nil {
		err = tele.WrapKind(err, tele.ErrPublish)
	}
	return err
}

// store inserts envelope after failed or skipped delivery.
// Runs even if ctx is canceled: interrupt during publish must not lose the reading.
func (self *Engine) store(ctx context.Context, r *Report, payload []byte) error {
	id, err := self.buf.Insert(context.WithoutCancel(ctx), payload)
	if err != nil {
		r.addError(err)
		self.log.Errorf("relay buffer insert err=%v", err)
		self.outcome(r, ActionDropped, 0, payload)
		return err
	}
	self.outcome(r, ActionBuffered, id, payload)
	return nil
}

// list backlog, failure is logged and cycle continues with empty backlog.
func (self *Engine) list(ctx context.Context, r *Report) []buffer.Message {
	ms, err := self.buf.List(ctx)
	if err != nil {
		r.addError(err)
		self.log.Errorf("relay buffer list err=%v", err)
		return nil
	}
	return ms
}

func (self *Engine) delete(ctx context.Context, r *Report, ids []int64) {
	if err := self.buf.DeleteMany(context.WithoutCancel(ctx), ids); err != nil {
		// rows stay and will be delivered again, duplicates are allowed
		r.addError(err)
		self.log.Errorf("relay buffer delete ids=%v err=%v", ids, err)
	}
}

func (self *Engine) outcome(r *Report, action Action, id int64, payload []byte, merged ...int64) {
	r.Outcomes = append(r.Outcomes, Outcome{Action: action, ID: id, Payload: payload, Merged: merged})
	if len(merged) != 0 {
		self.log.Infof("relay %s id=%d payload=%s merged=%v", action, id, payload, merged)
	} else {
		self.log.Infof("relay %s id=%d payload=%s", action, id, payload)
	}
	self.stat.Modify(func(s *tele.StatSnapshot) {
		switch action {
		case ActionSent:
			s.Sent++
			s.LastSent = time.Now()
		case ActionRetried:
			s.Retried++
			s.LastSent = time.Now()
		case ActionAggregated:
			s.Aggregated++
			s.LastSent = time.Now()
		case ActionBuffered:
			s.Buffered++
		case ActionSkipped:
			s.Skipped++
		case ActionDropped:
			s.Dropped++
		}
	})
}

package tele

import (
	"context"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telerelay/helpers"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
	tele_config "github.com/temoto/telerelay/tele/config"
)

const (
	defaultReconnectMin = 1 * time.Second
	defaultReconnectMax = 60 * time.Second
)

var errBackoff = errors.New("reconnect delayed")

// Connector owns the single broker connection shared by relay cycles.
// Ensure reuses open connection and redials lazily when it is found closed.
type Connector struct {
	mu      sync.Mutex
	log     *log2.Log
	config  tele_config.Config
	dial    DialFunc
	current tele.Connection
	backoff *helpers.Backoff
	closed  bool
}

func NewConnector(log *log2.Log, c tele_config.Config, dial DialFunc) *Connector {
	if dial == nil {
		dial = Dial
	}
	return &Connector{
		log:    log,
		config: c,
		dial:   dial,
		backoff: helpers.NewBackoff(
			helpers.IntSecondDefault(c.ReconnectMinSec, defaultReconnectMin),
			helpers.IntSecondDefault(c.ReconnectMaxSec, defaultReconnectMax),
			2),
	}
}

// Ensure returns open connection or ErrConnect kind.
// After failed dial, next attempts are skipped until backoff delay passes.
func (self *Connector) Ensure(ctx context.Context) (tele.Connection, error) {
	self.mu.Lock()
	defer self.mu.Unlock()
	if self.closed {
		return nil, errors.Annotate(tele.ErrConnect, "connector closed")
	}
	if self.current != nil {
		if !self.current.IsClosed() {
			return self.current, nil
		}
		self.log.Infof("broker connection closed, reconnect")
		_ = self.current.Close()
		self.current = nil
	}
	if delay := self.backoff.DelayBefore(); delay > 0 {
		return nil, errors.Annotatef(tele.WrapKind(errBackoff, tele.ErrConnect), "retry in %v", delay)
	}

	conn, err := self.dial(ctx, self.log, &self.config)
	if err != nil {
		self.backoff.Failure()
		if tele.Kind(err) == nil {
			err = tele.WrapKind(err, tele.ErrConnect)
		}
		return nil, err
	}
	self.backoff.Reset()
	self.current = conn
	self.log.Infof("broker connected transport=%s", defaultString(self.config.Transport, tele_config.TransportPaho))
	return conn, nil
}

// Current connection for tests and tools, may be nil or closed.
func (self *Connector) Current() tele.Connection {
	self.mu.Lock()
	defer self.mu.Unlock()
	return self.current
}

func (self *Connector) Close() error {
	self.mu.Lock()
	defer self.mu.Unlock()
	self.closed = true
	if self.current == nil {
		return nil
	}
	err := self.current.Close()
	self.current = nil
	return errors.Annotate(err, "broker close")
}

package tele

import (
	"context"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
	tele_config "github.com/temoto/telerelay/tele/config"
)

var pahoLogOnce sync.Once

type pahoConn struct {
	log *log2.Log
	m   mqtt.Client
}

func dialPaho(ctx context.Context, log *log2.Log, c *tele_config.Config) (tele.Connection, error) {
	pahoLogOnce.Do(func() {
		// paho loggers are package globals
		mqtt.ERROR = log
		mqtt.CRITICAL = log
		mqtt.WARN = log
		if c.LogDebug {
			mqtt.DEBUG = log
		}
	})
	tc, err := tlsConfig(c)
	if err != nil {
		return nil, err
	}
	timeout := networkTimeout(c)
	mopt := mqtt.NewClientOptions().
		AddBroker(c.BrokerURL()).
		SetClientID(clientID(c)).
		SetUsername(defaultString(c.User, tele_config.DefaultUser)).
		SetPassword(defaultString(c.Password, tele_config.DefaultPassword)).
		SetCleanSession(true).
		SetKeepAlive(keepalive(c)).
		SetPingTimeout(timeout).
		SetConnectTimeout(timeout).
		SetWriteTimeout(timeout).
		SetOrderMatters(false).
		SetAutoReconnect(false).
		SetConnectRetry(false)
	if tc != nil {
		mopt.SetTLSConfig(tc)
	}
	m := mqtt.NewClient(mopt)
	if err := waitToken(ctx, m.Connect()); err != nil {
		m.Disconnect(0)
		return nil, errors.Annotate(err, "paho connect")
	}
	log.Debugf("paho connected broker=%s", c.BrokerURL())
	return &pahoConn{log: log, m: m}, nil
}

func (self *pahoConn) Publish(ctx context.Context, destination string, payload []byte, durable bool) error {
	qos := byte(0)
	if durable {
		qos = 1
	}
	err := waitToken(ctx, self.m.Publish(destination, qos, false, payload))
	if err != nil {
		return tele.WrapKind(errors.Annotate(err, "paho publish"), tele.ErrPublish)
	}
	return nil
}

func (self *pahoConn) IsClosed() bool { return !self.m.IsConnectionOpen() }

func (self *pahoConn) Close() error {
	self.m.Disconnect(250)
	return nil
}

func waitToken(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func defaultString(main, def string) string {
	if main == "" {
		return def
	}
	return main
}

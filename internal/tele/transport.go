// Package tele connects relay to message broker.
// Transport contract:
// - Dial returns connected and authorized session or ErrConnect kind
// - Publish returns nil only after broker ack, otherwise ErrPublish kind
// - no internal reconnect, closed connection is replaced by Connector at cycle start
package tele

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/juju/errors"
	"github.com/temoto/telerelay/helpers"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
	tele_config "github.com/temoto/telerelay/tele/config"
)

const (
	defaultKeepalive      = 60 * time.Second
	defaultNetworkTimeout = 10 * time.Second
)

var errTransportNone = errors.New("transport=none, store only")

type DialFunc func(ctx context.Context, log *log2.Log, c *tele_config.Config) (tele.Connection, error)

func Dial(ctx context.Context, log *log2.Log, c *tele_config.Config) (tele.Connection, error) {
	var conn tele.Connection
	var err error
	switch c.Transport {
	case "", tele_config.TransportPaho:
		conn, err = dialPaho(ctx, log, c)
	case tele_config.TransportGomqtt:
		conn, err = dialGomqtt(ctx, log, c)
	case tele_config.TransportKafka:
		conn, err = dialKafka(ctx, log, c)
	case tele_config.TransportNone:
		err = errTransportNone
	default:
		return nil, errors.NotValidf("broker transport=%q", c.Transport)
	}
	if err != nil {
		return nil, errors.Annotatef(tele.WrapKind(err, tele.ErrConnect), "broker=%s", c.BrokerURL())
	}
	return conn, nil
}

func clientID(c *tele_config.Config) string {
	if c.ClientID != "" {
		return c.ClientID
	}
	return "telerelay-" + uuid.NewString()
}

func networkTimeout(c *tele_config.Config) time.Duration {
	return helpers.IntSecondDefault(c.NetworkTimeoutSec, defaultNetworkTimeout)
}

func keepalive(c *tele_config.Config) time.Duration {
	return helpers.IntSecondDefault(c.KeepaliveSec, defaultKeepalive)
}

func tlsConfig(c *tele_config.Config) (*tls.Config, error) {
	if c.TlsCaFile == "" {
		return nil, nil
	}
	cabytes, err := os.ReadFile(c.TlsCaFile)
	if err != nil {
		return nil, errors.Annotate(err, "tls_ca_file")
	}
	tc := &tls.Config{RootCAs: x509.NewCertPool()}
	if !tc.RootCAs.AppendCertsFromPEM(cabytes) {
		return nil, errors.NotValidf("tls_ca_file=%s no certificates", c.TlsCaFile)
	}
	return tc, nil
}

package tele

import (
	"context"

	"github.com/256dpi/gomqtt/packet"
	"github.com/juju/errors"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
	tele_config "github.com/temoto/telerelay/tele/config"
	tele_mqtt "github.com/temoto/telerelay/tele/mqtt"
)

type gomqttConn struct {
	c *tele_mqtt.Conn
}

func dialGomqtt(ctx context.Context, log *log2.Log, c *tele_config.Config) (tele.Connection, error) {
	tc, err := tlsConfig(c)
	if err != nil {
		return nil, err
	}
	mlog := log
	if !c.LogDebug {
		mlog = log.Clone(log2.LInfo)
	}
	conn, err := tele_mqtt.Dial(ctx, tele_mqtt.ConnOptions{
		BrokerURL:      c.BrokerURL(),
		TLS:            tc,
		NetworkTimeout: networkTimeout(c),
		KeepaliveSec:   uint16(keepalive(c).Seconds()),
		ClientID:       clientID(c),
		Username:       defaultString(c.User, tele_config.DefaultUser),
		Password:       defaultString(c.Password, tele_config.DefaultPassword),
		Log:            mlog,
	})
	if err != nil {
		return nil, err
	}
	return gomqttConn{conn}, nil
}

func (self gomqttConn) Publish(ctx context.Context, destination string, payload []byte, durable bool) error {
	msg := &packet.Message{Topic: destination, Payload: payload, QOS: packet.QOSAtMostOnce}
	if durable {
		msg.QOS = packet.QOSAtLeastOnce
	}
	if err := self.c.Publish(ctx, msg); err != nil {
		return tele.WrapKind(errors.Annotate(err, "gomqtt publish"), tele.ErrPublish)
	}
	return nil
}

func (self gomqttConn) IsClosed() bool { return self.c.IsClosed() }
func (self gomqttConn) Close() error   { return self.c.Close() }

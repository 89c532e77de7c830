package tele

import (
	"context"
	"sync/atomic"

	"github.com/juju/errors"
	"github.com/segmentio/kafka-go"
	"github.com/temoto/telerelay/helpers"
	"github.com/temoto/telerelay/log2"
	"github.com/temoto/telerelay/tele"
	tele_config "github.com/temoto/telerelay/tele/config"
)

// kafkaConn destination is topic, durable means ack from all in-sync replicas.
type kafkaConn struct {
	log      *log2.Log
	closed   uint32
	durable  *kafka.Writer
	volatile *kafka.Writer
}

func dialKafka(ctx context.Context, log *log2.Log, c *tele_config.Config) (tele.Connection, error) {
	addr := c.BrokerURL()
	dialer := &kafka.Dialer{
		ClientID: clientID(c),
		Timeout:  networkTimeout(c),
	}
	tc, err := tlsConfig(c)
	if err != nil {
		return nil, err
	}
	dialer.TLS = tc
	// probe broker, Writer itself connects lazily
	probe, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Annotate(err, "kafka dial")
	}
	_ = probe.Close()

	transport := &kafka.Transport{
		ClientID:    dialer.ClientID,
		DialTimeout: dialer.Timeout,
		TLS:         tc,
	}
	newWriter := func(acks kafka.RequiredAcks) *kafka.Writer {
		return &kafka.Writer{
			Addr:                   kafka.TCP(addr),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           acks,
			AllowAutoTopicCreation: true,
			Transport:              transport,
			WriteTimeout:           dialer.Timeout,
			MaxAttempts:            1,
		}
	}
	log.Debugf("kafka connected broker=%s", addr)
	return &kafkaConn{
		log:      log,
		durable:  newWriter(kafka.RequireAll),
		volatile: newWriter(kafka.RequireOne),
	}, nil
}

func (self *kafkaConn) Publish(ctx context.Context, destination string, payload []byte, durable bool) error {
	w := self.volatile
	if durable {
		w = self.durable
	}
	err := w.WriteMessages(ctx, kafka.Message{Topic: destination, Value: payload})
	if err != nil {
		return tele.WrapKind(errors.Annotate(err, "kafka publish"), tele.ErrPublish)
	}
	return nil
}

func (self *kafkaConn) IsClosed() bool { return atomic.LoadUint32(&self.closed) != 0 }

func (self *kafkaConn) Close() error {
	if !atomic.CompareAndSwapUint32(&self.closed, 0, 1) {
		return nil
	}
	return helpers.FoldErrors([]error{self.durable.Close(), self.volatile.Close()})
}

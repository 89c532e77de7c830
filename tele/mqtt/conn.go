// Package mqtt is publish-only MQTT 3.1.1 connection on top of 256dpi/gomqtt transport.
// - Dial() is synchronous: returns after CONNACK or error
// - Clean session, no subscriptions
// - QOS 0,1; QOS 1 Publish returns after PUBACK
// - Serialized Publish, one in-flight message
// - No reconnect: once closed, Conn stays closed, caller dials again
package mqtt

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/client/future"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/temoto/telerelay/helpers/atomic_clock"
	"github.com/temoto/telerelay/log2"
)

const DefaultNetworkTimeout = 30 * time.Second

var ErrClosed = fmt.Errorf("MQTT connection is closed")

type ConnOptions struct {
	BrokerURL      string
	TLS            *tls.Config
	NetworkTimeout time.Duration
	KeepaliveSec   uint16
	ClientID       string
	Username       string
	Password       string
	Log            *log2.Log
}

type errBox struct{ error }

type Conn struct {
	alive  *alive.Alive
	closed uint32
	conn   transport.Conn
	err    atomic.Value // errBox, reason of close
	lastID uint32
	opt    ConnOptions
	pingat atomic_clock.Clock // last outgoing packet
	pongat atomic_clock.Clock // last incoming packet

	publishMu sync.Mutex // serialized Publish
	sendMu    sync.Mutex
	inflight  struct {
		sync.Mutex
		fu *future.Future
		id packet.ID
	}
}

// Dial connects and waits CONNACK within ctx and NetworkTimeout.
func Dial(ctx context.Context, opt ConnOptions) (*Conn, error) {
	if opt.NetworkTimeout == 0 {
		opt.NetworkTimeout = DefaultNetworkTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 && d < opt.NetworkTimeout {
			opt.NetworkTimeout = d
		}
	}
	if u, err := url.ParseRequestURI(opt.BrokerURL); err != nil {
		return nil, errors.Annotatef(err, "config error mqtt BrokerURL=%s", opt.BrokerURL)
	} else if u.User != nil && opt.Username == "" && opt.Password == "" {
		opt.Username = u.User.Username()
		opt.Password, _ = u.User.Password()
	}
	conpkt := packet.NewConnect()
	conpkt.ClientID = defaultString(opt.ClientID, opt.Username)
	conpkt.KeepAlive = opt.KeepaliveSec
	conpkt.CleanSession = true
	conpkt.Username = opt.Username
	conpkt.Password = opt.Password

	dialer := transport.NewDialer(transport.DialConfig{
		TLSConfig: opt.TLS,
		Timeout:   opt.NetworkTimeout,
	})
	conn, err := dialer.Dial(opt.BrokerURL)
	if err != nil {
		return nil, errors.Annotatef(err, "dial broker=%s", opt.BrokerURL)
	}
	c := &Conn{
		alive:  alive.NewAlive(),
		conn:   conn,
		lastID: uint32(time.Now().UnixNano()),
		opt:    opt,
	}
	if err = c.handshake(ctx, conpkt); err != nil {
		_ = c.die(err)
		return nil, err
	}

	if !c.alive.Add(2) {
		return nil, c.die(ErrClosed)
	}
	c.pongat.SetNow()
	go c.pinger()
	go c.reader()
	return c, nil
}

func (c *Conn) handshake(ctx context.Context, conpkt *packet.Connect) error {
	if err := c.send(conpkt); err != nil {
		return err
	}
	c.conn.SetReadTimeout(c.opt.NetworkTimeout)
	pkt, err := c.conn.Receive()
	if err != nil {
		return errors.Annotate(err, "expect CONNACK")
	}
	connack, ok := pkt.(*packet.Connack)
	if !ok {
		return errors.Annotatef(client.ErrClientExpectedConnack, "server error pkt=%s", PacketString(pkt))
	}
	c.opt.Log.Debugf("mqtt CONNACK=%s", connack.String())
	if connack.ReturnCode != packet.ConnectionAccepted {
		return errors.Annotate(client.ErrClientConnectionDenied, connack.ReturnCode.String())
	}
	c.conn.SetReadTimeout(0)
	return ctx.Err()
}

func (c *Conn) IsClosed() bool { return atomic.LoadUint32(&c.closed) != 0 }

// Err is the reason connection was closed, nil while open.
func (c *Conn) Err() error {
	if b, ok := c.err.Load().(errBox); ok {
		return b.error
	}
	return nil
}

// Close sends DISCONNECT and waits background workers.
func (c *Conn) Close() error {
	if c.IsClosed() {
		c.alive.Wait()
		return nil
	}
	err := c.send(packet.NewDisconnect())
	_ = c.die(ErrClosed)
	c.alive.Wait()
	return err
}

// Publish QOS 1 waits PUBACK until ctx done or NetworkTimeout.
// Ack timeout closes connection: PUBACK state is unknown, caller must redial.
func (c *Conn) Publish(ctx context.Context, msg *packet.Message) error {
	if msg.QOS >= packet.QOSExactlyOnce {
		return errors.NotSupportedf("QOS=%d", msg.QOS)
	}
	if c.IsClosed() {
		return errors.Annotate(ErrClosed, "publish")
	}

	c.publishMu.Lock()
	defer c.publishMu.Unlock()

	publish := packet.NewPublish()
	publish.Message = *msg
	if msg.QOS == packet.QOSAtMostOnce {
		return errors.Annotate(c.send(publish), "send PUBLISH")
	}
	publish.ID = c.nextID()
	fu := c.setInflight(future.New(), publish.ID)
	defer c.setInflight(nil, 0)
	if err := c.send(publish); err != nil {
		return errors.Annotate(err, "send PUBLISH")
	}

	timeout := c.opt.NetworkTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	if timeout <= 0 {
		timeout = 1
	}
	stop := context.AfterFunc(ctx, func() { fu.Cancel(ctx.Err()) })
	defer stop()

	switch err := fu.Wait(timeout); err {
	case nil:
		return nil

	case future.ErrCanceled:
		reason, _ := fu.Result().(error)
		if reason == nil {
			reason = ErrClosed
		}
		if reason == context.Canceled || reason == context.DeadlineExceeded {
			_ = c.die(errors.Annotate(reason, "PUBACK"))
		}
		return errors.Annotatef(reason, "PUBACK id=%d", publish.ID)

	case future.ErrTimeout:
		err = errors.Timeoutf("PUBACK id=%d", publish.ID)
		fu.Cancel(err)
		return c.die(err)

	default:
		return errors.Errorf("code error future.Wait()=%v", err)
	}
}

func (c *Conn) die(e error) error {
	if e == nil {
		e = ErrClosed
	}
	if !atomic.CompareAndSwapUint32(&c.closed, 0, 1) {
		return e
	}
	c.err.Store(errBox{e})
	c.alive.Stop()
	c.opt.Log.Debugf("mqtt close reason=%v", e)
	if fu, _ := c.getInflight(); fu != nil {
		fu.Cancel(e)
	}
	_ = c.conn.Close()
	return e
}

func (c *Conn) setInflight(fu *future.Future, id packet.ID) *future.Future {
	c.inflight.Lock()
	c.inflight.fu, c.inflight.id = fu, id
	c.inflight.Unlock()
	return fu
}

func (c *Conn) getInflight() (*future.Future, packet.ID) {
	c.inflight.Lock()
	defer c.inflight.Unlock()
	return c.inflight.fu, c.inflight.id
}

func (c *Conn) nextID() packet.ID {
	u32 := atomic.AddUint32(&c.lastID, 1)
	id := packet.ID(u32 % (1 << 16))
	if id == 0 {
		id = 1
	}
	return id
}

func (c *Conn) onPuback(id packet.ID) {
	fu, expect := c.getInflight()
	if fu == nil {
		c.opt.Log.Errorf("mqtt unexpected PUBACK id=%d", id)
		return
	}
	if expect != id {
		// one publish flow at a time, PUBACK for another id is broker error
		_ = c.die(errors.Errorf("PUBACK id=%d expected=%d", id, expect))
		return
	}
	fu.Complete(id)
}

// Sends PINGREQ only if Keepalive-NetworkTimeout has passed since last packet.
func (c *Conn) pinger() {
	defer c.alive.Done()
	if c.opt.KeepaliveSec == 0 {
		return
	}

	// [MQTT-3.1.2-24] control packets must arrive at most KeepaliveSec*1.5 apart.
	keepalive := keepaliveAndHalf(c.opt.KeepaliveSec)
	interval := keepalive - c.opt.NetworkTimeout
	if interval <= 0 {
		interval = time.Duration(c.opt.KeepaliveSec) * time.Second / 2
	}
	stopch := c.alive.StopChan()
	for c.alive.IsRunning() {
		window := atomic_clock.Since(&c.pingat)
		if window < interval {
			select {
			case <-time.After(interval - window):
				continue
			case <-stopch:
				return
			}
		}
		if err := c.send(packet.NewPingreq()); err != nil {
			return
		}
		if atomic_clock.Since(&c.pongat) > keepalive {
			_ = c.die(client.ErrClientMissingPong)
			return
		}
	}
}

func (c *Conn) reader() {
	defer c.alive.Done()

	for {
		pkt, err := c.conn.Receive()
		if !c.alive.IsRunning() {
			return
		}
		switch err {
		case nil: // success path

		case io.EOF:
			_ = c.die(errors.Annotate(ErrClosed, "server closed connection"))
			return

		default:
			_ = c.die(errors.Annotate(err, "receive"))
			return
		}
		c.pongat.SetNow()
		c.opt.Log.Debugf("mqtt received=%s", PacketString(pkt))

		switch pt := pkt.(type) {
		case *packet.Puback:
			c.onPuback(pt.ID)

		case *packet.Pingresp:

		default:
			_ = c.die(errors.Errorf("server error unexpected pkt=%s", PacketString(pkt)))
			return
		}
	}
}

func (c *Conn) send(p packet.Generic) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.conn.Send(p, false); err != nil {
		err = errors.Annotatef(err, "send %s", p.Type().String())
		return c.die(err)
	}
	c.pingat.SetNow()
	c.opt.Log.Debugf("mqtt sent %s", PacketString(p))
	return nil
}

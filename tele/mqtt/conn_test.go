package mqtt

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/256dpi/gomqtt/client"
	"github.com/256dpi/gomqtt/packet"
	"github.com/256dpi/gomqtt/transport"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/alive/v2"
	"github.com/temoto/telerelay/internal/testbroker"
	"github.com/temoto/telerelay/log2"
)

const testTimeout = 5 * time.Second

func TestConnFakeServer(t *testing.T) {
	t.Parallel()

	type tenv struct {
		alive *alive.Alive
		opts  ConnOptions
	}
	connectAccepted := func(t testing.TB, b *transport.NetConn) {
		pkt, err := b.Receive()
		require.NoError(t, err)
		assert.Equal(t, `<Connect ClientID="relay" KeepAlive=0 Username="" Password="" CleanSession=true Will=nil Version=4>`, pkt.String())
		connack := packet.NewConnack()
		connack.ReturnCode = packet.ConnectionAccepted
		require.NoError(t, b.Send(connack, false))
	}
	cases := []struct {
		name   string
		client func(t testing.TB, env *tenv)
		server func(t testing.TB, env *tenv, b *transport.NetConn)
	}{
		{"connect", func(t testing.TB, env *tenv) {
			c, err := Dial(context.Background(), env.opts)
			require.NoError(t, err)
			assert.False(t, c.IsClosed())
			require.NoError(t, c.Close())
			assert.True(t, c.IsClosed())
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			connectAccepted(t, b)
			pkt, err := b.Receive()
			require.NoError(t, err)
			assert.Equal(t, packet.DISCONNECT, pkt.Type())
		}},
		{"denied", func(t testing.TB, env *tenv) {
			_, err := Dial(context.Background(), env.opts)
			require.Error(t, err)
			assert.Equal(t, client.ErrClientConnectionDenied, errors.Cause(err))
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			_, err := b.Receive()
			require.NoError(t, err)
			connack := packet.NewConnack()
			connack.ReturnCode = packet.NotAuthorized
			require.NoError(t, b.Send(connack, false))
		}},
		{"publish-puback", func(t testing.TB, env *tenv) {
			c, err := Dial(context.Background(), env.opts)
			require.NoError(t, err)
			defer c.Close()
			msg := &packet.Message{Topic: "temperature_data", QOS: packet.QOSAtLeastOnce, Payload: []byte(`{"payload":"00EA005A"}`)}
			require.NoError(t, c.Publish(context.Background(), msg))
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			connectAccepted(t, b)
			pkt, err := b.Receive()
			require.NoError(t, err)
			pub := pkt.(*packet.Publish)
			assert.Equal(t, "temperature_data", pub.Message.Topic)
			assert.Equal(t, `{"payload":"00EA005A"}`, string(pub.Message.Payload))
			puback := packet.NewPuback()
			puback.ID = pub.ID
			require.NoError(t, b.Send(puback, false))
			_, _ = b.Receive() // DISCONNECT
		}},
		{"publish-no-ack-timeout", func(t testing.TB, env *tenv) {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			c, err := Dial(context.Background(), env.opts)
			require.NoError(t, err)
			msg := &packet.Message{Topic: "t", QOS: packet.QOSAtLeastOnce, Payload: []byte("x")}
			require.Error(t, c.Publish(ctx, msg))
			assert.True(t, c.IsClosed(), "unknown PUBACK state must close connection")
			assert.Error(t, c.Err())
			_ = c.Close()
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			connectAccepted(t, b)
			_, _ = b.Receive() // PUBLISH, no ack
			_, _ = b.Receive() // wait close
		}},
		{"server-close", func(t testing.TB, env *tenv) {
			c, err := Dial(context.Background(), env.opts)
			require.NoError(t, err)
			c.alive.Wait()
			assert.True(t, c.IsClosed())
			msg := &packet.Message{Topic: "t", QOS: packet.QOSAtLeastOnce, Payload: []byte("x")}
			assert.Error(t, c.Publish(context.Background(), msg))
		}, func(t testing.TB, env *tenv, b *transport.NetConn) {
			connectAccepted(t, b)
			_ = b.Close()
		}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			env := &tenv{alive: alive.NewAlive()}
			ln, err := net.Listen("tcp", "127.0.0.1:")
			require.NoError(t, err)
			defer ln.Close()
			env.opts.BrokerURL = fmt.Sprintf("tcp://%s", ln.Addr().String())
			env.opts.ClientID = "relay"
			env.opts.Log = log2.NewTest(t, log2.LDebug)
			env.opts.NetworkTimeout = testTimeout
			env.alive.Add(1)
			go func() {
				defer env.alive.Done()
				conn, err := ln.Accept()
				if err != nil {
					return
				}
				defer conn.Close()
				_ = conn.SetDeadline(time.Now().Add(testTimeout))
				c.server(t, env, transport.NewNetConn(conn))
			}()
			c.client(t, env)
			env.alive.WaitTasks()
		})
	}
}

func TestConnBroker(t *testing.T) {
	t.Parallel()

	b := testbroker.Start(t)
	opts := ConnOptions{
		BrokerURL:      b.URL(),
		ClientID:       "relay-test",
		Username:       testbroker.User,
		Password:       testbroker.Password,
		KeepaliveSec:   10,
		NetworkTimeout: testTimeout,
		Log:            log2.NewTest(t, log2.LDebug),
	}
	c, err := Dial(context.Background(), opts)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 3; i++ {
		msg := &packet.Message{Topic: "temperature_data", QOS: packet.QOSAtLeastOnce, Payload: []byte(fmt.Sprint(i))}
		require.NoError(t, c.Publish(context.Background(), msg))
	}
	ms := b.WaitMessages(3, testTimeout)
	require.Len(t, ms, 3)
	for i, m := range ms {
		assert.Equal(t, "temperature_data", m.Topic)
		assert.Equal(t, fmt.Sprint(i), string(m.Payload))
	}

	opts.Password = "wrong"
	_, err = Dial(context.Background(), opts)
	require.Error(t, err)
}

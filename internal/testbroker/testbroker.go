// Package testbroker runs in-process MQTT broker for tests.
package testbroker

import (
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/require"
)

const (
	User     = "guest"
	Password = "guest"
)

type Message struct {
	Topic   string
	Payload []byte
	QOS     byte
}

type Broker struct {
	Server *mochi.Server
	Host   string
	Port   int

	mu       sync.Mutex
	messages []Message
	notify   chan struct{}
}

// Start broker accepting only User/Password, records every message published under "#".
func Start(t testing.TB) *Broker {
	server := mochi.New(&mochi.Options{InlineClient: true})
	ledger := &auth.Ledger{
		Auth: auth.AuthRules{
			{Username: auth.RString(User), Password: auth.RString(Password), Allow: true},
		},
		ACL: auth.ACLRules{
			{Username: auth.RString(User), Filters: auth.Filters{"#": auth.ReadWrite}},
		},
	}
	require.NoError(t, server.AddHook(new(auth.Hook), &auth.Options{Ledger: ledger}))

	b := &Broker{
		Server: server,
		Host:   "127.0.0.1",
		Port:   FreePort(t),
		notify: make(chan struct{}, 1),
	}
	tcp := listeners.NewTCP(listeners.Config{
		ID:      "t1",
		Type:    "tcp",
		Address: net.JoinHostPort(b.Host, strconv.Itoa(b.Port)),
	})
	require.NoError(t, server.AddListener(tcp))
	require.NoError(t, server.Subscribe("#", 1, b.onMessage))
	require.NoError(t, server.Serve())
	t.Cleanup(func() { _ = server.Close() })
	return b
}

func (b *Broker) URL() string { return "tcp://" + net.JoinHostPort(b.Host, strconv.Itoa(b.Port)) }

func (b *Broker) Messages() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Message(nil), b.messages...)
}

// WaitMessages until at least n recorded or timeout.
func (b *Broker) WaitMessages(n int, timeout time.Duration) []Message {
	deadline := time.After(timeout)
	for {
		ms := b.Messages()
		if len(ms) >= n {
			return ms
		}
		select {
		case <-b.notify:
		case <-deadline:
			return ms
		}
	}
}

// onMessage records client publishes, broker $SYS stats are skipped.
func (b *Broker) onMessage(cl *mochi.Client, sub packets.Subscription, pk packets.Packet) {
	if strings.HasPrefix(pk.TopicName, "$") {
		return
	}
	b.mu.Lock()
	b.messages = append(b.messages, Message{Topic: pk.TopicName, Payload: append([]byte(nil), pk.Payload...), QOS: pk.FixedHeader.Qos})
	b.mu.Unlock()
	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// FreePort asks kernel for unused TCP port.
func FreePort(t testing.TB) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

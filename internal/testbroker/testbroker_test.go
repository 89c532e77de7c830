package testbroker

import (
	"testing"

	"github.com/mochi-mqtt/server/v2/packets"
	"github.com/stretchr/testify/assert"
)

func TestOnMessageSkipsSys(t *testing.T) {
	t.Parallel()

	cases := []struct {
		topic  string
		expect bool
	}{
		{"temperature_data", true},
		{"$SYS/broker/uptime", false},
		{"$SYS/broker/clients/connected", false},
		{"a/b", true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.topic, func(t *testing.T) {
			t.Parallel()
			b := &Broker{notify: make(chan struct{}, 1)}
			b.onMessage(nil, packets.Subscription{}, packets.Packet{TopicName: c.topic, Payload: []byte("x")})
			ms := b.Messages()
			if c.expect {
				assert.Len(t, ms, 1)
			} else {
				assert.Len(t, ms, 0)
			}
		})
	}
}

// Package tele_config is the broker connection config block.
package tele_config

import (
	"net"
	"strconv"
)

const (
	TransportPaho   = "paho"
	TransportGomqtt = "gomqtt"
	TransportKafka  = "kafka"
	TransportNone   = "none"

	DefaultHost        = "localhost"
	DefaultUser        = "guest"
	DefaultPassword    = "guest"
	DefaultDestination = "temperature_data"
)

type Config struct {
	Transport         string `hcl:"transport"`
	URL               string `hcl:"url"`
	Host              string `hcl:"host"`
	Port              int    `hcl:"port"`
	User              string `hcl:"user"`
	Password          string `hcl:"password"` // secret
	Destination       string `hcl:"destination"`
	ClientID          string `hcl:"client_id"`
	Durable           *bool  `hcl:"durable"`
	KeepaliveSec      int    `hcl:"keepalive_sec"`
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	ReconnectMinSec   int    `hcl:"reconnect_min_sec"`
	ReconnectMaxSec   int    `hcl:"reconnect_max_sec"`
	TlsCaFile         string `hcl:"tls_ca_file"`
	LogDebug          bool   `hcl:"log_debug"`
}

// IsDurable defaults to true: destination declared durable, messages persistent.
func (c *Config) IsDurable() bool { return c.Durable == nil || *c.Durable }

// BrokerURL is explicit url or composed from host and port for transport.
func (c *Config) BrokerURL() string {
	if c.URL != "" {
		return c.URL
	}
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port, scheme := c.Port, "tcp"
	switch {
	case c.Transport == TransportKafka:
		if port == 0 {
			port = 9092
		}
		return net.JoinHostPort(host, strconv.Itoa(port))
	case c.TlsCaFile != "":
		scheme = "tls"
		if port == 0 {
			port = 8883
		}
	case port == 0:
		port = 1883
	}
	return scheme + "://" + net.JoinHostPort(host, strconv.Itoa(port))
}

package state

import (
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/spf13/viper"
	"github.com/temoto/telerelay/log2"
)

const DefaultEnvFile = ".env"

// NewEnv reads optional dotenv file, process environment takes precedence.
func NewEnv(log *log2.Log, path string) (*viper.Viper, error) {
	v := viper.New()
	v.AutomaticEnv()
	if path == "" {
		return v, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		log.Debugf("config env file=%s not found", path)
		return v, nil
	}
	v.SetConfigFile(path)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Annotatef(err, "config env file=%s", path)
	}
	log.Debugf("config env file=%s", path)
	return v, nil
}

func envLookup(v *viper.Viper, keys ...string) (string, bool) {
	for _, k := range keys {
		if s := v.GetString(k); s != "" {
			return s, true
		}
	}
	return "", false
}

// ApplyEnv overrides config values with recognized environment keys.
func (c *Config) ApplyEnv(v *viper.Viper) error {
	strs := []struct {
		target *string
		keys   []string
	}{
		{&c.Broker.Host, []string{"BROKER_HOST", "RABBITMQ_HOST"}},
		{&c.Broker.User, []string{"BROKER_USER", "RABBITMQ_DEFAULT_USER"}},
		{&c.Broker.Password, []string{"BROKER_PASS", "RABBITMQ_DEFAULT_PASS"}},
		{&c.Broker.URL, []string{"BROKER_URL"}},
		{&c.Broker.Transport, []string{"BROKER_TRANSPORT"}},
		{&c.Relay.Mode, []string{"RELAY_MODE"}},
		{&c.Relay.DeviceID, []string{"RELAY_DEVICE_ID"}},
		{&c.Buffer.Driver, []string{"BUFFER_DRIVER"}},
		{&c.Buffer.Path, []string{"BUFFER_PATH"}},
		{&c.Buffer.DSN, []string{"BUFFER_DSN"}},
	}
	for _, x := range strs {
		if s, ok := envLookup(v, x.keys...); ok {
			*x.target = s
		}
	}

	if s, ok := envLookup(v, "RELAY_INTERVAL"); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return errors.NotValidf("env RELAY_INTERVAL=%q", s)
		}
		if d < time.Second || d%time.Second != 0 {
			return errors.NotValidf("env RELAY_INTERVAL=%q must be whole seconds", s)
		}
		c.Relay.IntervalSec = int(d / time.Second)
	}
	return nil
}

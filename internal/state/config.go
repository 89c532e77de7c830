package state

import (
	"path/filepath"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"
	"github.com/temoto/telerelay/helpers"
	"github.com/temoto/telerelay/internal/buffer"
	"github.com/temoto/telerelay/internal/relay"
	"github.com/temoto/telerelay/internal/sensor"
	"github.com/temoto/telerelay/internal/status"
	"github.com/temoto/telerelay/log2"
	tele_config "github.com/temoto/telerelay/tele/config"
)

const DefaultConfigName = "telerelay.hcl"

type Config struct {
	// includeSeen contains absolute paths to prevent include loops
	includeSeen map[string]struct{}
	// only used for Unmarshal, do not access
	XXX_Include []ConfigSource `hcl:"include"`

	Relay    relay.Config       `hcl:"relay"`
	Broker   tele_config.Config `hcl:"broker"`
	Buffer   buffer.Config      `hcl:"buffer"`
	Sensor   sensor.Config      `hcl:"sensor"`
	HTTP     status.Config      `hcl:"http"`
	LogDebug bool               `hcl:"log_debug"`
}

type ConfigSource struct {
	Name     string `hcl:"name,key"`
	Optional bool   `hcl:"optional"`
}

func (c *Config) read(log *log2.Log, fs FullReader, source ConfigSource, errs *[]error) {
	norm := fs.Normalize(source.Name)
	if _, ok := c.includeSeen[norm]; ok {
		*errs = append(*errs, errors.Errorf("config duplicate source=%s", source.Name))
		return
	}
	log.Debugf("config reading source='%s' path=%s", source.Name, norm)
	c.includeSeen[norm] = struct{}{}

	bs, err := fs.ReadAll(norm)
	if bs == nil && err == nil {
		if !source.Optional {
			*errs = append(*errs, errors.NotFoundf("config required name=%s path=%s", source.Name, norm))
		}
		return
	}
	if err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config source=%s", source.Name))
		return
	}

	if err = hcl.Unmarshal(bs, c); err != nil {
		*errs = append(*errs, errors.Annotatef(err, "config unmarshal source=%s", source.Name))
		return
	}

	var includes []ConfigSource
	includes, c.XXX_Include = c.XXX_Include, nil
	for _, include := range includes {
		if _, ok := c.includeSeen[fs.Normalize(include.Name)]; ok {
			*errs = append(*errs, errors.Errorf("config include loop: from=%s include=%s", source.Name, include.Name))
			continue
		}
		c.read(log, fs, include, errs)
	}
}

// ReadConfig reads names in order, later sources overwrite earlier.
// With OsFullReader relative includes resolve against directory of first name.
func ReadConfig(log *log2.Log, fs FullReader, names ...string) (*Config, error) {
	sources := make([]ConfigSource, len(names))
	for i, name := range names {
		sources[i] = ConfigSource{Name: name}
	}
	return ReadConfigSources(log, fs, sources...)
}

func ReadConfigSources(log *log2.Log, fs FullReader, sources ...ConfigSource) (*Config, error) {
	if len(sources) == 0 {
		return nil, errors.NotValidf("config sources empty")
	}

	if osfs, ok := fs.(*OsFullReader); ok {
		dir, name := filepath.Split(sources[0].Name)
		if err := osfs.SetBase(dir); err != nil {
			return nil, err
		}
		sources = append([]ConfigSource{{Name: name, Optional: sources[0].Optional}}, sources[1:]...)
	}
	c := &Config{
		includeSeen: make(map[string]struct{}),
	}
	errs := make([]error, 0, 8)
	for _, source := range sources {
		c.read(log, fs, source, &errs)
	}
	return c, helpers.FoldErrors(errs)
}

func MustReadConfig(log *log2.Log, fs FullReader, names ...string) *Config {
	c, err := ReadConfig(log, fs, names...)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	return c
}

func (c *Config) Validate() error {
	errs := make([]error, 0, 4)
	switch c.Relay.Mode {
	case "", relay.ModePlainRetry, relay.ModeAggregate:
	default:
		errs = append(errs, errors.NotValidf("config relay.mode=%q", c.Relay.Mode))
	}
	if c.Relay.IntervalSec < 0 {
		errs = append(errs, errors.NotValidf("config relay.interval_sec=%d", c.Relay.IntervalSec))
	}
	if c.Relay.PublishTimeoutSec < 0 {
		errs = append(errs, errors.NotValidf("config relay.publish_timeout_sec=%d", c.Relay.PublishTimeoutSec))
	}
	switch c.Broker.Transport {
	case "", tele_config.TransportPaho, tele_config.TransportGomqtt, tele_config.TransportKafka, tele_config.TransportNone:
	default:
		errs = append(errs, errors.NotValidf("config broker.transport=%q", c.Broker.Transport))
	}
	switch c.Buffer.Driver {
	case "", buffer.DriverLeveldb, buffer.DriverFile:
	case buffer.DriverPostgres:
		if c.Buffer.DSN == "" {
			errs = append(errs, errors.NotValidf("config buffer.dsn empty for driver=postgres"))
		}
	default:
		errs = append(errs, errors.NotValidf("config buffer.driver=%q", c.Buffer.Driver))
	}
	if err := c.Sensor.Validate(); err != nil {
		errs = append(errs, err)
	}
	return helpers.FoldErrors(errs)
}

func (c *Config) DeviceID() string {
	if c.Relay.DeviceID == "" {
		return relay.DefaultDeviceID
	}
	return c.Relay.DeviceID
}

func (c *Config) Destination() string {
	if c.Broker.Destination == "" {
		return tele_config.DefaultDestination
	}
	return c.Broker.Destination
}

func (c *Config) Interval() time.Duration {
	return helpers.IntSecondDefault(c.Relay.IntervalSec, relay.DefaultInterval)
}

// PublishTimeout defaults to cycle interval.
func (c *Config) PublishTimeout() time.Duration {
	return helpers.IntSecondDefault(c.Relay.PublishTimeoutSec, c.Interval())
}

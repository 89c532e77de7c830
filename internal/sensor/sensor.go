// Package sensor simulates temperature/humidity sensor.
package sensor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telerelay/tele"
)

const (
	DefaultTemperatureMin = 20
	DefaultTemperatureMax = 25
	DefaultHumidityMin    = 40
	DefaultHumidityMax    = 60
)

type Config struct {
	TemperatureMin *float64 `hcl:"temperature_min"`
	TemperatureMax *float64 `hcl:"temperature_max"`
	HumidityMin    *float64 `hcl:"humidity_min"`
	HumidityMax    *float64 `hcl:"humidity_max"`
	Seed           int64    `hcl:"seed"` // 0 = time based
}

type Simulator struct {
	mu       sync.Mutex
	deviceID string
	tmin     float64
	tmax     float64
	hmin     float64
	hmax     float64
	rand     *rand.Rand
	now      func() time.Time
}

func NewSimulator(deviceID string, c Config) (*Simulator, error) {
	s := &Simulator{
		deviceID: deviceID,
		tmin:     floatDefault(c.TemperatureMin, DefaultTemperatureMin),
		tmax:     floatDefault(c.TemperatureMax, DefaultTemperatureMax),
		hmin:     floatDefault(c.HumidityMin, DefaultHumidityMin),
		hmax:     floatDefault(c.HumidityMax, DefaultHumidityMax),
		now:      time.Now,
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	seed := c.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	s.rand = rand.New(rand.NewSource(seed))
	return s, nil
}

// Read uniform random values in configured ranges, rounded to one decimal.
func (s *Simulator) Read() (tele.Reading, error) {
	s.mu.Lock()
	t := s.tmin + s.rand.Float64()*(s.tmax-s.tmin)
	h := s.hmin + s.rand.Float64()*(s.hmax-s.hmin)
	s.mu.Unlock()
	return tele.Reading{
		Temperature: math.Round(t*10) / 10,
		Humidity:    math.Round(h*10) / 10,
		DeviceID:    s.deviceID,
		Timestamp:   tele.FormatTime(s.now()),
	}, nil
}

func (c Config) Validate() error {
	tmin := floatDefault(c.TemperatureMin, DefaultTemperatureMin)
	tmax := floatDefault(c.TemperatureMax, DefaultTemperatureMax)
	hmin := floatDefault(c.HumidityMin, DefaultHumidityMin)
	hmax := floatDefault(c.HumidityMax, DefaultHumidityMax)
	if tmin > tmax {
		return errors.NotValidf("sensor temperature_min=%v > temperature_max=%v", tmin, tmax)
	}
	if hmin > hmax {
		return errors.NotValidf("sensor humidity_min=%v > humidity_max=%v", hmin, hmax)
	}
	return nil
}

func floatDefault(p *float64, def float64) float64 {
	if p == nil {
		return def
	}
	return *p
}

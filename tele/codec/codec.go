// Package codec packs a temperature/humidity pair into the 8 hex character
// payload carried by relay envelopes.
//
// Layout: TTTTHHHH, uppercase hex, two 16 bit words.
//   - TTTT temperature * 10, signed two's complement (0.1 C resolution)
//   - HHHH humidity * 2, unsigned (0.5 % resolution)
//
// Encoding is lossy. Decode(Encode(t, h)) is within half a step of input:
// 0.05 C and 0.25 %.
package codec

import (
	"fmt"
	"math"
	"strconv"

	"github.com/juju/errors"
)

const (
	PayloadLen = 8

	TemperatureScale = 10
	HumidityScale    = 2

	TemperatureTolerance = 0.5 / TemperatureScale
	HumidityTolerance    = 0.5 / HumidityScale
)

var (
	ErrRange  = fmt.Errorf("codec: value out of range")
	ErrLength = fmt.Errorf("codec: payload length must be 8")
	ErrHex    = fmt.Errorf("codec: payload must be hex")
)

// Encode quantizes with round half away from zero. Out of range input is
// caller error, values are never clamped.
func Encode(temperature, humidity float64) (string, error) {
	tq := math.Round(temperature * TemperatureScale)
	hq := math.Round(humidity * HumidityScale)
	if math.IsNaN(tq) || tq < math.MinInt16 || tq > math.MaxInt16 {
		return "", errors.Annotatef(ErrRange, "temperature=%v", temperature)
	}
	if math.IsNaN(hq) || hq < 0 || hq > math.MaxUint16 {
		return "", errors.Annotatef(ErrRange, "humidity=%v", humidity)
	}
	tw := uint16(int16(tq))
	hw := uint16(hq)
	return fmt.Sprintf("%04X%04X", tw, hw), nil
}

// MustEncode is for constants in tests and tools.
func MustEncode(temperature, humidity float64) string {
	s, err := Encode(temperature, humidity)
	if err != nil {
		panic(err)
	}
	return s
}

func Decode(payload string) (temperature, humidity float64, err error) {
	if len(payload) != PayloadLen {
		return 0, 0, errors.Annotatef(ErrLength, "payload=%q", payload)
	}
	tw, err := parseWord(payload[0:4])
	if err != nil {
		return 0, 0, err
	}
	hw, err := parseWord(payload[4:8])
	if err != nil {
		return 0, 0, err
	}
	temperature = float64(int16(tw)) / TemperatureScale
	humidity = float64(hw) / HumidityScale
	return temperature, humidity, nil
}

func parseWord(s string) (uint16, error) {
	u, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, errors.Annotatef(ErrHex, "word=%q", s)
	}
	return uint16(u), nil
}

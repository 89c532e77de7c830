package codec

import (
	"fmt"
	"math"
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telerelay/helpers"
)

func TestEncode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		t, h      float64
		expect    string
		expectErr error
	}{
		{23.4, 45.0, "00EA005A", nil},
		{0, 0, "00000000", nil},
		{20.05, 40.25, "00C90051", nil}, // half away from zero
		{-0.1, 0, "FFFF0000", nil},
		{-50, 100, "FE0C00C8", nil},
		{3276.7, 32767.5, "7FFFFFFF", nil},
		{3276.8, 0, "", ErrRange},
		{-3276.9, 0, "", ErrRange},
		{0, -0.5, "", ErrRange},
		{0, 32768, "", ErrRange},
		{math.NaN(), 0, "", ErrRange},
	}
	for _, c := range cases {
		c := c
		t.Run(fmt.Sprintf("%v/%v", c.t, c.h), func(t *testing.T) {
			s, err := Encode(c.t, c.h)
			if c.expectErr != nil {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, s)
		})
	}
}

func TestDecode(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input     string
		t, h      float64
		expectErr error
	}{
		{"00EA005A", 23.4, 45.0, nil},
		{"00ea005a", 23.4, 45.0, nil},
		{"FE0C00C8", -50, 100, nil},
		{"FFFFFFFF", -0.1, 32767.5, nil},
		{"", 0, 0, ErrLength},
		{"00EA005", 0, 0, ErrLength},
		{"00EA005A0", 0, 0, ErrLength},
		{"00EA00ZZ", 0, 0, ErrHex},
		{"+0EA005A", 0, 0, ErrHex},
		{" 0EA005A", 0, 0, ErrHex},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			temperature, humidity, err := Decode(c.input)
			if c.expectErr != nil {
				require.Error(t, err)
				assert.Equal(t, c.expectErr, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.t, temperature)
			assert.Equal(t, c.h, humidity)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	for ti := -500; ti <= 1000; ti++ {
		for hi := 0; hi <= 200; hi++ {
			temperature := float64(ti) / 10
			humidity := float64(hi) / 2
			s, err := Encode(temperature, humidity)
			require.NoError(t, err)
			dt, dh, err := Decode(s)
			require.NoError(t, err)
			if math.Abs(dt-temperature) > TemperatureTolerance || math.Abs(dh-humidity) > HumidityTolerance {
				t.Fatalf("round trip t=%v h=%v payload=%s decoded t=%v h=%v", temperature, humidity, s, dt, dh)
			}
		}
	}
}

func TestRoundTripRandom(t *testing.T) {
	t.Parallel()

	rand := helpers.RandUnix()
	for i := 0; i < 10000; i++ {
		temperature := rand.Float64()*150 - 50
		humidity := rand.Float64() * 100
		s := MustEncode(temperature, humidity)
		dt, dh, err := Decode(s)
		require.NoError(t, err)
		assert.InDelta(t, temperature, dt, TemperatureTolerance+1e-9, "payload=%s", s)
		assert.InDelta(t, humidity, dh, HumidityTolerance+1e-9, "payload=%s", s)
	}
}

package decode

import (
	"testing"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele_api "github.com/temoto/telerelay/tele"
)

func TestLine(t *testing.T) {
	t.Parallel()

	cases := []struct {
		input  string
		expect string
		err    bool
	}{
		{"00EA005A", "temperature=23.4 humidity=45.0", false},
		{" fe0c00c8 ", "temperature=-50.0 humidity=100.0", false},
		{`{"device_id":"sim01","payload":"00EA005A","timestamp":"2024-03-01T10:00:00Z"}`,
			"device=sim01 timestamp=2024-03-01T10:00:00Z temperature=23.4 humidity=45.0", false},
		{"00EA", "", true},
		{"hello!!!", "", true},
		{`{"device_id":"sim01"}`, "", true},
		{`{"device_id":"sim01","payload":"XXXXXXXX","timestamp":"2024-03-01T10:00:00Z"}`, "", true},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			t.Parallel()
			s, err := Line(c.input)
			if c.err {
				require.Error(t, err)
				assert.Equal(t, tele_api.ErrDecode, errors.Cause(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, s)
		})
	}
}

package subcmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telerelay/internal/state"
)

func TestParse(t *testing.T) {
	t.Parallel()

	noop := func(context.Context, *state.Config) error { return nil }
	mods := []Mod{{Name: "run", Main: noop}, {Name: "decode", Main: noop}}
	cases := []struct {
		command   string
		expect    string
		expectErr string
	}{
		{"run", "run", ""},
		{"decode", "decode", ""},
		{"", "", "empty command"},
		{"flash", "", "unknown command='flash'"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.command, func(t *testing.T) {
			m, err := Parse(c.command, mods)
			if c.expectErr != "" {
				assert.EqualError(t, err, c.expectErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, m.Name)
		})
	}
	assert.Panics(t, func() { _, _ = Parse("x", []Mod{{}}) })
}

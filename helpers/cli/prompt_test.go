package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunLines(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		input  string
		expect []string
	}{
		{"empty", "", nil},
		{"blank", "\n  \n\t\n", nil},
		{"lines", "00EA005A\n  FFFF0000 \n\n{\"a\":1}", []string{"00EA005A", "FFFF0000", `{"a":1}`}},
		{"crlf", "a\r\nb\r\n", []string{"a", "b"}},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			var got []string
			err := RunLines(context.Background(), strings.NewReader(c.input), func(line string) { got = append(got, line) })
			require.NoError(t, err)
			assert.Equal(t, c.expect, got)
		})
	}
}

func TestRunLinesCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	n := 0
	err := RunLines(ctx, strings.NewReader("a\nb\nc\n"), func(string) { n++; cancel() })
	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, n)
}

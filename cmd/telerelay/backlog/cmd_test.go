package backlog

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/telerelay/internal/buffer"
	tele_api "github.com/temoto/telerelay/tele"
)

func TestPrint(t *testing.T) {
	t.Parallel()

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	env := tele_api.Envelope{DeviceID: "sim01", Payload: "00EA005A", Timestamp: "2024-03-01T10:00:00Z"}
	ms := []buffer.Message{
		{ID: 1, Payload: env.MustMarshal(), InsertedAt: at},
		{ID: 2, Payload: []byte(`{"device_id":"sim01","payload":"zz","timestamp":"2024-03-01T10:00:05Z"}`), InsertedAt: at},
	}
	var w bytes.Buffer
	require.NoError(t, Print(&w, ms))
	lines := bytes.Split(bytes.TrimSpace(w.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "1\t2024-03-01T10:00:00Z\t"+string(env.MustMarshal())+"\ttemperature=23.4 humidity=45.0", string(lines[0]))
	assert.Contains(t, string(lines[1]), "2\t2024-03-01T10:00:00Z\t")
	assert.Contains(t, string(lines[1]), "error: ")
	assert.Equal(t, "total=2", string(lines[2]))
}

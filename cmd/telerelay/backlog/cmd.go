// Print buffered envelopes waiting for redelivery.
package backlog

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/telerelay/cmd/telerelay/subcmd"
	"github.com/temoto/telerelay/internal/buffer"
	"github.com/temoto/telerelay/internal/state"
	tele_api "github.com/temoto/telerelay/tele"
)

var Mod = subcmd.Mod{Name: "buffer", Usage: "print buffered backlog", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	buf, err := buffer.Open(ctx, g.Log, config.Buffer)
	if err != nil {
		return errors.Annotate(err, "buffer open")
	}
	defer buf.Close()
	ms, err := buf.List(ctx)
	if err != nil {
		return errors.Annotate(err, "buffer list")
	}
	return Print(os.Stdout, ms)
}

// Print one line per message: id, inserted time, envelope, decoded values or error.
func Print(w io.Writer, ms []buffer.Message) error {
	for _, m := range ms {
		line := fmt.Sprintf("%d\t%s\t%s\t", m.ID, m.InsertedAt.UTC().Format(time.RFC3339), m.Payload)
		env, err := tele_api.ParseEnvelope(m.Payload)
		var r tele_api.Reading
		if err == nil {
			r, err = env.Decode()
		}
		if err != nil {
			line += "error: " + err.Error()
		} else {
			line += fmt.Sprintf("temperature=%.1f humidity=%.1f", r.Temperature, r.Humidity)
		}
		if _, err = fmt.Fprintln(w, line); err != nil {
			return errors.Trace(err)
		}
	}
	_, err := fmt.Fprintf(w, "total=%d\n", len(ms))
	return errors.Trace(err)
}

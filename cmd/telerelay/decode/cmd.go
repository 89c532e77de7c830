// Decode hex payloads or envelope JSON, one per line.
package decode

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/temoto/telerelay/cmd/telerelay/subcmd"
	"github.com/temoto/telerelay/helpers/cli"
	"github.com/temoto/telerelay/internal/state"
	tele_api "github.com/temoto/telerelay/tele"
	"github.com/temoto/telerelay/tele/codec"
)

const modName = "decode"

var Mod = subcmd.Mod{Name: modName, Usage: "decode payload hex or envelope json lines", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	return cli.MainLoop(ctx, modName, func(line string) {
		s, err := Line(line)
		if err != nil {
			g.Log.Errorf("decode input=%q err=%v", line, err)
			return
		}
		fmt.Fprintln(os.Stdout, s)
	}, newCompleter())
}

func newCompleter() cli.CompleteFunc {
	suggests := []prompt.Suggest{
		{Text: "exit", Description: "quit"},
	}
	return func(d prompt.Document) []prompt.Suggest {
		return prompt.FilterHasPrefix(suggests, d.GetWordBeforeCursor(), true)
	}
}

// Line accepts 8 hex character payload or envelope JSON object.
func Line(line string) (string, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "{") {
		env, err := tele_api.ParseEnvelope([]byte(line))
		if err != nil {
			return "", err
		}
		r, err := env.Decode()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("device=%s timestamp=%s temperature=%.1f humidity=%.1f",
			r.DeviceID, r.Timestamp, r.Temperature, r.Humidity), nil
	}
	t, h, err := codec.Decode(line)
	if err != nil {
		return "", tele_api.WrapKind(err, tele_api.ErrDecode)
	}
	return fmt.Sprintf("temperature=%.1f humidity=%.1f", t, h), nil
}

// Main mode of operation: relay sensor readings to broker until interrupted.
package run

import (
	"context"

	"github.com/coreos/go-systemd/daemon"
	"github.com/juju/errors"
	"github.com/temoto/telerelay/cmd/telerelay/subcmd"
	"github.com/temoto/telerelay/internal/state"
)

var Mod = subcmd.Mod{Name: "run", Usage: "relay loop (default)", Main: Main}

func Main(ctx context.Context, config *state.Config) error {
	g := state.GetGlobal(ctx)
	if err := g.Init(ctx, config); err != nil {
		_ = g.Close()
		return errors.Annotate(err, "init")
	}

	subcmd.SdNotify(daemon.SdNotifyReady)
	g.Log.Debugf("relay init complete")

	g.Run(ctx)
	subcmd.SdNotify(daemon.SdNotifyStopping)
	g.Log.Infof("shutting down stat=%+v", g.Stat.Snapshot())
	return g.Close()
}

package state

import (
	"context"
	"os"
	"testing"

	"github.com/temoto/telerelay/internal/buffer"
	"github.com/temoto/telerelay/log2"
)

// NewTestContext inits Global from inline config with in-memory buffer
// and broker transport none, unless confString says otherwise.
func NewTestContext(t testing.TB, confString string) (context.Context, *Global) {
	fs := NewMockFullReader(map[string]string{
		"test-defaults": `broker { transport = "none" }`,
		"test-inline":   confString,
	})

	var log *log2.Log
	if os.Getenv("telerelay_test_log_stderr") == "1" {
		log = log2.NewStderr(log2.LDebug) // useful with panics
	} else {
		log = log2.NewTest(t, log2.LDebug)
	}
	log.SetFlags(log2.LTestFlags)
	ctx, g := NewContext(log)
	cfg := MustReadConfig(log, fs, "test-defaults", "test-inline")
	if cfg.Buffer.Driver == "" && cfg.Buffer.Path == "" {
		cfg.Buffer.Path = buffer.OnlyForTesting
	}
	g.MustInit(ctx, cfg)
	t.Cleanup(func() { _ = g.Close() })
	return ctx, g
}

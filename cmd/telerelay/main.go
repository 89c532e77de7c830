package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/juju/errors"
	"github.com/temoto/telerelay/cmd/telerelay/backlog"
	"github.com/temoto/telerelay/cmd/telerelay/decode"
	"github.com/temoto/telerelay/cmd/telerelay/run"
	"github.com/temoto/telerelay/cmd/telerelay/subcmd"
	"github.com/temoto/telerelay/internal/state"
	"github.com/temoto/telerelay/log2"
)

var log = log2.NewService(log2.LInfo)

var modules = []subcmd.Mod{
	run.Mod,
	backlog.Mod,
	decode.Mod,
}

func main() {
	flagset := flag.NewFlagSet("telerelay", flag.ContinueOnError)
	configPath := flagset.String("config", state.DefaultConfigName, "HCL config file, missing file = defaults")
	envPath := flagset.String("env", state.DefaultEnvFile, "dotenv file, optional")
	flagset.Usage = func() {
		fmt.Fprintf(flagset.Output(), "Usage: telerelay [option...] [command]\nCommands:\n")
		for _, m := range modules {
			fmt.Fprintf(flagset.Output(), "  %-8s %s\n", m.Name, m.Usage)
		}
		fmt.Fprintf(flagset.Output(), "Options:\n")
		flagset.PrintDefaults()
	}
	if err := flagset.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	command := flagset.Arg(0)
	if command == "" {
		command = run.Mod.Name
	}
	mod, err := subcmd.Parse(command, modules)
	if err != nil {
		flagset.Usage()
		log.Fatal(err)
	}

	if mod.Name == run.Mod.Name && subcmd.SdNotify("start") {
		// under systemd journal, no timestamp
		log.SetFlags(log2.LServiceFlags)
	}

	config, err := readConfig(*configPath, *envPath)
	if err != nil {
		log.Fatal(errors.ErrorStack(err))
	}

	ctx, g := state.NewContext(log)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	sigch := make(chan os.Signal, 1)
	signal.Notify(sigch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	go func() {
		sig := <-sigch
		log.Infof("signal=%v stopping", sig)
		g.Alive.Stop()
		cancel()
	}()

	if err := mod.Main(ctx, config); err != nil {
		log.Fatal(errors.ErrorStack(err))
	}
	log.Infof("bye")
}

func readConfig(path, envPath string) (*state.Config, error) {
	config, err := state.ReadConfigSources(log, state.NewOsFullReader(), state.ConfigSource{Name: path, Optional: true})
	if err != nil {
		return nil, err
	}
	env, err := state.NewEnv(log, envPath)
	if err != nil {
		return nil, err
	}
	if err = config.ApplyEnv(env); err != nil {
		return nil, err
	}
	if config.LogDebug {
		log.SetLevel(log2.LDebug)
	}
	return config, nil
}

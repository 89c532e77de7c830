// Package cli runs line oriented tools: interactive prompt on terminal,
// plain lines from stdin otherwise.
package cli

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/c-bata/go-prompt"
	"github.com/juju/errors"
	"github.com/mattn/go-isatty"
)

type ExecFunc func(line string)
type CompleteFunc func(d prompt.Document) []prompt.Suggest

// MainLoop returns when stdin is exhausted, ctx is done or user typed exit.
func MainLoop(ctx context.Context, tag string, exec ExecFunc, complete CompleteFunc) error {
	if isatty.IsTerminal(os.Stdin.Fd()) {
		if complete == nil {
			complete = func(prompt.Document) []prompt.Suggest { return nil }
		}
		p := prompt.New(
			func(line string) {
				line = strings.TrimSpace(line)
				if line == "exit" || line == "quit" {
					os.Exit(0)
				}
				if line != "" {
					exec(line)
				}
			},
			prompt.Completer(complete),
			prompt.OptionPrefix(tag+"> "),
			prompt.OptionTitle(tag),
		)
		p.Run()
		return nil
	}
	return RunLines(ctx, os.Stdin, exec)
}

// RunLines calls exec for every non-empty trimmed line of r.
func RunLines(ctx context.Context, r io.Reader, exec ExecFunc) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		exec(line)
	}
	return errors.Annotate(scanner.Err(), "cli read")
}

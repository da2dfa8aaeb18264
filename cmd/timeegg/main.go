// timeegg is a command-line client for the TimeEgg API.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/timeegg/timeegg-server/internal/client"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if ae, ok := client.AsAPIError(err); ok {
			fmt.Fprintf(os.Stderr, "error: %s (%s)\n", ae.Message, ae.Code)
		} else {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(1)
	}
}

// env is what every command receives.
type env struct {
	cfg    Config
	api    *client.Client
	in     io.Reader
	out    io.Writer
	args   []string
	flags  *pflag.FlagSet
	logger *zap.Logger
}

func (e *env) print(v any) error {
	enc := json.NewEncoder(e.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type command struct {
	usage string
	flags func(*pflag.FlagSet)
	run   func(ctx context.Context, e *env) error
}

func run(ctx context.Context, args []string, in io.Reader, out io.Writer) error {
	global := pflag.NewFlagSet("timeegg", pflag.ContinueOnError)
	global.SetInterspersed(false)
	configPath := global.String("config", defaultConfigPath(), "path to the YAML config file")
	verbose := global.BoolP("verbose", "v", false, "log requests to stderr")
	if err := global.Parse(args); err != nil {
		return err
	}
	rest := global.Args()
	if len(rest) == 0 || rest[0] == "help" {
		printUsage(out)
		return nil
	}
	cmd, ok := commands[rest[0]]
	if !ok {
		printUsage(out)
		return fmt.Errorf("unknown command %q", rest[0])
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	logger := zap.NewNop()
	if *verbose {
		if logger, err = zap.NewDevelopment(); err != nil {
			return err
		}
	}
	store, err := client.NewFileTokenStore(cfg.TokenFile)
	if err != nil {
		return fmt.Errorf("token file: %w", err)
	}
	api := client.New(client.Options{
		BaseURL:  cfg.APIBaseURL,
		Tokens:   store,
		DevToken: cfg.DevToken,
		Logger:   logger,
		OnSessionExpired: func() {
			fmt.Fprintln(os.Stderr, "session expired; run `timeegg login`")
		},
	})

	fs := pflag.NewFlagSet(rest[0], pflag.ContinueOnError)
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(rest[1:]); err != nil {
		return err
	}
	return cmd.run(ctx, &env{cfg: cfg, api: api, in: in, out: out, args: fs.Args(), flags: fs, logger: logger})
}

func printUsage(w io.Writer) {
	names := make([]string, 0, len(commands))
	for n := range commands {
		names = append(names, n)
	}
	sort.Strings(names)
	fmt.Fprintln(w, "usage: timeegg [--config FILE] [-v] <command> [flags]")
	fmt.Fprintln(w)
	for _, n := range names {
		fmt.Fprintf(w, "  %-14s %s\n", n, commands[n].usage)
	}
}

var errUsage = errors.New("missing arguments")

func need(e *env, n int, what string) error {
	if len(e.args) < n {
		return fmt.Errorf("%w: %s", errUsage, what)
	}
	return nil
}

func joinArgs(e *env) string { return strings.Join(e.args, " ") }

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexjbarnes/devicelink/devicelink"
	"github.com/alexjbarnes/devicelink/internal/config"
	"github.com/alexjbarnes/devicelink/internal/logging"
	"github.com/alexjbarnes/devicelink/internal/state"
	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

const usage = `devicelink: device client for a hosted application backend.

Usage:
  devicelink listen [--session-token TOKEN]
  devicelink request VERB PATH [--body JSON] [--params QUERY]
  devicelink installation
  devicelink session (--token TOKEN | --clear)
  devicelink reset
  devicelink version

Configuration is read from the environment and an optional .env file.
DEVICELINK_APP_ID and DEVICELINK_CLIENT_KEY are required.
`

var errUsage = errors.New("invalid usage")

func main() {
	if err := run(os.Args[1:]); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}

		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}

	cmd, args := args[0], args[1:]

	switch cmd {
	case "version", "--version":
		fmt.Println(Version)
		return nil
	case "help", "-h", "--help":
		fmt.Print(usage)
		return nil
	case "listen", "request", "installation", "session", "reset":
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	logger.Info("devicelink starting",
		slog.String("version", Version),
		slog.String("command", cmd),
		slog.String("transport", cfg.Transport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.LoadAt(cfg.StatePath, cfg.StateOptions())
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	if cmd == "reset" {
		if err := appState.Clear(); err != nil {
			return fmt.Errorf("clearing state: %w", err)
		}

		logger.Info("stored session cleared")

		return nil
	}

	client := devicelink.New(appState, cfg.ClientOptions(), logger)
	client.Begin(cfg.ApplicationID, cfg.ClientKey)

	defer func() {
		if err := client.End(); err != nil {
			logger.Warn("failed to close client", slog.String("error", err.Error()))
		}
	}()

	switch cmd {
	case "listen":
		return runListen(ctx, cfg, client, logger, args)
	case "request":
		return runRequest(ctx, cfg, client, args)
	case "installation":
		fmt.Println(client.InstallationID(ctx))
		return nil
	default:
		return runSession(ctx, client, args)
	}
}

// runListen holds the push channel open and prints every payload.
func runListen(ctx context.Context, cfg *config.Config, client *devicelink.Client, logger *slog.Logger, args []string) error {
	var token string

	flagSet := pflag.NewFlagSet("listen", pflag.ContinueOnError)
	flagSet.StringVar(&token, "session-token", "", "session token to attach before listening")

	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	if token != "" {
		if err := client.SetSessionToken(ctx, token); err != nil {
			return fmt.Errorf("setting session token: %w", err)
		}
	}

	logger.Info("installation ready", slog.String("installation_id", client.InstallationID(ctx)))

	l := &listener{
		client:       client,
		logger:       logger,
		pollInterval: cfg.PollInterval,
		readTimeout:  cfg.ReadTimeout,
		out:          os.Stdout,
	}

	status := make(chan os.Signal, 1)
	notifyStatus(status)
	defer signal.Stop(status)

	g, gctx := errgroup.WithContext(ctx)
	watchCtx, stopWatch := context.WithCancel(gctx)

	g.Go(func() error {
		defer stopWatch()
		return l.run(gctx)
	})
	g.Go(func() error {
		return l.watchStatus(watchCtx, status)
	})

	return g.Wait()
}

// runRequest sends one request and prints the reply body.
func runRequest(ctx context.Context, cfg *config.Config, client *devicelink.Client, args []string) error {
	var body, params string

	flagSet := pflag.NewFlagSet("request", pflag.ContinueOnError)
	flagSet.StringVarP(&body, "body", "d", "", "JSON request body")
	flagSet.StringVarP(&params, "params", "p", "", "URL query string, without the leading '?'")

	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	if flagSet.NArg() != 2 {
		return fmt.Errorf("%w: request needs VERB and PATH", errUsage)
	}

	client.InstallationID(ctx)

	resp := client.SendRequest(ctx, devicelink.Request{
		Verb:   flagSet.Arg(0),
		Path:   flagSet.Arg(1),
		Body:   body,
		Params: params,
	})
	if !resp.Connected() {
		return fmt.Errorf("sending request: %w", resp.Err())
	}

	readCtx, cancel := context.WithTimeout(ctx, cfg.ReadTimeout)
	defer cancel()

	out, err := resp.Body(readCtx)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	if status := resp.StatusCode(); status != 0 {
		paint := color.New(color.FgGreen)
		if status >= 400 {
			paint = color.New(color.FgRed)
		}

		paint.Fprintf(os.Stderr, "%d\n", status)
	}

	if resp.Truncated() {
		color.New(color.FgYellow).Fprintln(os.Stderr, "response truncated")
	}

	fmt.Println(string(out))

	return nil
}

// runSession stores or clears the session token.
func runSession(ctx context.Context, client *devicelink.Client, args []string) error {
	var (
		token      string
		clearToken bool
	)

	flagSet := pflag.NewFlagSet("session", pflag.ContinueOnError)
	flagSet.StringVar(&token, "token", "", "session token to store")
	flagSet.BoolVar(&clearToken, "clear", false, "remove the stored session token")

	if err := flagSet.Parse(args); err != nil {
		return fmt.Errorf("%w: %w", errUsage, err)
	}

	switch {
	case clearToken && token == "":
		return client.ClearSessionToken()
	case token != "" && !clearToken:
		return client.SetSessionToken(ctx, token)
	default:
		return fmt.Errorf("%w: session needs exactly one of --token or --clear", errUsage)
	}
}

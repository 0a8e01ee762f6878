// Command chanmux-listen subscribes to channels on a channel server and prints
// every message it receives.
//
// Usage:
//
//	chanmux-listen [flags] [channel-id...]
//
// Flags:
//
//	-config string        Configuration file (.yaml, .yml or .toml)
//	-url string           Server URL (ws:// or wss://)
//	-discover string      Resolve the server through mDNS with this service type
//	-codec string         Wire codec: json or cbor
//	-log-level string     Log level: debug, info, warn, error
//	-protocol-log string  Write protocol events to this file
//	-interactive          Read commands from the terminal
//
// Channel IDs given as arguments are added to the configured subscriptions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/chanmux/chanmux-go/pkg/client"
	"github.com/chanmux/chanmux-go/pkg/config"
	"github.com/chanmux/chanmux-go/pkg/discovery"
	"github.com/chanmux/chanmux-go/pkg/log"
)

// options holds the command line flags. Non-empty values override the
// configuration file.
type options struct {
	ConfigFile  string
	URL         string
	Discover    string
	Codec       string
	LogLevel    string
	ProtocolLog string
	Interactive bool
}

func main() {
	var opts options
	flag.StringVar(&opts.ConfigFile, "config", "", "Configuration file (.yaml, .yml or .toml)")
	flag.StringVar(&opts.URL, "url", "", "Server URL (ws:// or wss://)")
	flag.StringVar(&opts.Discover, "discover", "", "Resolve the server through mDNS with this service type (e.g. "+discovery.DefaultService+")")
	flag.StringVar(&opts.Codec, "codec", "", "Wire codec: json or cbor")
	flag.StringVar(&opts.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&opts.ProtocolLog, "protocol-log", "", "Write protocol events to this file")
	flag.BoolVar(&opts.Interactive, "interactive", false, "Read commands from the terminal")
	flag.Parse()

	if err := run(opts, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options, args []string) error {
	cfg, err := loadConfig(opts, args)
	if err != nil {
		return err
	}
	level, err := cfg.Level()
	if err != nil {
		return err
	}
	channels, err := cfg.Channels()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var out io.Writer = os.Stdout
	var logOut io.Writer = os.Stderr
	var rl *readline.Instance
	if opts.Interactive {
		rl, err = readline.NewEx(&readline.Config{
			Prompt:          "chanmux> ",
			InterruptPrompt: "^C",
			EOFPrompt:       "exit",
		})
		if err != nil {
			return fmt.Errorf("failed to create readline: %w", err)
		}
		defer rl.Close()
		// Keep log output from interfering with the prompt.
		out = rl.Stdout()
		logOut = rl.Stderr()
	}

	logger := slog.New(slog.NewTextHandler(logOut, &slog.HandlerOptions{Level: level}))

	if cfg.URL == "" {
		logger.Info("resolving server", "service", cfg.Discovery.Service)
		resolver := &discovery.Resolver{Service: cfg.Discovery.Service, Domain: cfg.Discovery.Domain}
		endpoint, err := resolver.Resolve(ctx, cfg.DiscoveryTimeout())
		if err != nil {
			return fmt.Errorf("discover %s: %w", cfg.Discovery.Service, err)
		}
		cfg.URL = endpoint.URL()
		logger.Info("server resolved", "url", cfg.URL)
	}

	clientCfg, err := cfg.ClientConfig()
	if err != nil {
		return err
	}
	clientCfg.Logger = logger

	plogs := []log.Logger{log.NewSlogAdapter(logger)}
	if cfg.ProtocolLog != "" {
		fl, err := log.NewFileLogger(cfg.ProtocolLog)
		if err != nil {
			return fmt.Errorf("open protocol log: %w", err)
		}
		defer func() {
			if n := fl.Dropped(); n > 0 {
				logger.Warn("protocol events dropped", "count", n)
			}
			_ = fl.Close()
		}()
		plogs = append(plogs, fl)
		logger.Info("protocol logging enabled", "path", cfg.ProtocolLog)
	}
	clientCfg.ProtocolLogger = log.NewMultiLogger(plogs...)

	c, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := c.Close(); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}()

	sh := newShell(c, out)
	for _, channel := range channels {
		if err := sh.subscribe(channel); err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		logger.Info("subscribed", "channel", channel)
	}
	if len(channels) == 0 && !opts.Interactive {
		return errors.New("no channels to subscribe to")
	}

	if opts.Interactive {
		go runPrompt(ctx, cancel, rl, sh)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("received signal", "signal", sig)
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	return nil
}

// loadConfig reads the configuration file, if any, and applies flags and
// positional channel IDs on top of it.
func loadConfig(opts options, args []string) (*config.File, error) {
	cfg := &config.File{}
	if opts.ConfigFile != "" {
		loaded, err := config.Load(opts.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if opts.URL != "" {
		cfg.URL = opts.URL
	}
	if opts.Discover != "" {
		cfg.URL = ""
		cfg.Discovery.Service = opts.Discover
	}
	if opts.Codec != "" {
		cfg.Codec = opts.Codec
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.ProtocolLog != "" {
		cfg.ProtocolLog = opts.ProtocolLog
	}
	for _, arg := range args {
		if _, err := uuid.Parse(arg); err != nil {
			return nil, fmt.Errorf("invalid channel ID %q: %w", arg, err)
		}
		cfg.Subscriptions = append(cfg.Subscriptions, arg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runPrompt reads commands until quit, EOF or cancellation.
func runPrompt(ctx context.Context, cancel context.CancelFunc, rl *readline.Instance, sh *shell) {
	sh.printHelp()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				continue
			}
			fmt.Fprintln(rl.Stdout(), "Exiting...")
			cancel()
			return
		}
		if sh.exec(ctx, line) {
			cancel()
			return
		}
	}
}

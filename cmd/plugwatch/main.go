package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haukened/plugwatch/internal/plugwatch/common/clock"
	"github.com/haukened/plugwatch/internal/plugwatch/common/log"
	"github.com/haukened/plugwatch/internal/plugwatch/common/privilege"
	"github.com/haukened/plugwatch/internal/plugwatch/config"
	"github.com/haukened/plugwatch/internal/plugwatch/domain"
	"github.com/haukened/plugwatch/internal/plugwatch/gateways/dnscache"
	"github.com/haukened/plugwatch/internal/plugwatch/gateways/kasa"
	"github.com/haukened/plugwatch/internal/plugwatch/repos/blocklist"
	"github.com/haukened/plugwatch/internal/plugwatch/repos/hostsfile"
	"github.com/haukened/plugwatch/internal/plugwatch/services/monitor"
	"github.com/haukened/plugwatch/internal/plugwatch/services/poller"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "plugwatch"
)

// checkPrivileges is swapped out in tests.
var checkPrivileges = func(path string) error {
	return privilege.New().Check(path)
}

// Application holds all the components of the daemon
type Application struct {
	config  *config.AppConfig
	device  *kasa.Client
	monitor *monitor.Monitor
	out     io.Writer
}

func main() {
	cmd := newRootCommand(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(exitCode(err))
	}
}

// newRootCommand builds the plugwatch command writing user output to stdout.
func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   appName + " [flags] <device-address>",
		Short: "Block distracting hosts while a smart plug is switched on",
		Long: "plugwatch polls a TP-Link Kasa smart plug and keeps a managed block in the hosts file:\n" +
			"the listed hosts are blocked while the plug is on and unblocked while it is off.",
		Version:       version,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			overrides := flagOverrides(cmd)
			if len(args) == 1 {
				overrides["device_address"] = args[0]
			}
			return run(cmd.Context(), config.Options{File: configFile, Overrides: overrides}, stdout)
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	flags := cmd.Flags()
	flags.StringVarP(&configFile, "config", "c", "", "YAML config file")
	flags.StringP("blocklist", "b", "", "file listing the hosts to block, one per line")
	flags.String("hosts-file", "", "hosts file to manage")
	flags.DurationP("interval", "i", 0, "wait between device reads")
	flags.String("log-level", "", "log level: debug, info, warn or error")
	flags.String("env", "", "runtime environment: dev or prod")
	return cmd
}

// flagOverrides maps every flag set on the command line onto its config key.
func flagOverrides(cmd *cobra.Command) map[string]any {
	keys := map[string]string{
		"blocklist":  "blocklist_path",
		"hosts-file": "hosts_path",
		"interval":   "poll_interval",
		"log-level":  "log_level",
		"env":        "env",
	}
	out := make(map[string]any)
	for flag, key := range keys {
		f := cmd.Flags().Lookup(flag)
		if f == nil || !f.Changed {
			continue
		}
		out[key] = f.Value.String()
	}
	return out
}

// run loads the configuration, checks privileges, wires the application and
// blocks until ctx is cancelled, a signal arrives, or a fatal error occurs.
func run(ctx context.Context, opts config.Options, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load(opts)
	if err != nil {
		return err
	}

	var outputs []string
	if cfg.LogFile != "" {
		outputs = append(outputs, cfg.LogFile)
	}
	if err := log.Configure(cfg.Env, cfg.LogLevel, outputs...); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	log.Info(map[string]any{
		"version":   version,
		"env":       cfg.Env,
		"log_level": cfg.LogLevel,
		"device":    cfg.DeviceAddress,
		"hosts":     cfg.HostsPath,
		"blocklist": cfg.BlocklistPath,
		"interval":  cfg.PollInterval.String(),
	}, "Starting plugwatch")

	// nothing touches the device before we know the hosts file is writable
	if err := checkPrivileges(cfg.HostsPath); err != nil {
		return err
	}

	app, err := buildApplication(cfg, log.GetLogger(), stdout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := app.Run(ctx); err != nil {
		return err
	}
	log.Info(nil, "plugwatch stopped gracefully")
	return nil
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig, logger log.Logger, out io.Writer) (*Application, error) {
	clk := clock.RealClock{}

	flusher, err := dnscache.New(dnscache.Options{
		Commands: cfg.FlushCommands,
		Logger:   logger.Named("dns-cache"),
	})
	if err != nil {
		return nil, err
	}
	// a typed nil would defeat the manager's nil check
	var cacheFlusher hostsfile.CacheFlusher
	if flusher.Enabled() {
		cacheFlusher = flusher
	} else {
		logger.Info(nil, "resolver cache flushing disabled")
	}

	hosts, err := hostsfile.NewManager(hostsfile.Options{
		Path:         cfg.HostsPath,
		Delimiter:    cfg.Delimiter,
		BlockAddress: cfg.BlockAddress,
		Flusher:      cacheFlusher,
		Logger:       logger.Named("hosts"),
	})
	if err != nil {
		return nil, err
	}

	device, err := kasa.NewClient(kasa.Options{
		Address: cfg.DeviceAddress,
		Timeout: cfg.DeviceTimeout,
	})
	if err != nil {
		return nil, err
	}

	poll, err := poller.New(poller.Options{
		Reader:   device,
		Interval: cfg.PollInterval,
		Retries:  int(cfg.DeviceRetries),
		Clock:    clk,
		Logger:   logger.Named("device"),
	})
	if err != nil {
		return nil, err
	}

	mon, err := monitor.New(monitor.Options{
		Blocklist: blocklist.NewFileSource(cfg.BlocklistPath, logger.Named("blocklist")),
		Hosts:     hosts,
		States:    poll,
		OnTransition: func(t monitor.Transition) {
			if t.Initial() {
				fmt.Fprintf(out, "Initial state: %s\n", t.To)
				return
			}
			fmt.Fprintf(out, "Device is now: %s\n", t.To)
		},
		Clock:  clk,
		Logger: logger.Named("monitor"),
	})
	if err != nil {
		return nil, err
	}

	return &Application{
		config:  cfg,
		device:  device,
		monitor: mon,
		out:     out,
	}, nil
}

// Run greets the device, then hands control to the monitor loop.
func (app *Application) Run(ctx context.Context) error {
	info, err := app.device.SysInfo(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	name := info.Alias
	if name == "" {
		name = "unnamed plug"
	}
	fmt.Fprintf(app.out, "Connected to device at %s (%s, %s)\n", app.device.Address(), name, info.Model)
	fmt.Fprintln(app.out, "Monitoring device state. Press Ctrl+C to exit.")

	return app.monitor.Run(ctx)
}

// reportError prints err with its diagnostic prefix and, when known, a hint.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s: %s: %v\n", appName, domain.Diagnostic(err), err)
	if hint := domain.Hint(err); hint != "" {
		fmt.Fprintf(w, "%s: hint: %s\n", appName, hint)
	}
}

// exitCode is 0 for a clean shutdown and 1 for every fatal error.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

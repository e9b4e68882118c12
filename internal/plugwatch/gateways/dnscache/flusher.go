// Package dnscache invalidates the operating system's resolver cache by
// running the configured flush commands in order.
package dnscache

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"time"

	"github.com/haukened/plugwatch/internal/plugwatch/common/log"
	"github.com/haukened/plugwatch/internal/plugwatch/domain"
)

// Error message constants for consistent error handling
const (
	errEmptyCommand = "%w: empty command at position %d"
	errCommandFail  = "%w: %s: %w"
)

// Runner executes a single command. Tests replace it to avoid spawning processes.
type Runner func(ctx context.Context, name string, args ...string) error

// Options configures a Flusher.
type Options struct {
	// Commands are whitespace-separated command lines run in order.
	// An empty list disables flushing.
	Commands []string
	// Timeout bounds each command; zero means 5s.
	Timeout time.Duration
	Logger  log.Logger
	// Run is injected for testing purposes.
	Run Runner
}

// Flusher runs the OS-specific cache flush sequence.
type Flusher struct {
	commands [][]string
	timeout  time.Duration
	logger   log.Logger
	run      Runner
}

// New splits each command line into argv and returns a Flusher.
func New(opts Options) (*Flusher, error) {
	cmds := make([][]string, 0, len(opts.Commands))
	for i, line := range opts.Commands {
		argv := strings.Fields(line)
		if len(argv) == 0 {
			return nil, fmt.Errorf(errEmptyCommand, domain.ErrConfiguration, i)
		}
		cmds = append(cmds, argv)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if opts.Run == nil {
		opts.Run = runCommand
	}
	return &Flusher{
		commands: cmds,
		timeout:  opts.Timeout,
		logger:   opts.Logger,
		run:      opts.Run,
	}, nil
}

// Enabled reports whether any command is configured.
func (f *Flusher) Enabled() bool { return len(f.commands) > 0 }

// Flush runs every command in order and stops at the first failure.
// Errors wrap domain.ErrCacheFlush.
func (f *Flusher) Flush(ctx context.Context) error {
	for _, argv := range f.commands {
		cmdline := strings.Join(argv, " ")
		if err := f.runOne(ctx, argv); err != nil {
			return fmt.Errorf(errCommandFail, domain.ErrCacheFlush, cmdline, err)
		}
		f.logger.Debug(map[string]any{"command": cmdline}, "flush command ok")
	}
	if f.Enabled() {
		f.logger.Info(nil, "resolver cache flushed")
	}
	return nil
}

func (f *Flusher) runOne(ctx context.Context, argv []string) error {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()
	return f.run(ctx, argv[0], argv[1:]...)
}

// runCommand starts name with no stdin and discards stdout. Only the exit
// status matters; stderr is kept short for the error message.
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil
	cmd.Stdout = io.Discard
	var stderr strings.Builder
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w (%s)", err, firstLine(msg))
		}
		return err
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

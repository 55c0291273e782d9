// Package cli implements the dockhand command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"github.com/jacek-lewandowski/dockhand/client"
	"github.com/jacek-lewandowski/dockhand/internal/runtimeconfig"
	"golang.org/x/term"
)

type runtimeContext struct {
	Stdin   *os.File
	Stdout  *os.File
	Stderr  *os.File
	Version string
}

type CLI struct {
	Run     RunCommand     `cmd:"" help:"Run a command locally or inside a container"`
	History HistoryCommand `cmd:"" help:"List recent executions"`
	Config  ConfigCommand  `cmd:"" help:"Runtime configuration"`
	Version VersionCommand `cmd:"" help:"Print the dockhand version"`
}

type RunCommand struct {
	Name     string            `help:"Display name for the execution"`
	Backend  string            `help:"Execution backend (docker|local; defaults to runtime config)"`
	Image    string            `help:"Container image (docker backend)"`
	Dir      string            `short:"C" help:"Working directory for the command"`
	Env      map[string]string `short:"e" help:"Environment variables (KEY=VALUE)"`
	Detach   bool              `short:"d" help:"Detach once the command has started"`
	Timeout  time.Duration     `help:"Per-execution timeout carried on the handle"`
	LogLevel string            `help:"Log level (debug|info|warn|error)" default:"warn"`

	Command []string `arg:"" passthrough:"" required:"" help:"Command to execute"`
}

type HistoryCommand struct {
	Limit    int    `help:"Maximum number of entries to show" default:"20"`
	LogLevel string `help:"Log level (debug|info|warn|error)" default:"warn"`
}

type ConfigCommand struct {
	Init ConfigInitCommand `cmd:"" help:"Write a starter config file"`
}

type ConfigInitCommand struct{}

type VersionCommand struct{}

type exitCodeError struct {
	code int
}

func (e exitCodeError) Error() string {
	return fmt.Sprintf("command failed with exit code %d", e.code)
}

func (e exitCodeError) ExitCode() int {
	return e.code
}

type hasExitCode interface {
	ExitCode() int
}

func Run(args []string, version string) error {
	runtimeCtx := &runtimeContext{
		Stdin:   os.Stdin,
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Version: version,
	}

	cli := CLI{}
	parser, err := kong.New(
		&cli,
		kong.Name("dockhand"),
		kong.Description("Run commands behind execution handles, locally or in containers"),
	)
	if err != nil {
		return err
	}

	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	return ctx.Run(runtimeCtx)
}

// ExitCode maps an error returned from Run to a process exit code.
func ExitCode(err error) int {
	var codeErr hasExitCode
	if errors.As(err, &codeErr) {
		return codeErr.ExitCode()
	}
	return 1
}

func (c *RunCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(c.LogLevel, "run")
	if err != nil {
		return err
	}

	cl, err := client.New(
		client.WithLogger(logger),
		client.WithShutdownSignals(os.Interrupt, syscall.SIGTERM),
	)
	if err != nil {
		return err
	}
	defer cl.Close()

	// Forward stdin only when it is piped in; an interactive terminal would
	// otherwise hold the execution open waiting for EOF.
	var stdin io.Reader
	if !term.IsTerminal(int(ctx.Stdin.Fd())) {
		stdin = ctx.Stdin
	}

	spec := client.Spec{
		DisplayName: c.Name,
		Command:     c.Command[0],
		Arguments:   c.Command[1:],
		Directory:   c.Dir,
		Environment: c.Env,
		Backend:     c.Backend,
		Image:       c.Image,
		Timeout:     c.Timeout,
		Daemon:      c.Detach,
		Stdin:       stdin,
		Stdout:      ctx.Stdout,
		Stderr:      ctx.Stderr,
	}

	result, err := cl.Run(spec)
	if err != nil {
		return err
	}
	if c.Detach {
		return nil
	}
	if result.ExitValue() != 0 {
		return exitCodeError{code: result.ExitValue()}
	}
	return nil
}

func (c *HistoryCommand) Run(ctx *runtimeContext) error {
	logger, err := newLogger(c.LogLevel, "history")
	if err != nil {
		return err
	}

	cl, err := client.New(client.WithLogger(logger))
	if err != nil {
		return err
	}
	defer cl.Close()

	entries, err := cl.History(context.Background(), c.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		_, err := fmt.Fprintln(ctx.Stdout, "no executions recorded")
		return err
	}
	for _, entry := range entries {
		line := fmt.Sprintf("%s  %s  exit=%d  %s  %s",
			entry.FinishedAt.Format(time.RFC3339),
			entry.Backend,
			entry.ExitValue,
			entry.DisplayName,
			strings.TrimSpace(entry.Command+" "+strings.Join(entry.Arguments, " ")),
		)
		if entry.Failure != "" {
			line += "  failure: " + entry.Failure
		}
		if _, err := fmt.Fprintln(ctx.Stdout, line); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConfigInitCommand) Run(ctx *runtimeContext) error {
	path, err := runtimeconfig.Path()
	if err != nil {
		return err
	}
	if err := runtimeconfig.WriteStarter(path); err != nil {
		return err
	}
	_, err = fmt.Fprintf(ctx.Stdout, "wrote %s\n", path)
	return err
}

func (c *VersionCommand) Run(ctx *runtimeContext) error {
	_, err := fmt.Fprintln(ctx.Stdout, ctx.Version)
	return err
}

func newLogger(rawLevel, component string) (*log.Logger, error) {
	levelName := strings.TrimSpace(strings.ToLower(rawLevel))
	if levelName == "" {
		levelName = "warn"
	}
	level, err := log.ParseLevel(levelName)
	if err != nil {
		return nil, fmt.Errorf("invalid --log-level %q: %w", rawLevel, err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{
		Level:     level,
		Formatter: log.TextFormatter,
	})
	return logger.With("component", component), nil
}

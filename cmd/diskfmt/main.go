package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/osbuild/diskfmt/internal/catalog"
	"github.com/osbuild/diskfmt/internal/common"
	"github.com/osbuild/diskfmt/internal/config"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitInvalid = 2
)

// usageError marks errors in the command line itself.
type usageError struct {
	err error
}

func (e usageError) Error() string {
	return e.err.Error()
}

func (e usageError) Unwrap() error {
	return e.err
}

// errors that are the user's input being rejected
var invalidInput = []error{
	disk.ErrUnknownFilesystem,
	disk.ErrInvalidLabel,
	sizespec.ErrInvalidSizeFormat,
	sizespec.ErrUnsupportedUnitForFilesystem,
	sizespec.ErrSizeOutOfRange,
	sizespec.ErrInvalidTableKind,
	jobs.ErrTableRequired,
	jobs.ErrTableNotAllowed,
	jobs.ErrNotFound,
	catalog.ErrNotFound,
	catalog.ErrAmbiguousDeviceReference,
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var ue usageError
	var ve *jobs.ValidationError
	if errors.As(err, &ue) || errors.As(err, &ve) {
		return exitInvalid
	}
	for _, sentinel := range invalidInput {
		if errors.Is(err, sentinel) {
			return exitInvalid
		}
	}
	return exitFailure
}

type app struct {
	configPath  string
	socket      string
	local       bool
	mockBackend bool
	logLevel    string

	config *config.Config
	// stops treating SIGINT and SIGTERM as cancellation
	stopSignals context.CancelFunc
}

// setupBase configures logging and finds the configuration file.
func (a *app) setupBase(cmd *cobra.Command) error {
	// cobra checks these after the pre-run hooks and returns them unwrapped
	if err := cmd.ValidateRequiredFlags(); err != nil {
		return usageError{err}
	}
	if err := cmd.ValidateFlagGroups(); err != nil {
		return usageError{err}
	}

	err := common.SetupLogging(common.LogOptions{
		Level:  a.logLevel,
		Format: "text",
	})
	if err != nil {
		return usageError{err}
	}
	logrus.SetOutput(cmd.ErrOrStderr())

	if a.configPath == "" {
		a.configPath, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *app) setup(cmd *cobra.Command) error {
	if err := a.setupBase(cmd); err != nil {
		return err
	}

	var err error
	a.config, err = config.LoadConfig(a.configPath)
	if err != nil {
		return err
	}

	if a.socket == "" {
		a.socket = a.config.Daemon.Socket
	}
	if a.mockBackend {
		a.local = true
	}
	return nil
}

func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return usageError{err}
		}
		return nil
	}
}

func parseJobID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, usageError{fmt.Errorf("invalid job id %q: %w", s, err)}
	}
	return id, nil
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "diskfmt",
		Short:         "Format removable drives",
		Long:          "diskfmt formats USB sticks, SD cards and other removable drives through diskfmtd or, with --local, in-process.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return usageError{err}
	})

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "configuration file (default $DISKFMT_CONFIG or ~/.config/diskfmt/config.toml)")
	flags.StringVar(&a.socket, "socket", "", "socket of diskfmtd (default from the configuration)")
	flags.BoolVar(&a.local, "local", false, "run the backend in-process instead of talking to diskfmtd")
	flags.BoolVar(&a.mockBackend, "mock-backend", false, "use the mock backend, no device is modified (implies --local)")
	flags.StringVar(&a.logLevel, "log-level", "warning", "log level (trace, debug, info, warning, error)")

	rootCmd.AddCommand(
		newListCmd(a),
		newFormatCmd(a),
		newStatusCmd(a),
		newCancelCmd(a),
		newConfigCmd(a),
		newVersionCmd(),
	)
	return rootCmd
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a := &app{stopSignals: stop}
	rootCmd := newRootCmd(a)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "%s %v\n", color.New(color.FgRed).Sprint("Error:"), err)
	}
	return exitCode(err)
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

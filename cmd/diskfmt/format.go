package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/osbuild/diskfmt/internal/api"
	"github.com/osbuild/diskfmt/internal/disk"
	"github.com/osbuild/diskfmt/internal/jobs"
	"github.com/osbuild/diskfmt/internal/sizespec"
)

const pollInterval = 200 * time.Millisecond

var (
	errAborted   = errors.New("aborted, nothing was changed")
	errJobFailed = errors.New("format failed")
)

type formatOptions struct {
	path   string
	fs     string
	label  string
	quick  bool
	size   string
	table  string
	yes    bool
	detach bool
}

func newFormatCmd(a *app) *cobra.Command {
	var opts formatOptions

	cmd := &cobra.Command{
		Use:   "format --path DEVICE",
		Short: "Format a removable device",
		Long: `Format a removable device or partition.

A whole disk gets a new partition table (--table gpt or dos) with a single
partition spanning it, which is then formatted. A partition is formatted in
place. All data on the device is lost.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.format(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.path, "path", "p", "", "device to format, a device node or backend object path")
	flags.StringVarP(&opts.fs, "fs", "f", "", "filesystem (default: the best supported one)")
	flags.StringVarP(&opts.label, "label", "l", "", "filesystem label")
	flags.BoolVarP(&opts.quick, "quick", "q", false, "quick format, do not zero the device")
	flags.StringVarP(&opts.size, "size", "s", "Auto", `allocation unit size: "Auto", "<n> bytes" or "<n> sectors" (vfat only)`)
	flags.StringVarP(&opts.table, "table", "t", "", "partition table for a whole disk: gpt or dos")
	flags.BoolVarP(&opts.yes, "yes", "y", false, "do not ask for confirmation")
	flags.BoolVarP(&opts.detach, "detach", "d", false, "print the job id and return without waiting")
	_ = cmd.MarkFlagRequired("path")

	_ = cmd.RegisterFlagCompletionFunc("fs", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		var names []string
		for _, fs := range disk.FilesystemTypes() {
			names = append(names, fs.String())
		}
		return names, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("size", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		fs, err := disk.ParseFilesystemType(opts.fs)
		if err != nil {
			fs = disk.DefaultFilesystem(disk.SupportedFilesystems(nil))
		}
		var choices []string
		for _, c := range sizespec.Choices(fs) {
			choices = append(choices, c.String()+"\t"+sizespec.UnitLabel(fs))
		}
		return choices, cobra.ShellCompDirectiveNoFileComp
	})
	_ = cmd.RegisterFlagCompletionFunc("table", cobra.FixedCompletions(
		[]string{disk.PartitionTableGPT.String(), disk.PartitionTableDOS.String()},
		cobra.ShellCompDirectiveNoFileComp,
	))

	return cmd
}

// request checks what can be checked without a device and fills in the
// defaults.
func (opts formatOptions) request() (api.FormatRequest, disk.FilesystemType, error) {
	fs := disk.DefaultFilesystem(disk.SupportedFilesystems(nil))
	if opts.fs != "" {
		var err error
		if fs, err = disk.ParseFilesystemType(opts.fs); err != nil {
			return api.FormatRequest{}, "", err
		}
	}
	if err := disk.ValidateLabel(opts.label, fs); err != nil {
		return api.FormatRequest{}, "", err
	}
	size, err := sizespec.ParseSize(opts.size, fs)
	if err != nil {
		return api.FormatRequest{}, "", err
	}
	if opts.table != "" {
		if _, err := sizespec.ParseTable(opts.table); err != nil {
			return api.FormatRequest{}, "", err
		}
	}

	return api.FormatRequest{
		Device:     opts.path,
		Filesystem: fs.String(),
		Label:      opts.label,
		Quick:      opts.quick,
		Size:       size.String(),
		Table:      strings.ToLower(opts.table),
	}, fs, nil
}

func confirm(out io.Writer, device disk.Device, req api.FormatRequest, fs disk.FilesystemType) error {
	warn := color.New(color.FgRed, color.Bold)
	fmt.Fprintf(out, "%s all data on %s will be destroyed.\n", warn.Sprint("WARNING:"), device.Display())
	fmt.Fprintf(out, "Filesystem: %s, %s: %s\n", fs, sizespec.UnitLabel(fs), req.Size)

	ok := false
	prompt := &survey.Confirm{
		Message: "Do you want to continue?",
		Default: false,
	}
	if err := survey.AskOne(prompt, &ok); err != nil {
		return fmt.Errorf("%w: %v", errAborted, err)
	}
	if !ok {
		return errAborted
	}
	return nil
}

func (a *app) format(cmd *cobra.Command, opts formatOptions) error {
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	req, fs, err := opts.request()
	if err != nil {
		return err
	}

	s, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	device, err := s.Resolve(ctx, req.Device)
	if err != nil {
		return err
	}

	if !opts.yes {
		status, err := s.Status(ctx)
		if err != nil {
			return err
		}
		if status.Backend != "mock" {
			if err := confirm(out, device, req, fs); err != nil {
				return err
			}
		}
	}

	id, err := s.Format(ctx, req)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Job %s started\n", id)

	if opts.detach {
		if s.local {
			color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), "The job runs in this process and ends with it")
		}
		return nil
	}

	status, err := a.follow(ctx, cmd.ErrOrStderr(), s, id)
	if err != nil {
		return err
	}
	return reportResult(out, status)
}

// follow waits for the job to finish, rendering its progress. An interrupt
// cancels a local job; a job of diskfmtd keeps running.
func (a *app) follow(ctx context.Context, progress io.Writer, s *session, id uuid.UUID) (jobs.Status, error) {
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetWriter(progress),
		progressbar.OptionSetDescription(string(jobs.StatePending)),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
	defer func() {
		_ = bar.Finish()
	}()

	render := func(status jobs.Status) {
		bar.Describe(string(status.State))
		if status.Progress >= 0 {
			_ = bar.Set(int(status.Progress))
		}
	}

	status, err := s.Wait(ctx, id, pollInterval, render)
	if err == nil || ctx.Err() == nil {
		return status, err
	}

	// interrupted
	a.stopSignals()
	if !s.local {
		fmt.Fprintf(progress, "\nJob %s continues in diskfmtd\n", id)
		return status, ctx.Err()
	}

	bg := context.Background()
	if _, err := s.Cancel(bg, id); err != nil {
		return status, err
	}
	fmt.Fprintf(progress, "\nCancellation requested for job %s\n", id)
	return s.Wait(bg, id, pollInterval, render)
}

func reportResult(out io.Writer, status jobs.Status) error {
	switch status.State {
	case jobs.StateSucceeded:
		target := status.Target
		if target == "" {
			target = status.Device.Path
		}
		fmt.Fprintf(out, "Ready: %s\n", target)
		return nil
	case jobs.StateCancelled:
		return fmt.Errorf("format of %s was cancelled", status.Device.Path)
	default:
		fmt.Fprintf(out, "Format failed: %s\n", status.Error)
		return fmt.Errorf("%w: job %s ended %s", errJobFailed, status.ID, status.State)
	}
}

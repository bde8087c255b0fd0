package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/osbuild/diskfmt/internal/jobs"
)

func stateColor(s jobs.State) *color.Color {
	switch s {
	case jobs.StateSucceeded:
		return color.New(color.FgGreen)
	case jobs.StateFailed:
		return color.New(color.FgRed)
	case jobs.StateCancelling, jobs.StateCancelled:
		return color.New(color.FgYellow)
	}
	return color.New(color.Reset)
}

func progressString(s jobs.Status) string {
	if s.Progress < 0 {
		return "-"
	}
	return fmt.Sprintf("%.0f%%", s.Progress)
}

func printStatus(out io.Writer, s jobs.Status) {
	w := tabwriter.NewWriter(out, 0, 0, 1, ' ', 0)
	fmt.Fprintf(w, "Job:\t%s\n", s.ID)
	fmt.Fprintf(w, "State:\t%s\n", stateColor(s.State).Sprint(s.State))
	fmt.Fprintf(w, "Device:\t%s\n", s.Device.Display())
	if s.Target != "" {
		fmt.Fprintf(w, "Target:\t%s\n", s.Target)
	}
	fmt.Fprintf(w, "Filesystem:\t%s\n", s.Request.Filesystem)
	if s.Request.Label != "" {
		fmt.Fprintf(w, "Label:\t%s\n", s.Request.Label)
	}
	fmt.Fprintf(w, "Progress:\t%s\n", progressString(s))
	if s.Message != "" {
		fmt.Fprintf(w, "Message:\t%s\n", s.Message)
	}
	if s.CancelRejected {
		fmt.Fprintf(w, "Cancel:\t%s\n", color.New(color.FgYellow).Sprint("rejected by the backend"))
	}
	if s.Error != "" {
		fmt.Fprintf(w, "Error:\t%s\n", s.Error)
	}
	_ = w.Flush()
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status [JOB]",
		Short: "Show one job, or all jobs of diskfmtd",
		Args: func(cmd *cobra.Command, args []string) error {
			if err := cobra.MaximumNArgs(1)(cmd, args); err != nil {
				return usageError{err}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			s, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer s.close()

			if len(args) == 1 {
				id, err := parseJobID(args[0])
				if err != nil {
					return err
				}
				status, err := s.Job(ctx, id)
				if err != nil {
					return err
				}
				printStatus(out, status)
				return nil
			}

			list, err := s.Jobs(ctx)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Fprintln(out, "No jobs")
				return nil
			}
			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "JOB\tDEVICE\tFS\tSTATE\tPROGRESS")
			for _, status := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", status.ID, status.Device.Path, status.Request.Filesystem, status.State, progressString(status))
			}
			return w.Flush()
		},
	}
}

func newCancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB",
		Short: "Cancel a job",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseJobID(args[0])
			if err != nil {
				return err
			}

			s, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer s.close()

			status, err := s.Cancel(cmd.Context(), id)
			if err != nil {
				return err
			}
			if status.State.Terminal() && status.State != jobs.StateCancelled {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s already %s\n", id, status.State)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for job %s\n", id)
			return nil
		},
	}
}

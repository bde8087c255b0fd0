package main

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/osbuild/diskfmt/internal/config"
)

type configOptions struct {
	print bool
	path  bool
	init  bool
	force bool
	edit  bool
}

func editorCommand() []string {
	for _, env := range []string{"VISUAL", "EDITOR"} {
		if fields := strings.Fields(os.Getenv(env)); len(fields) > 0 {
			return fields
		}
	}
	return []string{"vi"}
}

func newConfigCmd(a *app) *cobra.Command {
	var opts configOptions

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Show or edit the configuration",
		Long:  "Show or edit the configuration. Without flags, the effective configuration is printed.",
		Args:  exactArgs(0),
		// a broken file must not keep --init and --edit from fixing it
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setupBase(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			switch {
			case opts.path:
				fmt.Fprintln(out, a.configPath)
				return nil

			case opts.init:
				if err := config.WriteDefault(a.configPath, opts.force); err != nil {
					return err
				}
				fmt.Fprintf(out, "Wrote default configuration to %s\n", a.configPath)
				return nil

			case opts.edit:
				err := config.WriteDefault(a.configPath, false)
				if err != nil && !errors.Is(err, config.ErrExists) {
					return err
				}
				editor := editorCommand()
				c := exec.CommandContext(cmd.Context(), editor[0], append(editor[1:], a.configPath)...)
				c.Stdin = os.Stdin
				c.Stdout = out
				c.Stderr = cmd.ErrOrStderr()
				if err := c.Run(); err != nil {
					return fmt.Errorf("running %s: %w", editor[0], err)
				}
				// report mistakes right away
				_, err = config.LoadConfig(a.configPath)
				return err

			default:
				c, err := config.LoadConfig(a.configPath)
				if err != nil {
					return err
				}
				return config.DumpConfig(c, out)
			}
		},
	}

	flags := cmd.Flags()
	flags.BoolVar(&opts.print, "print", false, "print the effective configuration")
	flags.BoolVar(&opts.path, "path", false, "print the path of the configuration file")
	flags.BoolVar(&opts.init, "init", false, "write the default configuration")
	flags.BoolVar(&opts.force, "force", false, "overwrite an existing file with --init")
	flags.BoolVar(&opts.edit, "edit", false, "open the configuration in $VISUAL or $EDITOR")
	cmd.MarkFlagsMutuallyExclusive("print", "path", "init", "edit")

	return cmd
}

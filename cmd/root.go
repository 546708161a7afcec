package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"wshd/internal/daemon"
)

var (
	flagRun      string
	flagLib      string
	flagRoot     string
	flagVolumes  string
	flagTitle    string
	flagNSInit   bool
	flagContinue bool
	flagExecHelp bool
)

var rootCmd = &cobra.Command{
	Use:   "wshd",
	Short: "wshd is a per-container init daemon",
	Long:  `wshd bootstraps a fresh set of namespaces, pivots into a container rootfs, and serves spawn and bind-mount requests over a control socket for the container's lifetime.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch {
		case flagExecHelp:
			// A spawned child that fails setup exits 255.
			if err := daemon.RunExecHelper(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(255)
			}
			return nil
		case flagNSInit:
			return daemon.RunNSInit()
		case flagContinue:
			return daemon.RunContinue()
		default:
			// --volumes is required only in launcher mode; the hidden
			// re-exec entry points are invoked without it.
			if flagVolumes == "" {
				return fmt.Errorf(`required flag "volumes" not set`)
			}
			return daemon.Bootstrap(daemon.Config{
				RunDir:     flagRun,
				LibDir:     flagLib,
				RootDir:    flagRoot,
				VolumesDir: flagVolumes,
				Title:      flagTitle,
			})
		}
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVar(&flagRun, "run", "run", "directory holding the control socket")
	rootCmd.Flags().StringVar(&flagLib, "lib", "lib", "directory holding lifecycle hook scripts")
	rootCmd.Flags().StringVar(&flagRoot, "root", "root", "container rootfs to pivot into")
	rootCmd.Flags().StringVar(&flagVolumes, "volumes", "", "directory shared into the container for bind mounts")
	rootCmd.Flags().StringVar(&flagTitle, "title", "wshd", "process title to set after bootstrap completes")

	rootCmd.Flags().BoolVar(&flagNSInit, "ns-init", false, "internal: cloned-namespace entry point")
	rootCmd.Flags().BoolVar(&flagContinue, "continue", false, "internal: post-pivot continuation entry point")
	rootCmd.Flags().BoolVar(&flagExecHelp, "exec-helper", false, "internal: per-spawn child setup helper")
	for _, name := range []string{"ns-init", "continue", "exec-helper"} {
		rootCmd.Flags().MarkHidden(name)
	}
}

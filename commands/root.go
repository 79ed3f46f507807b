package commands

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kestrel-dbg/kestrel/util/logutil"
	"github.com/kestrel-dbg/kestrel/version"
)

type rootOptions struct {
	debug   bool
	logFile string
}

// NewRootCmd builds the kestrel command tree.
func NewRootCmd(name string) *cobra.Command {
	var options rootOptions
	cmd := &cobra.Command{
		Use:           name,
		Short:         "Debug adapter for the LLDB debugging engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(&options)
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVar(&options.debug, "debug", os.Getenv("KESTREL_DEBUG") != "", "Enable debug logging")
	flags.StringVar(&options.logFile, "log-file", "", "Write logs to a file instead of stderr")

	cmd.AddCommand(
		serveCmd(&options),
		terminalAgentCmd(),
		versionCmd(),
	)
	return cmd
}

func setupLogging(options *rootOptions) error {
	if options.debug {
		logrus.SetLevel(logrus.DebugLevel)
		logrus.AddHook(logutil.NewFilter(
			"debug event:",
			"callback for breakpoint",
		))
	}
	// stdout carries the protocol; logs must never touch it.
	logrus.SetOutput(os.Stderr)
	if options.logFile != "" {
		f, err := os.OpenFile(options.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		logrus.SetOutput(f)
	}
	return nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", version.Package, version.Version, version.Revision)
			return nil
		},
	}
}

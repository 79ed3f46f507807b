package commands

import (
	"context"
	"net"
	"os"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kestrel-dbg/kestrel/adapter"
	"github.com/kestrel-dbg/kestrel/dap"
	"github.com/kestrel-dbg/kestrel/lldb/lldbstub"
	"github.com/kestrel-dbg/kestrel/script/luascript"
)

type serveOptions struct {
	listen       string
	multiSession bool
	settingsFile string
	noScripting  bool
}

func serveCmd(rootOpts *rootOptions) *cobra.Command {
	var options serveOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the debug adapter protocol on stdio or a TCP port",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), options)
		},
	}
	addServeFlags(cmd.Flags(), &options)
	return cmd
}

func addServeFlags(flags *pflag.FlagSet, options *serveOptions) {
	flags.StringVar(&options.listen, "listen", "", "Listen on a TCP address (host:port) instead of stdio")
	flags.BoolVar(&options.multiSession, "multi-session", false, "Keep accepting connections after a session ends (requires --listen)")
	flags.StringVar(&options.settingsFile, "settings", "", "Load default adapter settings from a TOML file")
	flags.BoolVar(&options.noScripting, "no-scripting", false, "Disable the embedded scripting interpreter")
}

func runServe(ctx context.Context, options serveOptions) error {
	settings, err := loadSettings(options.settingsFile)
	if err != nil {
		return err
	}

	agentPath, err := os.Executable()
	if err != nil {
		logrus.WithError(err).Warn("cannot determine executable path; terminal provisioning disabled")
		agentPath = ""
	}

	newSession := func() *adapter.Session {
		opts := adapter.Options{
			Settings:  settings,
			AgentPath: agentPath,
		}
		if !options.noScripting {
			opts.Interpreter = luascript.New()
		}
		return adapter.New(newDebugger(), opts)
	}

	if options.listen == "" {
		conn := dap.NewConn(os.Stdin, os.Stdout)
		defer conn.Close()
		return newSession().Run(ctx, conn)
	}

	l, err := net.Listen("tcp", options.listen)
	if err != nil {
		return errors.Wrapf(err, "cannot listen on %s", options.listen)
	}
	defer l.Close()
	logrus.Infof("listening on %s", l.Addr())

	for {
		tcpConn, err := l.Accept()
		if err != nil {
			return err
		}
		conn := dap.NewConn(tcpConn, tcpConn)
		err = newSession().Run(ctx, conn)
		conn.Close()
		tcpConn.Close()
		if err != nil {
			logrus.WithError(err).Error("session ended")
		}
		if !options.multiSession {
			return err
		}
	}
}

func loadSettings(path string) (dap.AdapterSettings, error) {
	var settings dap.AdapterSettings
	if path == "" {
		return settings, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return settings, errors.Wrapf(err, "cannot read settings file %q", path)
	}
	if err := toml.Unmarshal(data, &settings); err != nil {
		return settings, errors.Wrapf(err, "cannot parse settings file %q", path)
	}
	return settings, nil
}

// newDebugger binds the engine. Only the in-memory stub engine is built in;
// no native binding is included, so the adapter remains runnable (and
// testable) without an engine installation.
func newDebugger() *lldbstub.Debugger {
	return lldbstub.NewDebugger()
}

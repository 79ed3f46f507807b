package adapter

import (
	"strings"

	"github.com/google/go-dap"
	"github.com/google/shlex"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	dapsrv "github.com/kestrel-dbg/kestrel/dap"
)

// replPrefix introduces adapter-local console commands; everything else in
// command position goes to the engine's interpreter.
const replPrefix = "kestrel"

// replCommand intercepts adapter-local console commands. handled=false
// means the input is for the engine.
func (s *Session) replCommand(c dapsrv.Context, command string, resp *dap.EvaluateResponse) (handled bool, retErr error) {
	trimmed := strings.TrimSpace(command)
	if trimmed != replPrefix && !strings.HasPrefix(trimmed, replPrefix+" ") {
		return false, nil
	}

	args, err := shlex.Split(trimmed)
	if err != nil {
		return true, dapsrv.BlameUserError(errors.Wrap(err, "cannot parse command"))
	}

	cmd := s.replCommands(c, resp, &retErr)
	cmd.SetArgs(args[1:])
	cmd.SetOut(discardWriter{})
	cmd.SetErr(discardWriter{})
	if err := cmd.Execute(); err != nil {
		// Only command-shape problems end up here; handler errors land in
		// retErr.
		return true, dapsrv.BlameUserError(err)
	}
	return true, retErr
}

func (s *Session) replCommands(c dapsrv.Context, resp *dap.EvaluateResponse, retErr *error) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           replPrefix,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	displayCmd := &cobra.Command{
		Use:       "display {auto|hex|decimal|binary}",
		Short:     "Override the default display format",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"auto", "hex", "decimal", "binary"},
		Run: func(cmd *cobra.Command, args []string) {
			format := args[0]
			caps, changed := s.updateAdapterSettings(&dapsrv.AdapterSettings{DisplayFormat: &format})
			if changed {
				s.sendEvent(c, &dap.CapabilitiesEvent{
					Event: dap.Event{Event: "capabilities"},
					Body:  dap.CapabilitiesEventBody{Capabilities: caps},
				})
			}
			if s.process != nil && s.process.State().IsStopped() {
				s.refreshClientDisplay(c, 0)
			}
			resp.Body.Result = "Display format: " + format
		},
	}
	rootCmd.AddCommand(displayCmd)

	consoleCmd := &cobra.Command{
		Use:       "console {commands|evaluate|split}",
		Short:     "Switch the console input mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"commands", "evaluate", "split"},
		Run: func(cmd *cobra.Command, args []string) {
			mode := args[0]
			s.updateAdapterSettings(&dapsrv.AdapterSettings{ConsoleMode: &mode})
			s.printConsoleMode(c)
		},
	}
	rootCmd.AddCommand(consoleCmd)

	return rootCmd
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

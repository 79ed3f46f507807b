package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// terminalAgentCmd is the process the client spawns inside a terminal via
// runInTerminal. It reports the terminal's tty device back to the adapter
// over a unix socket, then parks until the adapter drops the connection.
func terminalAgentCmd() *cobra.Command {
	var (
		socketPath string
		token      string
	)
	cmd := &cobra.Command{
		Use:    "terminal-agent",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTerminalAgent(socketPath, token)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&socketPath, "socket", "", "Adapter handshake socket")
	flags.StringVar(&token, "token", "", "Handshake token")
	cmd.MarkFlagRequired("socket")
	cmd.MarkFlagRequired("token")
	return cmd
}

func runTerminalAgent(socketPath, token string) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("not connected to a terminal")
	}
	ttyName, err := ttyNameOf(os.Stdin)
	if err != nil {
		return err
	}

	conn, err := net.Dial("unix", socketPath)
	if err != nil {
		return errors.Wrap(err, "cannot reach the debug adapter")
	}
	defer conn.Close()

	if _, err := fmt.Fprintf(conn, "%s\t%s\n", token, ttyName); err != nil {
		return err
	}

	// Clear the shell prompt so debuggee output starts on a clean screen.
	fmt.Print("\033[2J\033[H")
	fmt.Println("Debuggee terminal. This window is controlled by the debug adapter.")

	// Park until the adapter closes the connection or we get interrupted.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		buf := make([]byte, 1)
		conn.Read(buf)
		close(done)
	}()
	select {
	case <-done:
	case <-sig:
	}
	return nil
}

func ttyNameOf(f *os.File) (string, error) {
	// On Linux the controlling terminal of fd N is readable via procfs.
	name, err := os.Readlink(fmt.Sprintf("/proc/self/fd/%d", f.Fd()))
	if err != nil {
		return "", errors.Wrap(err, "cannot resolve tty name")
	}
	return name, nil
}

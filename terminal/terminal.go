// Package terminal provisions the tty the debuggee's stdio gets wired to:
// either a client-provided terminal reached through a runInTerminal reverse
// request and a small agent process, or a locally allocated pty whose
// output is pumped back into the debug console.
package terminal

import (
	"bufio"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	godap "github.com/google/go-dap"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/creack/pty"

	"github.com/kestrel-dbg/kestrel/dap"
)

const agentTimeout = 15 * time.Second

// Terminal is a provisioned debuggee terminal. InputDevName/OutputDevName
// are the device paths to wire into the launch info's stdio actions.
type Terminal struct {
	ttyName string
	closers []io.Closer
	tmpDir  string
}

func (t *Terminal) InputDevName() string  { return t.ttyName }
func (t *Terminal) OutputDevName() string { return t.ttyName }

func (t *Terminal) Close() error {
	var first error
	for _, c := range t.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	if t.tmpDir != "" {
		os.RemoveAll(t.tmpDir)
	}
	return first
}

// Create asks the client to run the terminal agent in a terminal of the
// requested kind ("integrated" or "external") and waits for the agent to
// report its tty over a unix socket.
func Create(c dap.Context, kind, title string, agentPath string) (*Terminal, error) {
	if agentPath == "" {
		return nil, errors.New("no terminal agent configured")
	}

	dir, err := os.MkdirTemp("", "kestrel-term")
	if err != nil {
		return nil, err
	}
	sockPath := filepath.Join(dir, "agent.sock")
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		os.RemoveAll(dir)
		return nil, err
	}

	token := uuid.NewString()
	req := &godap.RunInTerminalRequest{
		Request: godap.Request{Command: "runInTerminal"},
		Arguments: godap.RunInTerminalRequestArguments{
			Kind:  kind,
			Title: title,
			Args:  []string{agentPath, "terminal-agent", "--socket", sockPath, "--token", token},
		},
	}

	resp := c.Request(req)
	if !resp.GetResponse().Success {
		l.Close()
		os.RemoveAll(dir)
		return nil, errors.Errorf("runInTerminal failed: %s", resp.GetResponse().Message)
	}

	type accepted struct {
		conn net.Conn
		tty  string
		err  error
	}
	ch := make(chan accepted, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			ch <- accepted{err: err}
			return
		}
		conn.SetReadDeadline(time.Now().Add(agentTimeout))
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			conn.Close()
			ch <- accepted{err: err}
			return
		}
		parts := strings.SplitN(strings.TrimSpace(line), "\t", 2)
		if len(parts) != 2 || parts[0] != token {
			conn.Close()
			ch <- accepted{err: errors.New("terminal agent handshake failed")}
			return
		}
		conn.SetReadDeadline(time.Time{})
		ch <- accepted{conn: conn, tty: parts[1]}
	}()

	select {
	case a := <-ch:
		l.Close()
		if a.err != nil {
			os.RemoveAll(dir)
			return nil, a.err
		}
		// The connection is held open for the lifetime of the terminal; the
		// agent exits when it closes.
		return &Terminal{
			ttyName: a.tty,
			closers: []io.Closer{a.conn},
			tmpDir:  dir,
		}, nil
	case <-time.After(agentTimeout):
		l.Close()
		os.RemoveAll(dir)
		return nil, errors.New("timed out waiting for the terminal agent")
	case <-c.Done():
		l.Close()
		os.RemoveAll(dir)
		return nil, c.Err()
	}
}

// CreateLocal allocates a pty pair owned by the adapter; debuggee output is
// pumped into consoleOutput as it arrives.
func CreateLocal(consoleOutput io.Writer) (*Terminal, error) {
	master, tty, err := pty.Open()
	if err != nil {
		return nil, err
	}

	go func() {
		if _, err := io.Copy(consoleOutput, master); err != nil {
			logrus.WithError(err).Debug("terminal: output pump ended")
		}
	}()

	return &Terminal{
		ttyName: tty.Name(),
		closers: []io.Closer{tty, master},
	}, nil
}

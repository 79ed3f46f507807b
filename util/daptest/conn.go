package daptest

import (
	"io"
	"testing"

	"github.com/kestrel-dbg/kestrel/dap"
)

// Pipe returns a connected (server, client) conn pair over in-memory pipes.
func Pipe(t *testing.T) (dap.Conn, *Client) {
	t.Helper()

	rd1, wr1 := io.Pipe()
	rd2, wr2 := io.Pipe()

	srvConn := dap.NewConn(rd1, wr2)
	clientConn := dap.NewConn(rd2, wr1)

	client := NewClient(clientConn)
	t.Cleanup(func() {
		client.Close()
		clientConn.Close()
		srvConn.Close()
	})
	return srvConn, client
}

package dap

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/go-dap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (Conn, Conn) {
	t.Helper()

	rd1, wr1 := io.Pipe()
	rd2, wr2 := io.Pipe()

	a := NewConn(rd1, wr2)
	b := NewConn(rd2, wr1)
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func recv(t *testing.T, c Conn) dap.Message {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	m, err := c.RecvMsg(ctx)
	require.NoError(t, err)
	return m
}

func TestConnRoundtripRequest(t *testing.T) {
	a, b := pipePair(t)

	req := &dap.InitializeRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 1, Type: "request"},
			Command:         "initialize",
		},
		Arguments: dap.InitializeRequestArguments{
			AdapterID:    "x",
			PathFormat:   "path",
			LinesStartAt1: true,
		},
	}
	require.NoError(t, a.SendMsg(req))

	m := recv(t, b)
	got, ok := m.(*dap.InitializeRequest)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, "initialize", got.Command)
	assert.Equal(t, "x", got.Arguments.AdapterID)
	assert.True(t, got.Arguments.LinesStartAt1)
}

func TestConnRoundtripEventAndResponse(t *testing.T) {
	a, b := pipePair(t)

	require.NoError(t, a.SendMsg(&dap.StoppedEvent{
		Event: dap.Event{ProtocolMessage: dap.ProtocolMessage{Seq: 2, Type: "event"}, Event: "stopped"},
		Body:  dap.StoppedEventBody{Reason: "breakpoint", ThreadId: 7, AllThreadsStopped: true},
	}))
	ev, ok := recv(t, b).(*dap.StoppedEvent)
	require.True(t, ok)
	assert.Equal(t, "breakpoint", ev.Body.Reason)
	assert.Equal(t, 7, ev.Body.ThreadId)

	resp := &dap.ContinueResponse{}
	resp.Seq = 3
	resp.Type = "response"
	resp.RequestSeq = 9
	resp.Success = true
	resp.Command = "continue"
	resp.Body.AllThreadsContinued = true
	require.NoError(t, a.SendMsg(resp))
	got, ok := recv(t, b).(*dap.ContinueResponse)
	require.True(t, ok)
	assert.Equal(t, 9, got.RequestSeq)
	assert.True(t, got.Body.AllThreadsContinued)
}

func TestConnDecodesCustomCommands(t *testing.T) {
	a, b := pipePair(t)

	hex := "hex"
	require.NoError(t, a.SendMsg(&AdapterSettingsRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 4, Type: "request"},
			Command:         CommandAdapterSettings,
		},
		Arguments: AdapterSettings{DisplayFormat: &hex},
	}))

	m := recv(t, b)
	got, ok := m.(*AdapterSettingsRequest)
	require.True(t, ok, "got %T", m)
	require.NotNil(t, got.Arguments.DisplayFormat)
	assert.Equal(t, "hex", *got.Arguments.DisplayFormat)
}

func TestConnUnknownCommandSentinel(t *testing.T) {
	a, b := pipePair(t)

	require.NoError(t, a.SendMsg(&UnknownRequest{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: 5, Type: "request"},
			Command:         "frobnicate",
		},
	}))

	m := recv(t, b)
	got, ok := m.(*UnknownRequest)
	require.True(t, ok, "got %T", m)
	assert.Equal(t, "frobnicate", got.Command)
}

func TestClassifyError(t *testing.T) {
	msg, show := ClassifyError(BlameUserErrorf("bad argument"))
	assert.Equal(t, "bad argument", msg)
	assert.True(t, show)

	msg, show = ClassifyError(BlameNobodyError(io.EOF))
	assert.Equal(t, "EOF", msg)
	assert.False(t, show)

	msg, show = ClassifyError(io.ErrUnexpectedEOF)
	assert.Equal(t, "Internal debugger error: unexpected EOF", msg)
	assert.True(t, show)
}

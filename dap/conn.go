package dap

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Conn is a framed, message-oriented DAP transport.
type Conn interface {
	SendMsg(m dap.Message) error
	RecvMsg(ctx context.Context) (dap.Message, error)
	io.Closer
}

type conn struct {
	recvCh <-chan dap.Message
	sendCh chan<- dap.Message

	ctx    context.Context
	cancel context.CancelCauseFunc

	eg   *errgroup.Group
	once sync.Once
}

// NewConn wraps a reader/writer pair (usually stdin/stdout or a TCP socket)
// with Content-Length framing. Messages go-dap cannot decode are retried
// through the custom-command decoder, so underscore-namespaced extensions
// and unknown commands still surface as typed messages.
func NewConn(rd io.Reader, wr io.Writer) Conn {
	recvCh := make(chan dap.Message, 100)
	sendCh := make(chan dap.Message, 100)

	// Reader input may never close so this is an orphaned goroutine: stdin
	// close is controlled by the OS and can't be forced from here.
	go func() {
		defer close(recvCh)

		rd := bufio.NewReader(rd)
		for {
			m, err := readMessage(rd)
			if err != nil {
				return
			}
			recvCh <- m
		}
	}()

	eg, _ := errgroup.WithContext(context.Background())
	eg.Go(func() error {
		for m := range sendCh {
			if err := dap.WriteProtocolMessage(wr, m); err != nil {
				return err
			}
		}
		return nil
	})

	ctx, cancel := context.WithCancelCause(context.Background())
	return &conn{
		recvCh: recvCh,
		sendCh: sendCh,
		ctx:    ctx,
		cancel: cancel,
		eg:     eg,
	}
}

func readMessage(rd *bufio.Reader) (dap.Message, error) {
	data, err := dap.ReadBaseMessage(rd)
	if err != nil {
		return nil, err
	}
	m, err := dap.DecodeProtocolMessage(data)
	if err == nil {
		return m, nil
	}

	// go-dap rejects commands outside its table. Requests and responses
	// get a second chance through the extension decoders; everything else
	// is a hard protocol error.
	var probe struct {
		Type string `json:"type"`
	}
	if jerr := json.Unmarshal(data, &probe); jerr != nil {
		return nil, err
	}
	switch probe.Type {
	case "request":
		return decodeCustomRequest(data)
	case "response":
		return decodeGenericResponse(data)
	default:
		return nil, err
	}
}

func (c *conn) SendMsg(m dap.Message) error {
	select {
	case c.sendCh <- m:
		return nil
	default:
		return errors.New("send channel full")
	}
}

func (c *conn) RecvMsg(ctx context.Context) (dap.Message, error) {
	select {
	case m, ok := <-c.recvCh:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case <-c.ctx.Done():
		return nil, c.ctx.Err()
	}
}

func (c *conn) Close() error {
	c.cancel(context.Canceled)
	c.once.Do(func() {
		close(c.sendCh)
	})
	return c.eg.Wait()
}

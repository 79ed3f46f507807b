// Package daptest provides a scriptable DAP client for exercising the
// adapter in tests.
package daptest

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	godap "github.com/google/go-dap"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-dbg/kestrel/dap"
)

// Client talks to an adapter over a dap.Conn. Responses are matched to
// requests by sequence number; events fan out to registered handlers.
type Client struct {
	conn dap.Conn

	requests   map[int]chan<- godap.ResponseMessage
	requestsMu sync.Mutex

	events   map[string][]func(godap.EventMessage)
	eventsMu sync.RWMutex

	reverse   func(godap.RequestMessage) godap.ResponseMessage
	reverseMu sync.RWMutex

	seq    atomic.Int64
	eg     *errgroup.Group
	cancel context.CancelCauseFunc
}

func NewClient(conn dap.Conn) *Client {
	c := &Client{
		conn:     conn,
		requests: make(map[int]chan<- godap.ResponseMessage),
		events:   make(map[string][]func(godap.EventMessage)),
	}

	var ctx context.Context
	ctx, c.cancel = context.WithCancelCause(context.Background())

	c.eg, _ = errgroup.WithContext(context.Background())
	c.eg.Go(func() error {
		for {
			m, err := conn.RecvMsg(ctx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}

			switch m := m.(type) {
			case godap.RequestMessage:
				c.handleReverseRequest(m)
			case godap.ResponseMessage:
				c.dispatchResponse(m)
			case godap.EventMessage:
				c.dispatchEvent(m)
			}
		}
	})
	return c
}

func (c *Client) handleReverseRequest(m godap.RequestMessage) {
	c.reverseMu.RLock()
	reverse := c.reverse
	c.reverseMu.RUnlock()

	var resp godap.ResponseMessage
	if reverse != nil {
		resp = reverse(m)
	} else {
		r := &godap.Response{}
		r.Success = false
		r.Message = "reverse requests are not supported"
		resp = r
	}
	r := resp.GetResponse()
	r.Seq = c.nextSeq()
	r.Type = "response"
	r.RequestSeq = m.GetSeq()
	r.Command = m.GetRequest().Command
	c.conn.SendMsg(resp)
}

func (c *Client) dispatchResponse(m godap.ResponseMessage) {
	c.requestsMu.Lock()
	ch, ok := c.requests[m.GetResponse().RequestSeq]
	if ok {
		delete(c.requests, m.GetResponse().RequestSeq)
	}
	c.requestsMu.Unlock()
	if ok {
		ch <- m
	}
}

func (c *Client) dispatchEvent(m godap.EventMessage) {
	c.eventsMu.RLock()
	handlers := append([]func(godap.EventMessage){}, c.events[m.GetEvent().Event]...)
	c.eventsMu.RUnlock()
	for _, h := range handlers {
		h(m)
	}
}

// RegisterEvent adds a handler for the named event.
func (c *Client) RegisterEvent(name string, fn func(godap.EventMessage)) {
	c.eventsMu.Lock()
	c.events[name] = append(c.events[name], fn)
	c.eventsMu.Unlock()
}

// OnReverseRequest installs the responder for server-initiated requests.
func (c *Client) OnReverseRequest(fn func(godap.RequestMessage) godap.ResponseMessage) {
	c.reverseMu.Lock()
	c.reverse = fn
	c.reverseMu.Unlock()
}

func (c *Client) nextSeq() int {
	return int(c.seq.Add(1))
}

// Send transmits a request and returns a channel carrying its response.
func (c *Client) Send(req godap.RequestMessage) <-chan godap.ResponseMessage {
	req.GetRequest().Seq = c.nextSeq()
	req.GetRequest().Type = "request"

	ch := make(chan godap.ResponseMessage, 1)
	c.requestsMu.Lock()
	c.requests[req.GetRequest().Seq] = ch
	c.requestsMu.Unlock()

	c.conn.SendMsg(req)
	return ch
}

// DoRequest sends req and returns a channel of the typed response.
func DoRequest[Resp godap.ResponseMessage](t *testing.T, c *Client, req godap.RequestMessage) <-chan Resp {
	t.Helper()

	out := make(chan Resp, 1)
	in := c.Send(req)
	go func() {
		m, ok := <-in
		if !ok {
			close(out)
			return
		}
		resp, ok := m.(Resp)
		if !ok {
			t.Errorf("unexpected response type %T for command %q", m, req.GetRequest().Command)
			close(out)
			return
		}
		out <- resp
	}()
	return out
}

// Await reads from a response channel with a test-friendly timeout.
func Await[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(10 * time.Second):
		var zero T
		t.Fatalf("timed out waiting for response")
		return zero
	}
}

func (c *Client) Close() error {
	c.cancel(context.Canceled)
	return c.eg.Wait()
}

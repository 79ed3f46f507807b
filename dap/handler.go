package dap

import (
	"context"

	"github.com/google/go-dap"
)

// Context is handed to session handlers and server tasks. C() is the single
// outgoing channel; Go spawns a server task; Request performs a reverse
// request (e.g. runInTerminal) and blocks until the client responds.
type Context interface {
	context.Context
	C() chan<- dap.Message
	Go(f func(c Context)) bool
	Request(req dap.RequestMessage) dap.ResponseMessage
}

type dispatchContext struct {
	context.Context
	srv *Server
	ch  chan<- dap.Message
}

func (c *dispatchContext) C() chan<- dap.Message {
	return c.ch
}

func (c *dispatchContext) Go(f func(c Context)) bool {
	return c.srv.Go(f)
}

func (c *dispatchContext) Request(req dap.RequestMessage) dap.ResponseMessage {
	respCh := make(chan dap.ResponseMessage, 1)
	c.srv.doRequest(c, req, func(_ Context, resp dap.ResponseMessage) {
		respCh <- resp
	})

	select {
	case resp := <-respCh:
		return resp
	case <-c.Done():
		resp := &dap.Response{}
		resp.RequestSeq = req.GetRequest().Seq
		resp.Command = req.GetRequest().Command
		resp.Message = context.Cause(c).Error()
		return resp
	}
}

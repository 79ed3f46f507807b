package dap

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/go-dap"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kestrel-dbg/kestrel/cancellation"
)

var ErrServerStopped = errors.New("dap: server stopped")

// RequestCallback receives the response to a server-initiated (reverse)
// request such as runInTerminal.
type RequestCallback func(c Context, resp dap.ResponseMessage)

// Request is a decoded client request paired with its cancellation token,
// as delivered to the session loop.
type Request struct {
	Msg    dap.RequestMessage
	Cancel *cancellation.Receiver
}

// Server owns the transport loops. Incoming requests pass through the
// cancellation filter and come out on Requests(); the session loop is their
// single consumer. Outgoing messages funnel through one channel drained by
// the write loop, which assigns sequence numbers.
type Server struct {
	mu sync.RWMutex
	ch chan dap.Message

	reqCh chan *Request

	eg     *errgroup.Group
	ctx    context.Context
	cancel context.CancelCauseFunc

	seq      atomic.Int64
	requests sync.Map

	ready     chan struct{}
	readyOnce sync.Once
}

func NewServer() *Server {
	return &Server{
		reqCh: make(chan *Request, 100),
		ready: make(chan struct{}),
	}
}

// Ready is closed once Serve has initialized the server; Go may not be
// called before then.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Requests is the filtered request stream. The channel closes when the
// client disconnects.
func (s *Server) Requests() <-chan *Request {
	return s.reqCh
}

func (s *Server) Serve(ctx context.Context, conn Conn) error {
	writeCh := make(chan dap.Message)
	s.ch = writeCh

	s.ctx, s.cancel = context.WithCancelCause(ctx)

	// Error group for server-initiated tasks.
	s.eg, _ = errgroup.WithContext(s.ctx)
	s.eg.Go(func() error {
		<-s.ctx.Done()
		return s.ctx.Err()
	})

	s.readyOnce.Do(func() { close(s.ready) })

	eg, _ := errgroup.WithContext(s.ctx)
	eg.Go(func() error {
		return s.readLoop(conn)
	})

	eg.Go(func() error {
		return s.writeLoop(conn, writeCh)
	})

	eg.Go(func() error {
		defer close(writeCh)
		err := s.eg.Wait()

		s.mu.Lock()
		s.ch = nil
		s.mu.Unlock()
		return err
	})

	return eg.Wait()
}

func (s *Server) readLoop(conn Conn) error {
	defer close(s.reqCh)

	// Tokens for requests still awaiting a response, and the subset whose
	// commands may be cancelled by a state-changing request.
	pending := map[int]*cancellation.Sender{}
	var cancellable []*cancellation.Sender

	for {
		m, err := conn.RecvMsg(s.ctx)
		if err != nil {
			return nil
		}

		switch m := m.(type) {
		case dap.RequestMessage:
			sender := cancellation.NewSender()
			receiver := sender.Subscribe()

			// Prune entries whose receivers were released.
			for k, v := range pending {
				if v.ReceiverCount() == 0 {
					delete(pending, k)
				}
			}
			live := cancellable[:0]
			for _, v := range cancellable {
				if v.ReceiverCount() > 0 {
					live = append(live, v)
				}
			}
			cancellable = live

			cmd := m.GetRequest().Command
			switch {
			case cmd == "cancel":
				logrus.Debugf("cancellation request: seq=%d", m.GetSeq())
				if creq, ok := m.(*dap.CancelRequest); ok && creq.Arguments != nil {
					if sender, ok := pending[creq.Arguments.RequestId]; ok {
						delete(pending, creq.Arguments.RequestId)
						sender.Cancel()
					}
				}
				// Acknowledge here; the session loop never sees it.
				resp := &dap.CancelResponse{}
				resp.Response.RequestSeq = m.GetSeq()
				resp.Response.Command = cmd
				resp.Response.Success = true
				s.Go(func(c Context) {
					c.C() <- resp
				})
				continue
			case isCancellable(cmd):
				cancellable = append(cancellable, sender)
			case isCancelling(cmd):
				for _, sender := range cancellable {
					sender.Cancel()
				}
				cancellable = cancellable[:0]
			}

			pending[m.GetSeq()] = sender
			s.reqCh <- &Request{Msg: m, Cancel: receiver}

		case dap.ResponseMessage:
			s.dispatchResponse(m)
		}
	}
}

// isCancellable reports commands whose handlers poll their token inside
// bounded loops and may be abandoned.
func isCancellable(cmd string) bool {
	switch cmd {
	case "scopes", "variables", "evaluate":
		return true
	}
	return false
}

// isCancelling reports commands that retire every outstanding cancellable
// token on arrival.
func isCancelling(cmd string) bool {
	switch cmd {
	case "continue", "pause", "next", "stepIn", "stepOut",
		"stepBack", "reverseContinue", "terminate", "disconnect":
		return true
	}
	return false
}

func (s *Server) dispatchResponse(m dap.ResponseMessage) {
	reqID := m.GetResponse().RequestSeq
	if v, loaded := s.requests.LoadAndDelete(reqID); loaded {
		callback := v.(RequestCallback)
		s.Go(func(c Context) {
			callback(c, m)
		})
	}
}

func (s *Server) writeLoop(conn Conn, respCh <-chan dap.Message) error {
	for m := range respCh {
		switch m := m.(type) {
		case dap.RequestMessage:
			if req := m.GetRequest(); req.Seq == 0 {
				req.Seq = int(s.seq.Add(1))
			}
			m.GetRequest().Type = "request"
		case dap.EventMessage:
			if event := m.GetEvent(); event.Seq == 0 {
				event.Seq = int(s.seq.Add(1))
			}
			m.GetEvent().Type = "event"
		case dap.ResponseMessage:
			if resp := m.GetResponse(); resp.Seq == 0 {
				resp.Seq = int(s.seq.Add(1))
			}
			m.GetResponse().Type = "response"
		}

		if err := conn.SendMsg(m); err != nil {
			return err
		}
	}
	return nil
}

// Go runs fn as a server task with access to the outgoing channel. It
// reports false when the server is already stopped.
func (s *Server) Go(fn func(c Context)) bool {
	acquireChannel := func() (chan<- dap.Message, bool) {
		s.mu.RLock()
		defer s.mu.RUnlock()

		return s.ch, s.ch != nil
	}

	ctx, cancel := context.WithCancelCause(s.ctx)
	c := &dispatchContext{
		Context: ctx,
		srv:     s,
	}

	started := make(chan bool, 1)
	s.eg.Go(func() error {
		var ok bool
		c.ch, ok = acquireChannel()
		started <- ok

		if c.ch == nil {
			return nil
		}

		defer cancel(context.Canceled)
		fn(c)
		return nil
	})
	return <-started
}

func (s *Server) doRequest(c Context, req dap.RequestMessage, callback RequestCallback) {
	req.GetRequest().Seq = int(s.seq.Add(1))
	s.requests.Store(req.GetRequest().Seq, callback)
	c.C() <- req
}

func (s *Server) Stop() {
	s.mu.Lock()
	s.ch = nil
	s.mu.Unlock()
	s.cancel(ErrServerStopped)
}

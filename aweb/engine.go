// Copyright 2025 The Async Web SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package aweb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/asyncweb/go-sdk/internal/httparse"
)

// DefaultTimeout is the idle timeout applied when EngineOptions.Timeout is
// zero: a connection that receives no bytes for this long is torn down.
const DefaultTimeout = 5 * time.Second

// defaultQueueSize bounds the number of parsed-but-undispatched pipelined
// requests per connection. The read loop blocks once the queue is full,
// which is safe: every queued request except the newest already has a
// resolved body, so the worker always makes progress.
const defaultQueueSize = 32

// A ConnState is the lifecycle state of one connection.
type ConnState int32

const (
	// StateClosed means the connection is not (or no longer) established.
	StateClosed ConnState = iota
	// StatePending means the connection is established and waiting for the
	// first byte of the next message.
	StatePending
	// StateHeader means part of a request head has been received.
	StateHeader
	// StateBody means the headers of the current request are complete.
	StateBody
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StatePending:
		return "pending"
	case StateHeader:
		return "header"
	case StateBody:
		return "body"
	}
	return fmt.Sprintf("ConnState(%d)", int32(s))
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Timeout is the idle timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Clock supplies timers. Defaults to the real clock; tests install a
	// clockwork fake to drive the idle timeout deterministically.
	Clock clockwork.Clock

	// Logger receives engine logs. Defaults to logrus.StandardLogger().
	Logger logrus.FieldLogger

	// QueueSize bounds the pipelining queue. Defaults to defaultQueueSize.
	QueueSize int
}

// An Engine is the per-connection protocol state machine. It drives an
// incremental parser over the received bytes, queues each request as soon as
// its headers are complete, and runs a single worker goroutine that invokes
// the container's handler and writes responses back in request order.
//
// DataReceived, the parser callbacks and the connection lifecycle methods
// must all be called from the connection's read goroutine. The worker and
// the idle timer run on their own goroutines and touch only the queue, the
// transport and the cancellation state.
type Engine struct {
	container *Container
	logger    logrus.FieldLogger
	clock     clockwork.Clock
	timeout   time.Duration

	state atomic.Int32
	queue chan *Request

	// Parse state. Owned by the read goroutine.
	parser  *httparse.Parser
	headers map[string][]byte
	body    []byte
	bodyFut *bodyFuture

	// Lifecycle state, shared between the read goroutine and the timer.
	mu           sync.Mutex
	transport    Transport
	workerCtx    context.Context
	workerCancel context.CancelCauseFunc
	workerDone   chan struct{}
	timer        clockwork.Timer
}

// NewEngine returns an engine dispatching requests to container's handler.
func NewEngine(container *Container, opts *EngineOptions) *Engine {
	if opts == nil {
		opts = &EngineOptions{}
	}
	e := &Engine{
		container: container,
		logger:    opts.Logger,
		clock:     opts.Clock,
		timeout:   opts.Timeout,
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	e.queue = make(chan *Request, size)
	return e
}

// State returns the connection state.
func (e *Engine) State() ConnState {
	return ConnState(e.state.Load())
}

func (e *Engine) setState(s ConnState) {
	e.state.Store(int32(s))
}

// ConnectionMade signals that the connection is established. It starts the
// worker goroutine, schedules the idle timeout and moves the state to
// pending. No response is produced yet.
func (e *Engine) ConnectionMade(t Transport) {
	e.logger.Debugf("connection started, transport is %v", t)
	ctx, cancel := context.WithCancelCause(context.Background())

	e.mu.Lock()
	e.transport = t
	e.workerCtx = ctx
	e.workerCancel = cancel
	e.workerDone = make(chan struct{})
	e.timer = e.clock.AfterFunc(e.timeout, e.onTimeout)
	done := e.workerDone
	queue := e.queue
	e.mu.Unlock()

	go e.workerLoop(ctx, t, queue, done)
	e.setState(StatePending)
}

// ConnectionLost signals that the connection has been closed, by either
// side. The worker is cancelled, the idle timeout is stopped, and queued but
// unanswered requests along with any in-flight parse state are discarded.
// err, if any, is logged and otherwise ignored.
func (e *Engine) ConnectionLost(err error) {
	if err != nil {
		e.logger.Errorf("connection closed with error: %v", err)
	}
	e.logger.Debug("connection closed")

	e.mu.Lock()
	if e.workerCancel != nil {
		e.workerCancel(errConnectionLost)
		e.workerCancel = nil
	}
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.transport = nil
	e.mu.Unlock()

	e.queue = make(chan *Request, cap(e.queue))
	e.parser = nil
	e.headers = nil
	e.body = nil
	e.bodyFut = nil
	e.setState(StateClosed)
}

// DataReceived feeds received bytes into the parser, which may invoke any
// number of parser callbacks before it returns. The idle timeout is
// rescheduled with the full interval. A parser error on malformed input is
// returned to the caller, which is expected to close the connection.
func (e *Engine) DataReceived(data []byte) error {
	if e.parser == nil {
		e.parser = httparse.New(e)
	}
	if e.State() == StatePending {
		e.setState(StateHeader)
	}
	if err := e.parser.Feed(data); err != nil {
		return err
	}

	e.mu.Lock()
	if e.timer != nil {
		e.logger.Debug("resetting idle timeout")
		e.timer.Stop()
		e.timer = e.clock.AfterFunc(e.timeout, e.onTimeout)
	}
	e.mu.Unlock()
	return nil
}

// OnHeader stores one header field. The name is UTF-8 decoded; empty names
// are dropped. A duplicated name keeps the last value.
func (e *Engine) OnHeader(name, value []byte) {
	e.setState(StateHeader)
	key := string(name)
	if key == "" {
		return
	}
	if e.headers == nil {
		e.headers = make(map[string][]byte)
	}
	e.headers[key] = append([]byte(nil), value...)
}

// OnHeadersComplete builds a Request from the accumulated headers and the
// parser's version and keep-alive flags, gives it a fresh body future, and
// enqueues it for the worker. The headers map is handed off as-is; a new map
// is allocated for the next message, so pipelined requests never alias.
func (e *Engine) OnHeadersComplete() {
	e.bodyFut = newBodyFuture()
	req := &Request{
		headers:     e.headers,
		httpVersion: e.parser.HTTPVersion(),
		keepAlive:   e.parser.ShouldKeepAlive(),
		body:        e.bodyFut,
	}
	e.headers = nil

	e.mu.Lock()
	ctx := e.workerCtx
	e.mu.Unlock()
	if ctx == nil {
		e.logger.Error("request parsed without an established connection")
		return
	}
	select {
	case e.queue <- req:
	case <-ctx.Done():
	}
	e.setState(StateBody)
}

// OnBody appends a piece of the current request's body.
func (e *Engine) OnBody(chunk []byte) {
	e.body = append(e.body, chunk...)
}

// OnMessageComplete resolves the current request's body future with the
// accumulated body bytes, or with an empty body if none arrived, and resets
// the per-message parse state.
func (e *Engine) OnMessageComplete() {
	e.setState(StatePending)
	if e.bodyFut == nil {
		e.logger.Error("no pending body future at message complete")
	} else if e.body == nil {
		e.bodyFut.resolve([]byte{})
	} else {
		e.bodyFut.resolve(e.body)
	}
	e.headers = nil
	e.body = nil
	e.bodyFut = nil
}

// onTimeout fires when no bytes have arrived for the idle interval. It
// cancels the worker and closes the transport. Firing on an engine whose
// connection is already gone is a no-op.
func (e *Engine) onTimeout() {
	e.mu.Lock()
	cancel := e.workerCancel
	t := e.transport
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	e.logger.Debug("idle timeout fired")
	cancel(errTaskTimedOut)
	if t != nil {
		if err := t.Close(); err != nil {
			e.logger.Errorf("closing timed-out transport: %v", err)
		}
	}
}

// workerLoop dispatches queued requests until cancelled. Responses are
// written in request order. A write error is logged and the loop continues
// with the next request; a closing transport terminates the loop.
func (e *Engine) workerLoop(ctx context.Context, t Transport, queue <-chan *Request, done chan struct{}) {
	defer close(done)
	for {
		var req *Request
		select {
		case <-ctx.Done():
			e.logger.Debugf("worker cancelled: %v", context.Cause(ctx))
			return
		case req = <-queue:
		}

		response, err := e.invokeHandler(ctx, req)
		if err != nil {
			e.logger.Debugf("worker cancelled during handler: %v", err)
			return
		}

		if t.IsClosing() {
			e.logger.Error("cannot write into closing transport")
			return
		}
		if err := t.Write(response); err != nil {
			e.logger.Errorf("unexpected write error (type=%T, msg=%v)", err, err)
			continue
		}
		if !req.KeepAlive() {
			if err := t.Close(); err != nil {
				e.logger.Errorf("closing transport: %v", err)
			}
		}
	}
}

// invokeHandler runs the container handler for req and formats the HTTP
// response. Handler failures become 500 responses: an *HTTPError carries its
// message, anything else a diagnostic naming the error. Cancellation is
// propagated, not converted.
func (e *Engine) invokeHandler(ctx context.Context, req *Request) ([]byte, error) {
	result, err := e.callHandler(ctx, req)

	status := 200
	if err != nil {
		if ctx.Err() != nil {
			return nil, context.Cause(ctx)
		}
		var msg string
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			msg = fmt.Sprintf("Internal server error, message is %s", httpErr.Msg)
		} else {
			msg = fmt.Sprintf("Unknown error (type=%T, msg=%v) caught", err, err)
		}
		e.logger.Errorf("have message %q from handler error", msg)
		result = []byte(msg)
		status = 500
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "HTTP/%s %d OK\r\n", req.HTTPVersion(), status)
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	fmt.Fprintf(&buf, "Content-Length: %d\r\n\r\n", len(result))
	buf.Write(result)
	return buf.Bytes(), nil
}

// callHandler invokes the handler with panics converted to errors, so a
// panicking handler produces a 500 instead of tearing the process down.
func (e *Engine) callHandler(ctx context.Context, req *Request) (result []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return e.container.HandleRequest(ctx, req)
}

// Copyright 2025 The Async Web SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package aweb is a minimal asynchronous HTTP/1.x server library.
//
// A [Container] accepts TCP connections and runs one protocol [Engine] per
// connection. The engine parses requests incrementally, queues each request
// as soon as its headers are complete, and dispatches them in order to a
// user [Handler] — so pipelined requests are parsed while earlier handlers
// are still running, and responses always go out in request order.
//
// A handler returns the response body for a 200 response, or an error for a
// 500. Handlers that need the request body call [Request.Body], which blocks
// until the request has been fully received:
//
//	func echo(ctx context.Context, req *aweb.Request, c *aweb.Container) ([]byte, error) {
//		return req.Body(ctx)
//	}
package aweb

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"golang.org/x/sync/errgroup"
)

// A Handler processes one request and returns the response body. Returning
// an error produces a 500 response; see [Container.CreateException]. The
// context is cancelled when the connection is lost or times out.
type Handler func(ctx context.Context, req *Request, c *Container) ([]byte, error)

// ContainerOptions configures a Container.
type ContainerOptions struct {
	// Timeout is the per-connection idle timeout. Defaults to DefaultTimeout.
	Timeout time.Duration

	// Logger receives container and engine logs. Defaults to
	// logrus.StandardLogger().
	Logger logrus.FieldLogger

	// Clock supplies timers for idle timeouts. Defaults to the real clock.
	Clock clockwork.Clock
}

// A Container serves HTTP requests on a host:port, dispatching each to its
// handler through a per-connection protocol engine.
type Container struct {
	host    string
	port    string
	handler Handler
	timeout time.Duration
	logger  logrus.FieldLogger
	clock   clockwork.Clock

	stopOnce sync.Once
	stop     chan struct{}

	mu       sync.Mutex
	listener net.Listener
}

// NewContainer returns a container serving handler on host:port. Passing
// port "0" binds an ephemeral port, available from Addr once Start has
// bound the listener.
func NewContainer(host, port string, handler Handler, opts *ContainerOptions) *Container {
	if opts == nil {
		opts = &ContainerOptions{}
	}
	c := &Container{
		host:    host,
		port:    port,
		handler: handler,
		timeout: opts.Timeout,
		logger:  opts.Logger,
		clock:   opts.Clock,
		stop:    make(chan struct{}),
	}
	if c.logger == nil {
		c.logger = logrus.StandardLogger()
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	return c
}

// Start binds the listener and serves until Stop is called or ctx is done,
// then closes the listener, tears down open connections and waits for their
// goroutines to drain.
func (c *Container) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(c.host, c.port))
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()
	c.logger.Debugf("listening on %s", ln.Addr())

	srvCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, _ := errgroup.WithContext(srvCtx)
	g.Go(func() error {
		select {
		case <-c.stop:
		case <-ctx.Done():
		}
		cancel()
		return ln.Close()
	})
	g.Go(func() error {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if errors.Is(err, net.ErrClosed) {
					return nil
				}
				return err
			}
			g.Go(func() error {
				c.serveConn(srvCtx, conn)
				return nil
			})
		}
	})
	return g.Wait()
}

// Stop asks a running Start to shut down. It returns immediately; Start
// returns once open connections have drained.
func (c *Container) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Addr returns the bound listener address, or nil before Start has bound.
func (c *Container) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// HandleRequest dispatches one request to the user handler.
func (c *Container) HandleRequest(ctx context.Context, req *Request) ([]byte, error) {
	return c.handler(ctx, req, c)
}

// CreateException constructs (but does not return as failure) an HTTPError
// carrying msg, for a handler to return when it wants a 500 response with
// that message.
func (c *Container) CreateException(msg string) *HTTPError {
	return &HTTPError{Msg: msg}
}

// serveConn owns one accepted connection: it wires a transport and an
// engine together and pumps received bytes into the engine until the peer
// closes, the input is malformed, or the container shuts down.
func (c *Container) serveConn(ctx context.Context, conn net.Conn) {
	engine := NewEngine(c, &EngineOptions{
		Timeout: c.timeout,
		Logger:  c.logger,
		Clock:   c.clock,
	})
	t := NewNetTransport(conn)
	engine.ConnectionMade(t)

	// Container shutdown closes the transport, which unblocks the read
	// below. The idle timeout closes it the same way.
	stopWatch := context.AfterFunc(ctx, func() { _ = t.Close() })
	defer stopWatch()

	buf := make([]byte, 32<<10)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if perr := engine.DataReceived(buf[:n]); perr != nil {
				c.logger.Errorf("protocol error from %s: %v", conn.RemoteAddr(), perr)
				_ = t.Close()
				engine.ConnectionLost(perr)
				return
			}
		}
		if err != nil {
			_ = t.Close()
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				engine.ConnectionLost(nil)
			} else {
				engine.ConnectionLost(err)
			}
			return
		}
	}
}

// Copyright 2025 The Async Web SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package aweb

import (
	"net"
	"sync"
)

// A Transport is the byte-oriented full-duplex channel a protocol engine
// writes responses to. The engine's worker and the connection's read loop
// may call it from different goroutines; implementations must be safe for
// concurrent use.
type Transport interface {
	// Write sends p to the peer.
	Write(p []byte) error

	// Close shuts the channel down. Closing a closed transport is a no-op.
	Close() error

	// IsClosing reports whether the transport is closed or closing.
	IsClosing() bool
}

// netTransport adapts a net.Conn to the Transport interface.
type netTransport struct {
	mu      sync.Mutex
	conn    net.Conn
	closing bool
}

// NewNetTransport returns a Transport over conn.
func NewNetTransport(conn net.Conn) Transport {
	return &netTransport{conn: conn}
}

func (t *netTransport) Write(p []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return net.ErrClosed
	}
	_, err := t.conn.Write(p)
	return err
}

func (t *netTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing {
		return nil
	}
	t.closing = true
	return t.conn.Close()
}

func (t *netTransport) IsClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

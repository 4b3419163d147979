// Copyright 2025 The Async Web SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package aweb

import "context"

// A bodyFuture is a one-shot cell holding the full body of a request. The
// engine resolves it exactly once, when the parser reports message-complete;
// reads after resolution always return the same bytes.
type bodyFuture struct {
	done chan struct{}
	data []byte
}

func newBodyFuture() *bodyFuture {
	return &bodyFuture{done: make(chan struct{})}
}

func (f *bodyFuture) resolve(data []byte) {
	f.data = data
	close(f.done)
}

func (f *bodyFuture) wait(ctx context.Context) ([]byte, error) {
	select {
	case <-f.done:
		return f.data, nil
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

// A Request is an immutable view of one parsed HTTP request. It is created
// by the protocol engine when the request's headers are complete and handed
// to the user handler; the body may still be in flight at that point.
type Request struct {
	headers     map[string][]byte
	httpVersion string
	keepAlive   bool
	body        *bodyFuture
}

// Headers returns the request headers as a mapping from UTF-8 decoded header
// name to raw value bytes. Names are stored as received, without case
// normalization; a duplicated name keeps the last value.
func (r *Request) Headers() map[string][]byte {
	if r.headers == nil {
		return map[string][]byte{}
	}
	return r.headers
}

// HTTPVersion returns the request's HTTP version, "1.0" or "1.1".
func (r *Request) HTTPVersion() string { return r.httpVersion }

// KeepAlive reports whether the connection should stay open after the
// response for this request has been written.
func (r *Request) KeepAlive() bool { return r.keepAlive }

// Body returns the full request body. It blocks until the parser has
// received the complete message, which for a request with a body may be
// after the handler has been invoked. Once resolved, Body returns the same
// bytes on every call.
func (r *Request) Body(ctx context.Context) ([]byte, error) {
	return r.body.wait(ctx)
}

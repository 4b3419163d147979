// Copyright 2025 The Async Web SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

package aweb

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestRequestAccessors(t *testing.T) {
	fut := newBodyFuture()
	req := &Request{
		headers:     map[string][]byte{"Host": []byte("example.com")},
		httpVersion: "1.1",
		keepAlive:   true,
		body:        fut,
	}
	if got := req.HTTPVersion(); got != "1.1" {
		t.Errorf("HTTPVersion() = %q, want %q", got, "1.1")
	}
	if !req.KeepAlive() {
		t.Error("KeepAlive() = false, want true")
	}
	if got := string(req.Headers()["Host"]); got != "example.com" {
		t.Errorf("Headers()[Host] = %q, want %q", got, "example.com")
	}
}

func TestRequestNilHeaders(t *testing.T) {
	req := &Request{body: newBodyFuture()}
	if got := req.Headers(); got == nil || len(got) != 0 {
		t.Errorf("Headers() = %v, want empty map", got)
	}
}

func TestRequestBodyResolved(t *testing.T) {
	fut := newBodyFuture()
	req := &Request{body: fut}
	fut.resolve([]byte("payload"))

	body, err := req.Body(context.Background())
	if err != nil {
		t.Fatalf("Body() failed: %v", err)
	}
	if !bytes.Equal(body, []byte("payload")) {
		t.Errorf("Body() = %q, want %q", body, "payload")
	}
}

func TestRequestBodyEmpty(t *testing.T) {
	fut := newBodyFuture()
	req := &Request{body: fut}
	fut.resolve([]byte{})

	body, err := req.Body(context.Background())
	if err != nil {
		t.Fatalf("Body() failed: %v", err)
	}
	if len(body) != 0 {
		t.Errorf("Body() = %q, want empty", body)
	}
}

func TestRequestBodyBlocksUntilResolved(t *testing.T) {
	fut := newBodyFuture()
	req := &Request{body: fut}

	got := make(chan []byte, 1)
	go func() {
		body, err := req.Body(context.Background())
		if err != nil {
			t.Errorf("Body() failed: %v", err)
		}
		got <- body
	}()

	fut.resolve([]byte("late"))
	select {
	case body := <-got:
		if !bytes.Equal(body, []byte("late")) {
			t.Errorf("Body() = %q, want %q", body, "late")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Body() did not observe resolution")
	}
}

func TestRequestBodyCancelled(t *testing.T) {
	req := &Request{body: newBodyFuture()}
	cause := errors.New("connection torn down")
	ctx, cancel := context.WithCancelCause(context.Background())
	cancel(cause)

	if _, err := req.Body(ctx); !errors.Is(err, cause) {
		t.Errorf("Body() error = %v, want cause %v", err, cause)
	}
}

// Copyright 2025 The Async Web SDK Authors. All rights reserved.
// Use of this source code is governed by an MIT-style
// license that can be found in the LICENSE file.

// Package httparse implements an incremental, callback-driven HTTP/1.x
// request parser.
//
// The parser follows a push model: callers feed it raw bytes as they arrive
// from the network, and the parser invokes the callbacks of its [Sink] as
// message elements become available. A single Feed call may deliver any
// number of callbacks, including the callbacks for several complete
// pipelined messages.
//
// Byte slices passed to Sink callbacks alias the parser's internal buffer
// and are only valid for the duration of the callback.
package httparse

import (
	"bytes"
	"fmt"
	"strconv"
)

// Parsing limits, applied per message.
const (
	// MaxRequestLineBytes is the maximum accepted size of the request line.
	MaxRequestLineBytes = 8 << 10

	// MaxHeaderBytes is the maximum accepted size of the header block.
	MaxHeaderBytes = 64 << 10

	// MaxHeaderCount is the maximum accepted number of header fields.
	MaxHeaderCount = 100
)

// A Sink receives parse events. All callbacks are invoked synchronously from
// within [Parser.Feed], in wire order.
type Sink interface {
	// OnHeader reports one header field. Name and value alias the parser's
	// buffer and must be copied if retained.
	OnHeader(name, value []byte)

	// OnHeadersComplete reports the end of the header block. From this point
	// until the end of the message, HTTPVersion and ShouldKeepAlive report
	// values for the current message.
	OnHeadersComplete()

	// OnBody reports a piece of the message body. The chunk aliases the
	// parser's buffer and must be copied if retained.
	OnBody(chunk []byte)

	// OnMessageComplete reports the end of the message. The parser resets
	// itself and continues with the next pipelined message, if any.
	OnMessageComplete()
}

// A ProtocolError reports malformed input. Once Feed has returned a
// ProtocolError the parser is in an undefined state and must be discarded;
// the caller is expected to close the connection.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return "httparse: " + e.Reason }

func protoErrorf(format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...)}
}

type parseState int

const (
	stateRequestLine parseState = iota
	stateHeaders
	stateBody
	stateChunkSize
	stateChunkData
	stateChunkDataEnd
	stateChunkTrailer
)

// A Parser incrementally parses a stream of HTTP/1.0 and HTTP/1.1 requests.
// It is not safe for concurrent use; a connection owns its parser.
type Parser struct {
	sink  Sink
	state parseState

	// buf holds bytes received but not yet consumed. Carries partial lines
	// and pipelined messages across Feed calls.
	buf []byte

	version   string
	keepAlive bool

	contentLength int64
	chunked       bool
	remaining     int64

	headerCount int
	headerBytes int
}

// New returns a parser delivering events to sink.
func New(sink Sink) *Parser {
	return &Parser{sink: sink}
}

// HTTPVersion returns the HTTP version of the current message, "1.0" or
// "1.1". Valid from the request line of a message until the parser resets at
// message-complete.
func (p *Parser) HTTPVersion() string { return p.version }

// ShouldKeepAlive reports whether the connection should stay open after the
// current message, per the message's version and Connection header.
func (p *Parser) ShouldKeepAlive() bool { return p.keepAlive }

// Feed consumes data, invoking sink callbacks for every message element it
// completes. Bytes that do not yet complete an element are buffered for the
// next call.
func (p *Parser) Feed(data []byte) error {
	p.buf = append(p.buf, data...)
	for {
		advanced, err := p.step()
		if err != nil {
			return err
		}
		if !advanced {
			return nil
		}
	}
}

// step consumes at most one message element from the buffer. It reports
// whether it made progress.
func (p *Parser) step() (bool, error) {
	switch p.state {
	case stateRequestLine:
		return p.stepRequestLine()
	case stateHeaders:
		return p.stepHeaderLine()
	case stateBody:
		return p.stepBody()
	case stateChunkSize:
		return p.stepChunkSize()
	case stateChunkData:
		return p.stepChunkData()
	case stateChunkDataEnd:
		return p.stepChunkDataEnd()
	case stateChunkTrailer:
		return p.stepChunkTrailer()
	}
	panic("httparse: invalid state")
}

// takeLine removes one CRLF-terminated line from the buffer, excluding the
// terminator. ok is false if no full line is buffered yet.
func (p *Parser) takeLine(limit int, what string) (line []byte, ok bool, err error) {
	i := bytes.Index(p.buf, []byte("\r\n"))
	if i < 0 {
		if len(p.buf) > limit {
			return nil, false, protoErrorf("%s exceeds %d bytes", what, limit)
		}
		return nil, false, nil
	}
	if i > limit {
		return nil, false, protoErrorf("%s exceeds %d bytes", what, limit)
	}
	line = p.buf[:i]
	p.buf = p.buf[i+2:]
	return line, true, nil
}

func (p *Parser) stepRequestLine() (bool, error) {
	line, ok, err := p.takeLine(MaxRequestLineBytes, "request line")
	if err != nil || !ok {
		return false, err
	}
	// Tolerate blank lines before the request line (RFC 9112 §2.2).
	if len(line) == 0 {
		return true, nil
	}
	sp1 := bytes.IndexByte(line, ' ')
	sp2 := -1
	if sp1 >= 0 {
		sp2 = bytes.LastIndexByte(line, ' ')
	}
	if sp1 <= 0 || sp2 <= sp1+1 || sp2 == len(line)-1 {
		return false, protoErrorf("malformed request line %q", line)
	}
	method, target, proto := line[:sp1], line[sp1+1:sp2], line[sp2+1:]
	if !isToken(method) {
		return false, protoErrorf("invalid method %q", method)
	}
	if bytes.ContainsAny(target, " \t") {
		return false, protoErrorf("invalid request target %q", target)
	}
	switch string(proto) {
	case "HTTP/1.1":
		p.version = "1.1"
		p.keepAlive = true
	case "HTTP/1.0":
		p.version = "1.0"
		p.keepAlive = false
	default:
		return false, protoErrorf("unsupported protocol %q", proto)
	}
	p.state = stateHeaders
	return true, nil
}

func (p *Parser) stepHeaderLine() (bool, error) {
	line, ok, err := p.takeLine(MaxHeaderBytes-p.headerBytes, "header block")
	if err != nil || !ok {
		return false, err
	}
	if len(line) == 0 {
		return true, p.finishHeaders()
	}
	if line[0] == ' ' || line[0] == '\t' {
		return false, protoErrorf("obsolete header line folding")
	}
	p.headerCount++
	if p.headerCount > MaxHeaderCount {
		return false, protoErrorf("more than %d header fields", MaxHeaderCount)
	}
	p.headerBytes += len(line) + 2
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return false, protoErrorf("malformed header line %q", line)
	}
	name, value := line[:colon], trimOWS(line[colon+1:])
	if !isToken(name) {
		return false, protoErrorf("invalid header name %q", name)
	}
	if err := p.applyHeader(name, value); err != nil {
		return false, err
	}
	p.sink.OnHeader(name, value)
	return true, nil
}

// applyHeader updates message framing and connection state from headers the
// parser itself interprets.
func (p *Parser) applyHeader(name, value []byte) error {
	switch {
	case asciiEqualFold(name, "content-length"):
		n, err := strconv.ParseInt(string(value), 10, 64)
		if err != nil || n < 0 {
			return protoErrorf("invalid Content-Length %q", value)
		}
		p.contentLength = n
	case asciiEqualFold(name, "transfer-encoding"):
		if asciiEqualFold(bytes.TrimSpace(value), "chunked") {
			p.chunked = true
		} else {
			return protoErrorf("unsupported transfer encoding %q", value)
		}
	case asciiEqualFold(name, "connection"):
		switch {
		case tokenListContains(value, "close"):
			p.keepAlive = false
		case tokenListContains(value, "keep-alive"):
			p.keepAlive = true
		}
	}
	return nil
}

func (p *Parser) finishHeaders() error {
	p.sink.OnHeadersComplete()
	switch {
	case p.chunked:
		p.state = stateChunkSize
	case p.contentLength > 0:
		p.remaining = p.contentLength
		p.state = stateBody
	default:
		p.finishMessage()
	}
	return nil
}

func (p *Parser) stepBody() (bool, error) {
	if len(p.buf) == 0 {
		return false, nil
	}
	n := int64(len(p.buf))
	if n > p.remaining {
		n = p.remaining
	}
	chunk := p.buf[:n]
	p.buf = p.buf[n:]
	p.remaining -= n
	p.sink.OnBody(chunk)
	if p.remaining == 0 {
		p.finishMessage()
	}
	return true, nil
}

func (p *Parser) stepChunkSize() (bool, error) {
	line, ok, err := p.takeLine(MaxRequestLineBytes, "chunk size line")
	if err != nil || !ok {
		return false, err
	}
	// Chunk extensions are ignored.
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	size, err := strconv.ParseInt(string(bytes.TrimSpace(line)), 16, 64)
	if err != nil || size < 0 {
		return false, protoErrorf("invalid chunk size %q", line)
	}
	if size == 0 {
		p.state = stateChunkTrailer
		return true, nil
	}
	p.remaining = size
	p.state = stateChunkData
	return true, nil
}

func (p *Parser) stepChunkData() (bool, error) {
	if len(p.buf) == 0 {
		return false, nil
	}
	n := int64(len(p.buf))
	if n > p.remaining {
		n = p.remaining
	}
	chunk := p.buf[:n]
	p.buf = p.buf[n:]
	p.remaining -= n
	p.sink.OnBody(chunk)
	if p.remaining == 0 {
		p.state = stateChunkDataEnd
	}
	return true, nil
}

func (p *Parser) stepChunkDataEnd() (bool, error) {
	if len(p.buf) < 2 {
		return false, nil
	}
	if p.buf[0] != '\r' || p.buf[1] != '\n' {
		return false, protoErrorf("chunk data not terminated by CRLF")
	}
	p.buf = p.buf[2:]
	p.state = stateChunkSize
	return true, nil
}

func (p *Parser) stepChunkTrailer() (bool, error) {
	line, ok, err := p.takeLine(MaxHeaderBytes, "chunk trailer")
	if err != nil || !ok {
		return false, err
	}
	// Trailer fields are consumed and dropped.
	if len(line) == 0 {
		p.finishMessage()
	}
	return true, nil
}

// finishMessage emits message-complete and resets per-message state. The
// buffer is kept: it may already hold the next pipelined message.
func (p *Parser) finishMessage() {
	p.sink.OnMessageComplete()
	p.state = stateRequestLine
	p.contentLength = 0
	p.chunked = false
	p.remaining = 0
	p.headerCount = 0
	p.headerBytes = 0
}

func trimOWS(b []byte) []byte {
	return bytes.Trim(b, " \t")
}

// isToken reports whether b is a non-empty RFC 9110 token.
func isToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if !isTokenChar(c) {
			return false
		}
	}
	return true
}

func isTokenChar(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// asciiEqualFold reports whether b equals s under ASCII case folding.
func asciiEqualFold(b []byte, s string) bool {
	if len(b) != len(s) {
		return false
	}
	for i := 0; i < len(b); i++ {
		if lowerASCII(b[i]) != lowerASCII(s[i]) {
			return false
		}
	}
	return true
}

func lowerASCII(c byte) byte {
	if 'A' <= c && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}

// tokenListContains reports whether the comma-separated list value contains
// token, case-insensitively.
func tokenListContains(value []byte, token string) bool {
	for _, part := range bytes.Split(value, []byte(",")) {
		if asciiEqualFold(trimOWS(part), token) {
			return true
		}
	}
	return false
}

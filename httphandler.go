// Copyright (c) 2023 Andy Pan
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux || freebsd || dragonfly || darwin
// +build linux freebsd dragonfly darwin

package wind

import (
	"bytes"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/panjf2000/wind/pkg/errors"
	"github.com/panjf2000/wind/pkg/logging"
	"github.com/panjf2000/wind/pkg/pool/bytebuffer"
	"github.com/panjf2000/wind/pkg/pool/goroutine"
)

var crlfcrlf = []byte("\r\n\r\n")

// Application is the layer above the core, React is called exactly once
// per accepted connection with the fully parsed request and owns writing
// the response and closing the connection.
type Application interface {
	React(c *Conn, req *Request)
}

// ApplicationFunc adapts a function to the Application interface.
type ApplicationFunc func(c *Conn, req *Request)

// React calls f.
func (f ApplicationFunc) React(c *Conn, req *Request) { f(c, req) }

// Conn pairs one stream with its peer address, each connection serves
// exactly one request/response cycle.
type Conn struct {
	stream        *Stream
	remoteAddr    net.Addr
	closeCallback func()
}

// NewConn wraps stream.
func NewConn(stream *Stream, remoteAddr net.Addr) *Conn {
	return &Conn{stream: stream, remoteAddr: remoteAddr}
}

// Stream returns the underlying stream.
func (c *Conn) Stream() *Stream {
	return c.stream
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.remoteAddr
}

// SetCloseCallback installs cb to run at most once after Close.
func (c *Conn) SetCloseCallback(cb func()) {
	c.closeCallback = cb
}

// Close closes the underlying stream and then runs the close callback.
func (c *Conn) Close() {
	c.stream.Close()
	if cb := c.closeCallback; cb != nil {
		c.closeCallback = nil
		cb()
	}
}

// WriteResponse serializes resp onto the stream. It must be called on
// the loop goroutine; cb runs once the bytes have fully drained.
func (c *Conn) WriteResponse(resp *Response, cb func()) error {
	buf := resp.Raw()
	err := c.stream.Write(buf.Bytes(), cb)
	bytebuffer.Put(buf)
	return err
}

// AsyncWriteResponse is the goroutine-safe variant of WriteResponse, it
// marshals the write onto the loop via Schedule. Applications dispatched
// on a worker pool must use this.
func (c *Conn) AsyncWriteResponse(resp *Response, cb func()) {
	c.stream.looper.Schedule(func() {
		if err := c.WriteResponse(resp, cb); err != nil {
			logging.Debugf("dropping response for %v: %v", c.remoteAddr, err)
		}
	})
}

// httpHandler walks one connection through the read-header, read-body,
// parse, dispatch sequence.
type httpHandler struct {
	conn *Conn
	app  Application
	pool *goroutine.Pool
	req  *Request
}

func serveHTTP(conn *Conn, app Application, pool *goroutine.Pool) {
	h := &httpHandler{conn: conn, app: app, pool: pool}
	if err := conn.stream.ReadUntil(crlfcrlf, h.parseHeader, true); err != nil {
		logging.Warnf("cannot start request on %v: %v", conn.remoteAddr, err)
		conn.Close()
	}
}

func (h *httpHandler) parseHeader(chunk []byte) {
	req, err := parseRequestHead(chunk)
	if err != nil {
		logging.Debugf("bad request from %v: %v", h.conn.remoteAddr, err)
		h.respond(StatusBadRequest)
		return
	}
	h.req = req

	if contentLength := req.Header.ContentLength(); contentLength > 0 {
		if err = h.conn.stream.ReadBytes(contentLength, h.parseBody); err != nil {
			h.conn.Close()
		}
		return
	}
	if req.Method == MethodGet {
		if req.Params, err = parseQueryParams(req.URL); err != nil {
			h.respond(StatusBadRequest)
			return
		}
	}
	h.dispatch()
}

func (h *httpHandler) parseBody(chunk []byte) {
	h.req.Body = chunk
	if h.req.Method == MethodPost {
		params, err := parsePostParams(h.req.Header.ContentType(), chunk)
		if err != nil {
			logging.Debugf("bad request body from %v: %v", h.conn.remoteAddr, err)
			h.respond(StatusBadRequest)
			return
		}
		h.req.Params = params
	}
	h.dispatch()
}

func (h *httpHandler) dispatch() {
	if h.app == nil {
		h.conn.Close()
		return
	}
	if h.pool != nil {
		if err := h.pool.Submit(h.react); err != nil {
			logging.Errorf("cannot dispatch request from %v: %v", h.conn.remoteAddr, err)
			h.respond(StatusInternalServerError)
		}
		return
	}
	h.react()
}

// react guards the application boundary: a panic out of React maps to a
// 500 response instead of tearing the loop down.
func (h *httpHandler) react() {
	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("application panicked during dispatch: %v", r)
			h.respond(StatusInternalServerError)
		}
	}()
	h.app.React(h.conn, h.req)
}

// respond writes a bare status response and closes the connection. It
// goes through Schedule so it is safe from the loop goroutine and from
// pool goroutines alike.
func (h *httpHandler) respond(code int) {
	proto := "HTTP/1.1"
	if h.req != nil && h.req.Proto != "" {
		proto = h.req.Proto
	}
	resp := NewResponse(proto, code)
	h.conn.stream.looper.Schedule(func() {
		if h.conn.stream.Closed() {
			return
		}
		conn := h.conn
		if err := conn.WriteResponse(resp, func() { conn.Close() }); err != nil {
			conn.Close()
		}
	})
}

func parseRequestHead(chunk []byte) (*Request, error) {
	head := bytes.TrimSuffix(chunk, crlfcrlf)
	sep := []byte("\r\n")
	idx := bytes.Index(head, sep)
	if idx < 0 {
		// A lone request line without headers still carries its CRLF.
		idx = len(head)
	}

	fields := strings.Fields(string(head[:idx]))
	if len(fields) != 3 {
		return nil, errors.ErrBadRequestLine
	}
	req := &Request{
		Method: strings.ToLower(fields[0]),
		URL:    fields[1],
		Proto:  fields[2],
		Header: NewHeader(),
		Params: make(map[string]string),
	}

	if idx >= len(head) {
		return req, nil
	}
	for _, line := range bytes.Split(head[idx+2:], sep) {
		if len(line) == 0 {
			continue
		}
		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return nil, fmt.Errorf("%w: header line %q", errors.ErrBadHeaderBlock, line)
		}
		key := strings.TrimSpace(string(line[:colon]))
		value := strings.TrimSpace(string(line[colon+1:]))
		if key == "" {
			return nil, fmt.Errorf("%w: header line %q", errors.ErrBadHeaderBlock, line)
		}
		req.Header.Set(key, value)
	}
	return req, nil
}

func parseQueryParams(rawURL string) (map[string]string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	values, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return nil, err
	}
	return flattenValues(values), nil
}

func parsePostParams(contentType string, body []byte) (map[string]string, error) {
	switch {
	case strings.HasPrefix(contentType, contentTypeURLEncoded):
		values, err := url.ParseQuery(string(body))
		if err != nil {
			return nil, err
		}
		return flattenValues(values), nil
	case strings.HasPrefix(contentType, contentTypeMultipart):
		return parseMultipart(contentType, body)
	}
	return make(map[string]string), nil
}

func flattenValues(values url.Values) map[string]string {
	params := make(map[string]string, len(values))
	for key, vals := range values {
		if len(vals) > 0 {
			params[key] = vals[0]
		}
	}
	return params
}

// parseMultipart scans body for the boundary declared in contentType and
// extracts a name→value pair per part. Parts carrying a filename are
// file uploads, their payload is kept in memory like any other value.
func parseMultipart(contentType string, body []byte) (map[string]string, error) {
	var boundary string
	for _, field := range strings.Split(contentType, ";") {
		field = strings.TrimSpace(field)
		if strings.HasPrefix(field, "boundary=") {
			boundary = strings.Trim(strings.TrimPrefix(field, "boundary="), `"`)
		}
	}
	if boundary == "" {
		return nil, errors.ErrNoMultipartBoundary
	}

	delim := []byte("--" + boundary)
	if end := bytes.Index(body, append(delim, '-', '-')); end >= 0 {
		body = body[:end]
	}

	params := make(map[string]string)
	for _, part := range bytes.Split(body, delim) {
		part = bytes.TrimPrefix(part, []byte("\r\n"))
		if len(part) == 0 {
			continue
		}
		headerEnd := bytes.Index(part, crlfcrlf)
		if headerEnd < 0 {
			continue
		}
		value := bytes.TrimSuffix(part[headerEnd+len(crlfcrlf):], []byte("\r\n"))

		attrs := NewHeader()
		for _, line := range bytes.Split(part[:headerEnd], []byte("\r\n")) {
			colon := bytes.IndexByte(line, ':')
			if colon < 0 {
				continue
			}
			attrs.Set(strings.TrimSpace(string(line[:colon])), strings.TrimSpace(string(line[colon+1:])))
			for _, field := range strings.Split(string(line[colon+1:]), ";") {
				if eq := strings.IndexByte(field, '='); eq >= 0 {
					k := strings.TrimSpace(field[:eq])
					v := strings.Trim(strings.TrimSpace(field[eq+1:]), `"`)
					attrs.Set(k, v)
				}
			}
		}

		name := attrs.Get("name")
		if name == "" {
			continue
		}
		params[name] = string(value)
	}
	return params, nil
}

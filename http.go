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

package wind

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/panjf2000/wind/pkg/pool/bytebuffer"
)

// HTTP methods, kept lower-cased throughout the request path.
const (
	MethodGet    = "get"
	MethodPost   = "post"
	MethodPut    = "put"
	MethodHead   = "head"
	MethodDelete = "delete"
)

// HTTP status codes the engine itself produces.
const (
	StatusOK                  = 200
	StatusNotModified         = 304
	StatusBadRequest          = 400
	StatusForbidden           = 403
	StatusNotFound            = 404
	StatusMethodNotAllowed    = 405
	StatusInternalServerError = 500
)

var statusReasons = map[int]string{
	StatusOK:                  "OK",
	StatusNotModified:         "Not Modified",
	StatusBadRequest:          "Bad Request",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	StatusInternalServerError: "Internal Server Error",
}

// StatusReason returns the reason phrase of code.
func StatusReason(code int) string {
	if reason, ok := statusReasons[code]; ok {
		return reason
	}
	return "Unknown"
}

// Form content types the body parser understands.
const (
	contentTypeURLEncoded = "application/x-www-form-urlencoded"
	contentTypeMultipart  = "multipart/form-data"
)

type headerEntry struct {
	key   string
	value string
}

// Header is a case-insensitive header collection. The casing of the
// first insert of a key is the one preserved on iteration.
type Header struct {
	store map[string]headerEntry
}

// NewHeader builds an empty Header.
func NewHeader() *Header {
	return &Header{store: make(map[string]headerEntry)}
}

// Get returns the value stored under key, under any casing.
func (h *Header) Get(key string) string {
	return h.store[strings.ToLower(key)].value
}

// Has reports whether key is present, under any casing.
func (h *Header) Has(key string) bool {
	_, ok := h.store[strings.ToLower(key)]
	return ok
}

// Set stores value under key. A later Set under a different casing
// replaces the value but keeps the original casing.
func (h *Header) Set(key, value string) {
	lower := strings.ToLower(key)
	if entry, ok := h.store[lower]; ok {
		entry.value = value
		h.store[lower] = entry
		return
	}
	h.store[lower] = headerEntry{key: key, value: value}
}

// Del removes key, under any casing.
func (h *Header) Del(key string) {
	delete(h.store, strings.ToLower(key))
}

// Len returns the number of stored headers.
func (h *Header) Len() int {
	return len(h.store)
}

// Keys returns the stored keys in their original casing.
func (h *Header) Keys() []string {
	keys := make([]string, 0, len(h.store))
	for _, entry := range h.store {
		keys = append(keys, entry.key)
	}
	return keys
}

// ContentLength returns the Content-Length value, 0 when absent or
// unparsable.
func (h *Header) ContentLength() int {
	n, err := strconv.Atoi(h.Get("Content-Length"))
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// ContentType returns the Content-Type value.
func (h *Header) ContentType() string {
	return h.Get("Content-Type")
}

// Request is one parsed HTTP request. It is built incrementally: the
// request line and headers are known before the body, and Params is
// only populated once the method-appropriate parse step has run.
type Request struct {
	URL    string
	Method string
	Proto  string
	Header *Header
	Body   []byte
	Params map[string]string
}

// Path returns the path component of the request URL.
func (r *Request) Path() string {
	u, err := url.Parse(r.URL)
	if err != nil {
		return ""
	}
	return u.Path
}

// Response is the reply an application hands back to the wire.
type Response struct {
	StatusCode int
	Proto      string
	Header     *Header
	Body       []byte
}

// NewResponse builds a Response with the default header set.
func NewResponse(proto string, statusCode int) *Response {
	h := NewHeader()
	h.Set("Content-Type", "text/html; charset=UTF-8")
	h.Set("Server", "wind/"+Version)
	return &Response{StatusCode: statusCode, Proto: proto, Header: h}
}

// Raw serializes the response into wire format, status line, headers, a
// blank line and the body, as one buffer from the pool. The caller puts
// the buffer back.
func (resp *Response) Raw() *bytebuffer.ByteBuffer {
	proto := resp.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	if resp.Header != nil && len(resp.Body) > 0 && !resp.Header.Has("Content-Length") {
		resp.Header.Set("Content-Length", strconv.Itoa(len(resp.Body)))
	}

	buf := bytebuffer.Get()
	_, _ = buf.WriteString(proto)
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(strconv.Itoa(resp.StatusCode))
	_ = buf.WriteByte(' ')
	_, _ = buf.WriteString(StatusReason(resp.StatusCode))
	_, _ = buf.WriteString("\r\n")
	if resp.Header != nil {
		for _, entry := range resp.Header.store {
			_, _ = buf.WriteString(entry.key)
			_, _ = buf.WriteString(": ")
			_, _ = buf.WriteString(entry.value)
			_, _ = buf.WriteString("\r\n")
		}
	}
	_, _ = buf.WriteString("\r\n")
	_, _ = buf.Write(resp.Body)
	return buf
}

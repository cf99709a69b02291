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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panjf2000/wind/pkg/pool/bytebuffer"
)

func TestHeader_CaseInsensitive(t *testing.T) {
	h := NewHeader()
	h.Set("Content-Type", "text/html")

	assert.Equal(t, "text/html", h.Get("content-type"))
	assert.Equal(t, "text/html", h.Get("CONTENT-TYPE"))
	assert.True(t, h.Has("cOnTeNt-TyPe"))
	assert.False(t, h.Has("Accept"))

	// Updating under a different casing replaces the value but the key
	// keeps the casing of its first insert.
	h.Set("CONTENT-TYPE", "application/json")
	assert.Equal(t, "application/json", h.Get("Content-Type"))
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, []string{"Content-Type"}, h.Keys())

	h.Del("content-TYPE")
	assert.False(t, h.Has("Content-Type"))
	assert.Zero(t, h.Len())
}

func TestHeader_ContentLength(t *testing.T) {
	h := NewHeader()
	assert.Zero(t, h.ContentLength())

	h.Set("Content-Length", "42")
	assert.Equal(t, 42, h.ContentLength())

	h.Set("Content-Length", "not-a-number")
	assert.Zero(t, h.ContentLength())

	h.Set("Content-Length", "-5")
	assert.Zero(t, h.ContentLength())
}

func TestRequest_Path(t *testing.T) {
	req := &Request{URL: "/articles/42?draft=1"}
	assert.Equal(t, "/articles/42", req.Path())
}

func TestStatusReason(t *testing.T) {
	assert.Equal(t, "OK", StatusReason(StatusOK))
	assert.Equal(t, "Bad Request", StatusReason(StatusBadRequest))
	assert.Equal(t, "Internal Server Error", StatusReason(StatusInternalServerError))
	assert.Equal(t, "Unknown", StatusReason(999))
}

func TestResponse_Raw(t *testing.T) {
	resp := NewResponse("HTTP/1.1", StatusOK)
	resp.Body = []byte("hello")

	buf := resp.Raw()
	defer bytebuffer.Put(buf)
	raw := string(buf.Bytes())

	require.True(t, strings.HasPrefix(raw, "HTTP/1.1 200 OK\r\n"))
	sep := strings.Index(raw, "\r\n\r\n")
	require.Positive(t, sep)
	head, body := raw[:sep], raw[sep+4:]
	assert.Equal(t, "hello", body)
	assert.Contains(t, head, "\r\nContent-Length: 5")
	assert.Contains(t, head, "Content-Type: text/html; charset=UTF-8")
	assert.Contains(t, head, "Server: wind/"+Version)
}

func TestResponse_RawDefaultsProto(t *testing.T) {
	resp := &Response{StatusCode: StatusNotFound}
	buf := resp.Raw()
	defer bytebuffer.Put(buf)
	assert.Equal(t, "HTTP/1.1 404 Not Found\r\n\r\n", string(buf.Bytes()))
}

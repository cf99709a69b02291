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
	"fmt"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/panjf2000/wind/pkg/pool/goroutine"
)

func startHTTPServer(t *testing.T, app Application, opts ...Option) (*HTTPServer, net.Addr, func()) {
	l, err := NewLooper(opts...)
	require.NoError(t, err)

	srv := NewHTTPServer(l, app, opts...)
	require.NoError(t, srv.Listen("tcp", "127.0.0.1:0"))
	require.NotNil(t, srv.Addr())

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	return srv, srv.Addr(), func() {
		l.Stop()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not exit")
		}
		srv.Close()
		require.NoError(t, l.Close())
	}
}

// doRequest plays a one-shot HTTP client, reading until the server
// closes the connection.
func doRequest(t *testing.T, addr net.Addr, raw string) string {
	c, err := net.DialTimeout("tcp", addr.String(), 2*time.Second)
	require.NoError(t, err)
	defer c.Close() //nolint:errcheck
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = c.Write([]byte(raw))
	require.NoError(t, err)

	reply, err := io.ReadAll(c)
	require.NoError(t, err)
	return string(reply)
}

func echoApp() Application {
	return ApplicationFunc(func(c *Conn, req *Request) {
		resp := NewResponse(req.Proto, StatusOK)
		resp.Body = []byte(fmt.Sprintf("%s %s name=%s", req.Method, req.Path(), req.Params["name"]))
		if err := c.WriteResponse(resp, func() { c.Close() }); err != nil {
			c.Close()
		}
	})
}

func TestHTTPServer_Get(t *testing.T) {
	_, addr, shutdown := startHTTPServer(t, echoApp())
	defer shutdown()

	reply := doRequest(t, addr, "GET /greet?name=ted HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.True(t, strings.HasPrefix(reply, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, reply, "\r\n\r\nget /greet name=ted")
}

func TestHTTPServer_PostURLEncoded(t *testing.T) {
	_, addr, shutdown := startHTTPServer(t, echoApp())
	defer shutdown()

	body := "name=benchy&mood=fine"
	raw := fmt.Sprintf(
		"POST /submit HTTP/1.1\r\nHost: localhost\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n%s",
		contentTypeURLEncoded, len(body), body)

	reply := doRequest(t, addr, raw)
	require.True(t, strings.HasPrefix(reply, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, reply, "\r\n\r\npost /submit name=benchy")
}

func TestHTTPServer_BadRequest(t *testing.T) {
	_, addr, shutdown := startHTTPServer(t, echoApp())
	defer shutdown()

	reply := doRequest(t, addr, "NONSENSE\r\n\r\n")
	require.True(t, strings.HasPrefix(reply, "HTTP/1.1 400 Bad Request\r\n"))
}

func TestHTTPServer_PanickingApplication(t *testing.T) {
	app := ApplicationFunc(func(*Conn, *Request) {
		panic("application exploded")
	})
	_, addr, shutdown := startHTTPServer(t, app)
	defer shutdown()

	reply := doRequest(t, addr, "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.True(t, strings.HasPrefix(reply, "HTTP/1.1 500 Internal Server Error\r\n"))
}

func TestHTTPServer_WorkerPoolDispatch(t *testing.T) {
	app := ApplicationFunc(func(c *Conn, req *Request) {
		// React runs on a pool goroutine here, responses must go through
		// the loop.
		resp := NewResponse(req.Proto, StatusOK)
		resp.Body = []byte("pooled " + req.Params["name"])
		c.AsyncWriteResponse(resp, func() { c.Close() })
	})
	_, addr, shutdown := startHTTPServer(t, app, WithWorkerPool(goroutine.Default()))
	defer shutdown()

	reply := doRequest(t, addr, "GET /?name=ant HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.True(t, strings.HasPrefix(reply, "HTTP/1.1 200 OK\r\n"))
	assert.Contains(t, reply, "\r\n\r\npooled ant")
}

func TestHTTPServer_SequentialRequests(t *testing.T) {
	_, addr, shutdown := startHTTPServer(t, echoApp())
	defer shutdown()

	for i := 0; i < 10; i++ {
		reply := doRequest(t, addr, fmt.Sprintf("GET /?name=n%d HTTP/1.1\r\nHost: localhost\r\n\r\n", i))
		assert.Contains(t, reply, fmt.Sprintf("name=n%d", i))
	}
}

func TestWorkerEnv(t *testing.T) {
	require.False(t, IsWorker())
	require.Nil(t, inheritedListenerFDs())

	t.Setenv(workerEnvKey, "2")
	require.True(t, IsWorker())
	require.Equal(t, []int{3, 4}, inheritedListenerFDs())

	t.Setenv(workerEnvKey, "bogus")
	require.Nil(t, inheritedListenerFDs())
}

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
	"net"
)

// HTTPServer serves one HTTP request per accepted connection through an
// Application.
type HTTPServer struct {
	*TCPServer
	looper *Looper
	app    Application
	opts   *Options
}

// NewHTTPServer builds an HTTP server dispatching to app on looper.
func NewHTTPServer(looper *Looper, app Application, opts ...Option) *HTTPServer {
	srv := &HTTPServer{
		looper: looper,
		app:    app,
		opts:   loadOptions(opts...),
	}
	srv.TCPServer = NewTCPServer(looper, srv.handleConn, opts...)
	return srv
}

// handleConn wires an accepted fd into a stream, a connection and a
// request handler.
func (srv *HTTPServer) handleConn(fd int, remoteAddr net.Addr) {
	stream := NewStream(srv.looper, fd, WithChunkSize(srv.opts.ChunkSize))
	conn := NewConn(stream, remoteAddr)
	serveHTTP(conn, srv.app, srv.opts.WorkerPool)
}

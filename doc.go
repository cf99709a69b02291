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

/*
Package wind is a single-process, event-driven network I/O core: an OS
multiplexer abstraction (internal/netpoll), a reactor built on it
(Looper), a buffered non-blocking stream with callback-based completion
(Stream) and an HTTP/1 request parser layered on the stream. One looper
goroutine serves many concurrent connections without blocking on any
single socket; parallelism, when wanted, comes from pre-forked worker
processes that each run an independent looper over a shared listening
socket.

A minimal server:

	looper, err := wind.NewLooper()
	if err != nil {
		log.Fatal(err)
	}
	app := wind.ApplicationFunc(func(c *wind.Conn, req *wind.Request) {
		resp := wind.NewResponse(req.Proto, wind.StatusOK)
		resp.Body = []byte("hello, " + req.Params["name"])
		_ = c.WriteResponse(resp, func() { c.Close() })
	})
	srv := wind.NewHTTPServer(looper, app)
	log.Fatal(srv.Run("tcp", ":9000"))
*/
package wind

// Version is the release version of wind.
const Version = "0.3.0"

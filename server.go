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
	"os"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/wind/internal/netpoll"
	"github.com/panjf2000/wind/internal/socket"
	"github.com/panjf2000/wind/pkg/errors"
	"github.com/panjf2000/wind/pkg/logging"
)

type listener struct {
	fd   int
	addr net.Addr
}

// ConnHandler receives each accepted connection fd and its peer address.
type ConnHandler func(fd int, remoteAddr net.Addr)

// TCPServer owns non-blocking listening sockets and feeds every accepted
// connection to its ConnHandler, all on one looper.
type TCPServer struct {
	looper      *Looper
	opts        *Options
	listeners   []*listener
	connHandler ConnHandler
}

// NewTCPServer builds a server on looper. The handler is installed by
// the protocol layer, see HTTPServer.
func NewTCPServer(looper *Looper, handler ConnHandler, opts ...Option) *TCPServer {
	options := loadOptions(opts...)
	if options.Logger == nil {
		options.Logger = logging.GetDefaultLogger()
	}
	return &TCPServer{
		looper:      looper,
		opts:        options,
		connHandler: handler,
	}
}

// Bind creates a listening socket on addr without attaching it to the
// looper yet, so that pre-fork supervisors can bind before spawning.
func (s *TCPServer) Bind(proto, addr string) error {
	fd, boundAddr, err := socket.TCPSocket(proto, addr, s.opts.ReusePort)
	if err != nil {
		return err
	}
	s.listeners = append(s.listeners, &listener{fd: fd, addr: boundAddr})
	return nil
}

// AttachListenerFDs adopts pre-bound listening sockets, typically
// inherited from a pre-fork parent.
func (s *TCPServer) AttachListenerFDs(fds ...int) error {
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			return os.NewSyscallError("setnonblock", err)
		}
		var addr net.Addr
		if sa, err := unix.Getsockname(fd); err == nil {
			addr = socket.SockaddrToTCPAddr(sa)
		}
		s.listeners = append(s.listeners, &listener{fd: fd, addr: addr})
	}
	return nil
}

// Listen binds addr and attaches all bound listeners to the looper.
func (s *TCPServer) Listen(proto, addr string) error {
	if err := s.Bind(proto, addr); err != nil {
		return err
	}
	return s.attachToLooper()
}

// Addr returns the bound address of the first listener, handy when
// listening on port 0.
func (s *TCPServer) Addr() net.Addr {
	if len(s.listeners) == 0 {
		return nil
	}
	return s.listeners[0].addr
}

// ListenerFDs returns the raw fds of all bound listeners.
func (s *TCPServer) ListenerFDs() []int {
	fds := make([]int, 0, len(s.listeners))
	for _, ln := range s.listeners {
		fds = append(fds, ln.fd)
	}
	return fds
}

// attachToLooper registers an accept handler for every bound listener.
func (s *TCPServer) attachToLooper() error {
	for _, ln := range s.listeners {
		ln := ln
		err := s.looper.AttachHandler(ln.fd, netpoll.ReadEvent, func(fd int, ev netpoll.IOEvent) {
			s.accept(ln)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// accept drains the listener until it would block, handing each new fd
// to the connection handler.
func (s *TCPServer) accept(ln *listener) {
	for {
		fd, sa, err := socket.Accept(ln.fd)
		switch err {
		case nil:
		case unix.EINTR, unix.ECONNABORTED:
			continue
		case unix.EAGAIN:
			return
		default:
			s.opts.Logger.Errorf("%v on %v: %v", errors.ErrAcceptSocket, ln.addr, os.NewSyscallError("accept", err))
			return
		}

		if s.opts.TCPNoDelay {
			if err = socket.SetNoDelay(fd, true); err != nil {
				s.opts.Logger.Warnf("cannot set TCP_NODELAY on fd %d: %v", fd, err)
			}
		}
		s.connHandler(fd, socket.SockaddrToTCPAddr(sa))
	}
}

// RunSimple listens on addr and runs the looper in the current process.
func (s *TCPServer) RunSimple(proto, addr string) error {
	if err := s.Listen(proto, addr); err != nil {
		return err
	}
	return s.looper.Run()
}

// Close detaches and closes all listeners.
func (s *TCPServer) Close() {
	for _, ln := range s.listeners {
		_ = s.looper.RemoveHandler(ln.fd)
		_ = unix.Close(ln.fd)
	}
	s.listeners = nil
}

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

// Package socket creates non-blocking listening sockets from protocol
// and address strings and converts between unix.Sockaddr and net.Addr.
package socket

import (
	"net"
	"os"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/wind/pkg/errors"
)

// ListenerBacklog is the queue depth passed to listen(2).
const ListenerBacklog = 128

// TCPSocket returns a non-blocking listening socket bound to addr along
// with the bound address, which differs from addr when port 0 was asked.
func TCPSocket(proto, addr string, reusePort bool) (fd int, netAddr net.Addr, err error) {
	sa, family, _, ipv6only, err := getTCPSockaddr(proto, addr)
	if err != nil {
		return -1, nil, err
	}

	if fd, err = unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP); err != nil {
		return -1, nil, os.NewSyscallError("socket", err)
	}
	defer func() {
		if err != nil {
			_ = unix.Close(fd)
			fd = -1
		}
	}()

	unix.CloseOnExec(fd)
	if err = os.NewSyscallError("setnonblock", unix.SetNonblock(fd, true)); err != nil {
		return
	}
	if family == unix.AF_INET6 && ipv6only {
		if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_V6ONLY, 1)); err != nil {
			return
		}
	}
	if err = os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)); err != nil {
		return
	}
	if reusePort {
		if err = SetReusePort(fd); err != nil {
			return
		}
	}
	if err = os.NewSyscallError("bind", unix.Bind(fd, sa)); err != nil {
		return
	}
	if err = os.NewSyscallError("listen", unix.Listen(fd, ListenerBacklog)); err != nil {
		return
	}

	bound, err := unix.Getsockname(fd)
	if err != nil {
		return -1, nil, os.NewSyscallError("getsockname", err)
	}
	return fd, SockaddrToTCPAddr(bound), nil
}

func getTCPSockaddr(proto, addr string) (sa unix.Sockaddr, family int, tcpAddr *net.TCPAddr, ipv6only bool, err error) {
	tcpAddr, err = net.ResolveTCPAddr(proto, addr)
	if err != nil {
		return
	}

	switch determineTCPProto(proto, tcpAddr) {
	case "tcp4":
		sa4 := &unix.SockaddrInet4{Port: tcpAddr.Port}
		if tcpAddr.IP != nil {
			if len(tcpAddr.IP) == 16 {
				copy(sa4.Addr[:], tcpAddr.IP[12:16])
			} else {
				copy(sa4.Addr[:], tcpAddr.IP)
			}
		}
		sa, family = sa4, unix.AF_INET
	case "tcp6":
		ipv6only = true
		fallthrough
	case "tcp":
		sa6 := &unix.SockaddrInet6{Port: tcpAddr.Port}
		if tcpAddr.IP != nil {
			copy(sa6.Addr[:], tcpAddr.IP)
		}
		if tcpAddr.Zone != "" {
			var iface *net.Interface
			iface, err = net.InterfaceByName(tcpAddr.Zone)
			if err != nil {
				return
			}
			sa6.ZoneId = uint32(iface.Index)
		}
		sa, family = sa6, unix.AF_INET6
	default:
		err = errors.ErrUnsupportedProtocol
	}
	return
}

func determineTCPProto(proto string, addr *net.TCPAddr) string {
	// A "tcp" proto resolves to the actual version from the size of the
	// resolved IP, otherwise the caller's choice stands.
	if addr.IP.To4() != nil {
		return "tcp4"
	}
	if addr.IP.To16() != nil {
		return "tcp6"
	}
	switch proto {
	case "tcp", "tcp4", "tcp6":
		return proto
	}
	return ""
}

// SockaddrToTCPAddr converts a unix.Sockaddr to a *net.TCPAddr.
func SockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: sa.Addr[0:], Port: sa.Port}
	case *unix.SockaddrInet6:
		var zone string
		if sa.ZoneId != 0 {
			if iface, err := net.InterfaceByIndex(int(sa.ZoneId)); err == nil {
				zone = iface.Name
			}
		}
		return &net.TCPAddr{IP: sa.Addr[0:], Port: sa.Port, Zone: zone}
	}
	return nil
}

// Accept takes the next connection off the listener fd and marks it
// non-blocking.
func Accept(lnFD int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(lnFD)
	if err != nil {
		return -1, nil, err
	}
	unix.CloseOnExec(nfd)
	if err = unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return -1, nil, os.NewSyscallError("setnonblock", err)
	}
	return nfd, sa, nil
}

// SetNoDelay toggles TCP_NODELAY on fd.
func SetNoDelay(fd int, noDelay bool) error {
	v := 0
	if noDelay {
		v = 1
	}
	return os.NewSyscallError("setsockopt", unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v))
}

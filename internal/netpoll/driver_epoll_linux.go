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

package netpoll

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/wind/pkg/errors"
)

const (
	// initPollEventsCap represents the initial capacity of the poller event-list.
	initPollEventsCap = 128

	epollErrEvents = unix.EPOLLERR | unix.EPOLLHUP | unix.EPOLLRDHUP
	epollInEvents  = unix.EPOLLIN | unix.EPOLLPRI
)

// epollDriver is the Linux driver backed by epoll(7), used
// level-triggered so that the stream layer may leave data buffered
// in the kernel between loop iterations.
type epollDriver struct {
	fd     int
	fds    map[int]IOEvent
	events []unix.EpollEvent
	out    []PollEvent
}

// OpenEpollDriver instantiates the epoll driver.
func OpenEpollDriver() (Driver, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollDriver{
		fd:     epfd,
		fds:    make(map[int]IOEvent),
		events: make([]unix.EpollEvent, initPollEventsCap),
	}, nil
}

func (d *epollDriver) Name() string { return "epoll" }

func epollMask(events IOEvent) uint32 {
	var sysEv uint32
	if events&(ReadEvent|ErrEvent) != 0 {
		sysEv |= epollInEvents | unix.EPOLLRDHUP
	}
	if events&WriteEvent != 0 {
		sysEv |= unix.EPOLLOUT
	}
	return sysEv
}

func (d *epollDriver) Register(fd int, events IOEvent) error {
	if err := validateEvents(events); err != nil {
		return err
	}
	if _, dup := d.fds[fd]; dup {
		return fmt.Errorf("%w: fd %d", errors.ErrFdAlreadyRegistered, fd)
	}
	err := unix.EpollCtl(d.fd, unix.EPOLL_CTL_ADD, fd,
		&unix.EpollEvent{Fd: int32(fd), Events: epollMask(events)})
	if err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	d.fds[fd] = events
	return nil
}

func (d *epollDriver) Unregister(fd int) error {
	if _, ok := d.fds[fd]; !ok {
		return nil
	}
	delete(d.fds, fd)
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(d.fd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (d *epollDriver) Modify(fd int, events IOEvent) error {
	if err := d.Unregister(fd); err != nil {
		return err
	}
	if err := d.Register(fd, events); err != nil {
		return fmt.Errorf("cannot modify fd %d: %w", fd, err)
	}
	return nil
}

func (d *epollDriver) Poll(timeout time.Duration) ([]PollEvent, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}
	n, err := unix.EpollWait(d.fd, d.events, msec)
	if err != nil {
		return nil, os.NewSyscallError("epoll_wait", err)
	}

	d.out = d.out[:0]
	for i := 0; i < n; i++ {
		sysEv := d.events[i].Events
		var ev IOEvent
		if sysEv&epollInEvents != 0 {
			ev |= ReadEvent
		}
		if sysEv&unix.EPOLLOUT != 0 {
			ev |= WriteEvent
		}
		if sysEv&epollErrEvents != 0 {
			ev |= ErrEvent
		}
		d.out = append(d.out, PollEvent{FD: int(d.events[i].Fd), Events: ev})
	}
	if n == len(d.events) {
		d.events = make([]unix.EpollEvent, len(d.events)<<1)
	}
	return d.out, nil
}

func (d *epollDriver) Close() error {
	d.fds = nil
	return os.NewSyscallError("close", unix.Close(d.fd))
}

func drivers() []creator {
	return []creator{
		{name: "epoll", open: OpenEpollDriver},
		{name: "poll", open: OpenPollDriver},
		{name: "select", open: OpenSelectDriver},
	}
}

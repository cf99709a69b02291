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

package netpoll

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/wind/pkg/errors"
)

// pollDriver is the generic polling-table driver over poll(2).
type pollDriver struct {
	fds    map[int]IOEvent
	pfds   []unix.PollFd
	closed bool
	out    []PollEvent
}

// OpenPollDriver instantiates the poll(2) driver.
func OpenPollDriver() (Driver, error) {
	if _, err := unix.Poll(nil, 0); err != nil {
		return nil, os.NewSyscallError("poll", err)
	}
	return &pollDriver{fds: make(map[int]IOEvent)}, nil
}

func (d *pollDriver) Name() string { return "poll" }

func (d *pollDriver) Register(fd int, events IOEvent) error {
	if d.closed {
		return errors.ErrDriverClosed
	}
	if err := validateEvents(events); err != nil {
		return err
	}
	if _, dup := d.fds[fd]; dup {
		return fmt.Errorf("%w: fd %d", errors.ErrFdAlreadyRegistered, fd)
	}
	d.fds[fd] = events
	return nil
}

func (d *pollDriver) Unregister(fd int) error {
	if d.closed {
		return errors.ErrDriverClosed
	}
	delete(d.fds, fd)
	return nil
}

func (d *pollDriver) Modify(fd int, events IOEvent) error {
	if err := d.Unregister(fd); err != nil {
		return err
	}
	if err := d.Register(fd, events); err != nil {
		return fmt.Errorf("cannot modify fd %d: %w", fd, err)
	}
	return nil
}

func (d *pollDriver) Poll(timeout time.Duration) ([]PollEvent, error) {
	if d.closed {
		return nil, errors.ErrDriverClosed
	}
	d.pfds = d.pfds[:0]
	for fd, ev := range d.fds {
		var sysEv int16
		if ev&(ReadEvent|ErrEvent) != 0 {
			sysEv |= unix.POLLIN | unix.POLLPRI
		}
		if ev&WriteEvent != 0 {
			sysEv |= unix.POLLOUT
		}
		d.pfds = append(d.pfds, unix.PollFd{Fd: int32(fd), Events: sysEv})
	}

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}
	n, err := unix.Poll(d.pfds, msec)
	if err != nil {
		return nil, os.NewSyscallError("poll", err)
	}

	d.out = d.out[:0]
	if n == 0 {
		return d.out, nil
	}
	for i := range d.pfds {
		var ev IOEvent
		re := d.pfds[i].Revents
		if re&(unix.POLLIN|unix.POLLPRI) != 0 {
			ev |= ReadEvent
		}
		if re&unix.POLLOUT != 0 {
			ev |= WriteEvent
		}
		if re&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0 {
			ev |= ErrEvent
		}
		if ev != 0 {
			d.out = append(d.out, PollEvent{FD: int(d.pfds[i].Fd), Events: ev})
		}
	}
	return d.out, nil
}

func (d *pollDriver) Close() error {
	d.closed = true
	d.fds = nil
	d.pfds = nil
	return nil
}

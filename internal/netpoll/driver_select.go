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

// selectDriver is the portable readiness-set driver, it rebuilds the
// three fd sets on every call and scans all registered fds afterwards.
type selectDriver struct {
	fds    map[int]IOEvent
	closed bool
	out    []PollEvent
}

// OpenSelectDriver instantiates the select(2) driver.
func OpenSelectDriver() (Driver, error) {
	// A zero-timeout select over empty sets verifies the facility works.
	var r, w, e unix.FdSet
	tv := unix.NsecToTimeval(0)
	if _, err := unix.Select(0, &r, &w, &e, &tv); err != nil {
		return nil, os.NewSyscallError("select", err)
	}
	return &selectDriver{fds: make(map[int]IOEvent)}, nil
}

func (d *selectDriver) Name() string { return "select" }

func (d *selectDriver) Register(fd int, events IOEvent) error {
	if d.closed {
		return errors.ErrDriverClosed
	}
	if err := validateEvents(events); err != nil {
		return err
	}
	if fd >= unix.FD_SETSIZE {
		return fmt.Errorf("fd %d exceeds select capacity %d", fd, unix.FD_SETSIZE)
	}
	if _, dup := d.fds[fd]; dup {
		return fmt.Errorf("%w: fd %d", errors.ErrFdAlreadyRegistered, fd)
	}
	d.fds[fd] = events
	return nil
}

func (d *selectDriver) Unregister(fd int) error {
	if d.closed {
		return errors.ErrDriverClosed
	}
	delete(d.fds, fd)
	return nil
}

func (d *selectDriver) Modify(fd int, events IOEvent) error {
	if err := d.Unregister(fd); err != nil {
		return err
	}
	if err := d.Register(fd, events); err != nil {
		return fmt.Errorf("cannot modify fd %d: %w", fd, err)
	}
	return nil
}

func (d *selectDriver) Poll(timeout time.Duration) ([]PollEvent, error) {
	if d.closed {
		return nil, errors.ErrDriverClosed
	}
	var r, w, e unix.FdSet
	maxfd := -1
	for fd, ev := range d.fds {
		if ev&(ReadEvent|ErrEvent) != 0 {
			r.Set(fd)
		}
		if ev&WriteEvent != 0 {
			w.Set(fd)
		}
		e.Set(fd)
		if fd > maxfd {
			maxfd = fd
		}
	}

	var tvp *unix.Timeval
	if timeout >= 0 {
		tv := unix.NsecToTimeval(int64(timeout))
		tvp = &tv
	}
	n, err := unix.Select(maxfd+1, &r, &w, &e, tvp)
	if err != nil {
		return nil, os.NewSyscallError("select", err)
	}

	d.out = d.out[:0]
	if n == 0 {
		return d.out, nil
	}
	for fd := range d.fds {
		var ev IOEvent
		if r.IsSet(fd) {
			ev |= ReadEvent
		}
		if w.IsSet(fd) {
			ev |= WriteEvent
		}
		if e.IsSet(fd) {
			ev |= ErrEvent
		}
		if ev != 0 {
			d.out = append(d.out, PollEvent{FD: fd, Events: ev})
		}
	}
	return d.out, nil
}

func (d *selectDriver) Close() error {
	d.closed = true
	d.fds = nil
	return nil
}

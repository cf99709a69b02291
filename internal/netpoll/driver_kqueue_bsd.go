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

//go:build freebsd || dragonfly || darwin
// +build freebsd dragonfly darwin

package netpoll

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/wind/pkg/errors"
)

const initKqueueEventsCap = 128

// kqueueDriver is the BSD driver backed by kqueue(2).
type kqueueDriver struct {
	fd      int
	fds     map[int]IOEvent
	events  []unix.Kevent_t
	out     []PollEvent
	scratch map[int]IOEvent
}

// OpenKqueueDriver instantiates the kqueue driver.
func OpenKqueueDriver() (Driver, error) {
	kfd, err := unix.Kqueue()
	if err != nil {
		return nil, os.NewSyscallError("kqueue", err)
	}
	return &kqueueDriver{
		fd:      kfd,
		fds:     make(map[int]IOEvent),
		events:  make([]unix.Kevent_t, initKqueueEventsCap),
		scratch: make(map[int]IOEvent),
	}, nil
}

func (d *kqueueDriver) Name() string { return "kqueue" }

func kqueueChanges(fd int, events IOEvent, flags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if events&(ReadEvent|ErrEvent) != 0 {
		changes = append(changes,
			unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if events&WriteEvent != 0 {
		changes = append(changes,
			unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return changes
}

func (d *kqueueDriver) Register(fd int, events IOEvent) error {
	if err := validateEvents(events); err != nil {
		return err
	}
	if _, dup := d.fds[fd]; dup {
		return fmt.Errorf("%w: fd %d", errors.ErrFdAlreadyRegistered, fd)
	}
	if _, err := unix.Kevent(d.fd, kqueueChanges(fd, events, unix.EV_ADD), nil, nil); err != nil {
		return os.NewSyscallError("kevent add", err)
	}
	d.fds[fd] = events
	return nil
}

func (d *kqueueDriver) Unregister(fd int) error {
	events, ok := d.fds[fd]
	if !ok {
		return nil
	}
	delete(d.fds, fd)
	// The kernel drops the filters with the fd anyway, so ENOENT here is fine.
	if _, err := unix.Kevent(d.fd, kqueueChanges(fd, events, unix.EV_DELETE), nil, nil); err != nil && err != unix.ENOENT {
		return os.NewSyscallError("kevent delete", err)
	}
	return nil
}

func (d *kqueueDriver) Modify(fd int, events IOEvent) error {
	if err := d.Unregister(fd); err != nil {
		return err
	}
	if err := d.Register(fd, events); err != nil {
		return fmt.Errorf("cannot modify fd %d: %w", fd, err)
	}
	return nil
}

func (d *kqueueDriver) Poll(timeout time.Duration) ([]PollEvent, error) {
	var tsp *unix.Timespec
	if timeout >= 0 {
		ts := unix.NsecToTimespec(int64(timeout))
		tsp = &ts
	}
	n, err := unix.Kevent(d.fd, nil, d.events, tsp)
	if err != nil {
		return nil, os.NewSyscallError("kevent wait", err)
	}

	for fd := range d.scratch {
		delete(d.scratch, fd)
	}
	for i := 0; i < n; i++ {
		kev := &d.events[i]
		fd := int(kev.Ident)
		var ev IOEvent
		switch kev.Filter {
		case unix.EVFILT_READ:
			ev |= ReadEvent
		case unix.EVFILT_WRITE:
			// EV_EOF on the write filter means the peer half-closed,
			// surface it as an error condition rather than writability.
			if kev.Flags&unix.EV_EOF != 0 {
				ev |= ErrEvent
			} else {
				ev |= WriteEvent
			}
		}
		if kev.Flags&unix.EV_ERROR != 0 {
			ev |= ErrEvent
		}
		d.scratch[fd] |= ev
	}

	d.out = d.out[:0]
	for fd, ev := range d.scratch {
		d.out = append(d.out, PollEvent{FD: fd, Events: ev})
	}
	if n == len(d.events) {
		d.events = make([]unix.Kevent_t, len(d.events)<<1)
	}
	return d.out, nil
}

func (d *kqueueDriver) Close() error {
	d.fds = nil
	return os.NewSyscallError("close", unix.Close(d.fd))
}

func drivers() []creator {
	return []creator{
		{name: "kqueue", open: OpenKqueueDriver},
		{name: "poll", open: OpenPollDriver},
		{name: "select", open: OpenSelectDriver},
	}
}

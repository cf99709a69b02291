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

// Package netpoll wraps the OS I/O multiplexing facilities behind one
// driver contract and picks the most capable facility available on the
// host at startup.
package netpoll

import (
	"time"

	"github.com/panjf2000/wind/pkg/errors"
)

// IOEvent is the bit mask of I/O events a driver observes on a
// file-descriptor, drivers never report bits outside this set.
type IOEvent uint32

const (
	// ReadEvent indicates the fd is readable.
	ReadEvent IOEvent = 0x1
	// WriteEvent indicates the fd is writable.
	WriteEvent IOEvent = 0x4
	// ErrEvent indicates an exceptional condition, like the peer closing
	// its end of the connection.
	ErrEvent IOEvent = 0x8

	allEvents = ReadEvent | WriteEvent | ErrEvent
)

// PollEvent is one (fd, observed events) pair returned by Driver.Poll.
type PollEvent struct {
	FD     int
	Events IOEvent
}

// Driver is the contract shared by all multiplexing facilities.
type Driver interface {
	// Name reports which facility backs this driver.
	Name() string
	// Register starts tracking fd for the given events. Registering an
	// already-tracked fd fails with ErrFdAlreadyRegistered.
	Register(fd int, events IOEvent) error
	// Unregister stops tracking fd, it is a no-op for an unknown fd.
	Unregister(fd int) error
	// Modify replaces the tracked events of fd, equivalent to
	// Unregister followed by Register.
	Modify(fd int, events IOEvent) error
	// Poll blocks up to timeout waiting for events. A zero timeout
	// returns immediately, a negative timeout blocks indefinitely.
	// The returned slice is reused across calls.
	Poll(timeout time.Duration) ([]PollEvent, error)
	// Close releases the facility.
	Close() error
}

type creator struct {
	name string
	open func() (Driver, error)
}

// Pick probes the host for multiplexing facilities in priority order,
// the platform-native facility first, then poll, then select, and
// returns the first one that opens.
func Pick() (Driver, error) {
	return pickFrom(drivers())
}

func pickFrom(candidates []creator) (Driver, error) {
	for _, c := range candidates {
		if d, err := c.open(); err == nil {
			return d, nil
		}
	}
	return nil, errors.ErrNoDriverAvailable
}

func validateEvents(events IOEvent) error {
	if events == 0 || events&^allEvents != 0 {
		return errors.ErrInvalidEventMask
	}
	return nil
}

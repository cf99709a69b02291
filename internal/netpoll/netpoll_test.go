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
	stderrors "errors"
	"testing"
	"time"

	"github.com/panjf2000/wind/pkg/errors"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestPick(t *testing.T) {
	d, err := Pick()
	require.NoError(t, err)
	defer d.Close() //nolint:errcheck
	// The platform-native driver must win over the portable fallbacks.
	require.Contains(t, []string{"epoll", "kqueue"}, d.Name())
}

func TestPickFrom(t *testing.T) {
	errBroken := stderrors.New("broken driver")
	broken := creator{name: "broken", open: func() (Driver, error) { return nil, errBroken }}

	t.Run("first-usable-wins", func(t *testing.T) {
		d, err := pickFrom([]creator{broken, {name: "select", open: OpenSelectDriver}, {name: "poll", open: OpenPollDriver}})
		require.NoError(t, err)
		defer d.Close() //nolint:errcheck
		require.Equal(t, "select", d.Name())
	})

	t.Run("all-broken", func(t *testing.T) {
		_, err := pickFrom([]creator{broken, broken})
		require.ErrorIs(t, err, errors.ErrNoDriverAvailable)
	})

	t.Run("empty", func(t *testing.T) {
		_, err := pickFrom(nil)
		require.ErrorIs(t, err, errors.ErrNoDriverAvailable)
	})
}

func openAllDrivers(t *testing.T) []Driver {
	var ds []Driver
	for _, c := range drivers() {
		d, err := c.open()
		require.NoErrorf(t, err, "open %s", c.name)
		ds = append(ds, d)
	}
	require.NotEmpty(t, ds)
	return ds
}

func TestDriver_Register(t *testing.T) {
	for _, d := range openAllDrivers(t) {
		t.Run(d.Name(), func(t *testing.T) {
			defer d.Close() //nolint:errcheck

			r, w := pipe(t)
			defer unix.Close(r) //nolint:errcheck
			defer unix.Close(w) //nolint:errcheck

			require.NoError(t, d.Register(r, ReadEvent))
			require.ErrorIs(t, d.Register(r, WriteEvent), errors.ErrFdAlreadyRegistered)

			require.ErrorIs(t, d.Register(w, 0), errors.ErrInvalidEventMask)
			require.ErrorIs(t, d.Register(w, 0xff00), errors.ErrInvalidEventMask)
		})
	}
}

func TestDriver_UnregisterIdempotent(t *testing.T) {
	for _, d := range openAllDrivers(t) {
		t.Run(d.Name(), func(t *testing.T) {
			defer d.Close() //nolint:errcheck

			r, w := pipe(t)
			defer unix.Close(r) //nolint:errcheck
			defer unix.Close(w) //nolint:errcheck

			require.NoError(t, d.Register(r, ReadEvent))
			require.NoError(t, d.Unregister(r))
			require.NoError(t, d.Unregister(r))
			// A fd that was never registered unregisters cleanly too.
			require.NoError(t, d.Unregister(w))

			// Registering again after unregister must succeed.
			require.NoError(t, d.Register(r, ReadEvent))
		})
	}
}

func TestDriver_Modify(t *testing.T) {
	for _, d := range openAllDrivers(t) {
		t.Run(d.Name(), func(t *testing.T) {
			defer d.Close() //nolint:errcheck

			r, w := pipe(t)
			defer unix.Close(r) //nolint:errcheck
			defer unix.Close(w) //nolint:errcheck

			require.NoError(t, d.Register(w, ReadEvent))
			require.NoError(t, d.Modify(w, WriteEvent))

			events, err := d.Poll(100 * time.Millisecond)
			require.NoError(t, err)
			require.Equal(t, WriteEvent, eventsFor(events, w)&WriteEvent)

			require.Error(t, d.Modify(w, 0))
		})
	}
}

func TestDriver_PollReadiness(t *testing.T) {
	for _, d := range openAllDrivers(t) {
		t.Run(d.Name(), func(t *testing.T) {
			defer d.Close() //nolint:errcheck

			r, w := pipe(t)
			defer unix.Close(r) //nolint:errcheck
			defer unix.Close(w) //nolint:errcheck

			require.NoError(t, d.Register(r, ReadEvent))

			// Nothing buffered yet, a zero timeout returns immediately.
			events, err := d.Poll(0)
			require.NoError(t, err)
			require.Zero(t, eventsFor(events, r)&ReadEvent)

			_, err = unix.Write(w, []byte{'x'})
			require.NoError(t, err)

			events, err = d.Poll(time.Second)
			require.NoError(t, err)
			require.Equal(t, ReadEvent, eventsFor(events, r)&ReadEvent)
		})
	}
}

func TestDriver_PollWriteReadiness(t *testing.T) {
	for _, d := range openAllDrivers(t) {
		t.Run(d.Name(), func(t *testing.T) {
			defer d.Close() //nolint:errcheck

			r, w := pipe(t)
			defer unix.Close(r) //nolint:errcheck
			defer unix.Close(w) //nolint:errcheck

			require.NoError(t, d.Register(w, WriteEvent))

			events, err := d.Poll(time.Second)
			require.NoError(t, err)
			require.Equal(t, WriteEvent, eventsFor(events, w)&WriteEvent)
		})
	}
}

func TestDriver_Closed(t *testing.T) {
	for _, d := range openAllDrivers(t) {
		t.Run(d.Name(), func(t *testing.T) {
			require.NoError(t, d.Close())

			r, w := pipe(t)
			defer unix.Close(r) //nolint:errcheck
			defer unix.Close(w) //nolint:errcheck

			require.Error(t, d.Register(r, ReadEvent))
		})
	}
}

func pipe(t *testing.T) (r, w int) {
	var fds [2]int
	require.NoError(t, unix.Pipe(fds[:]))
	require.NoError(t, unix.SetNonblock(fds[0], true))
	require.NoError(t, unix.SetNonblock(fds[1], true))
	return fds[0], fds[1]
}

func eventsFor(events []PollEvent, fd int) IOEvent {
	var got IOEvent
	for _, e := range events {
		if e.FD == fd {
			got |= e.Events
		}
	}
	return got
}

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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/panjf2000/wind/internal/netpoll"
	"github.com/panjf2000/wind/pkg/errors"
)

func startLooper(t *testing.T, opts ...Option) (*Looper, chan error) {
	l, err := NewLooper(opts...)
	require.NoError(t, err)
	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	return l, done
}

func stopLooper(t *testing.T, l *Looper, done chan error) {
	l.Stop()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	require.NoError(t, l.Close())
}

func TestLooper_ScheduleWakesBlockedPoll(t *testing.T) {
	l, done := startLooper(t, WithPollTimeout(10*time.Second))

	// Let the loop sink into a long poll first.
	time.Sleep(100 * time.Millisecond)

	start := time.Now()
	ran := make(chan struct{})
	l.Schedule(func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled callback did not run")
	}
	require.Less(t, time.Since(start), 2*time.Second)

	stopLooper(t, l, done)
}

func TestLooper_ScheduleOrder(t *testing.T) {
	l, done := startLooper(t)

	var got []int
	fin := make(chan struct{})
	for i := 0; i < 5; i++ {
		i := i
		l.Schedule(func() {
			got = append(got, i)
			if i == 4 {
				close(fin)
			}
		})
	}

	select {
	case <-fin:
	case <-time.After(2 * time.Second):
		t.Fatal("callbacks did not run")
	}
	require.Equal(t, []int{0, 1, 2, 3, 4}, got)

	stopLooper(t, l, done)
}

func TestLooper_ScheduleFromCallback(t *testing.T) {
	l, done := startLooper(t, WithPollTimeout(10*time.Second))

	fin := make(chan struct{})
	l.Schedule(func() {
		// Re-scheduling from inside the loop must not wait out a full
		// poll timeout before the follow-up runs.
		l.Schedule(func() { close(fin) })
	})

	select {
	case <-fin:
	case <-time.After(2 * time.Second):
		t.Fatal("chained callback did not run")
	}

	stopLooper(t, l, done)
}

func TestLooper_DispatchesReadEvents(t *testing.T) {
	l, err := NewLooper()
	require.NoError(t, err)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[1]) //nolint:errcheck
	require.NoError(t, unix.SetNonblock(fds[0], true))

	got := make(chan netpoll.IOEvent, 1)
	require.NoError(t, l.AttachHandler(fds[0], netpoll.ReadEvent, func(fd int, events netpoll.IOEvent) {
		buf := make([]byte, 8)
		_, _ = unix.Read(fd, buf)
		got <- events
		l.Stop()
	}))

	_, err = unix.Write(fds[1], []byte("ping"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	select {
	case events := <-got:
		require.Equal(t, netpoll.ReadEvent, events&netpoll.ReadEvent)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not dispatched")
	}
	require.NoError(t, <-done)

	require.NoError(t, l.RemoveHandler(fds[0]))
	require.NoError(t, unix.Close(fds[0]))
	require.NoError(t, l.Close())
}

func TestLooper_RemovedHandlerNotDispatched(t *testing.T) {
	l, err := NewLooper()
	require.NoError(t, err)

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0]) //nolint:errcheck
	defer unix.Close(fds[1]) //nolint:errcheck
	require.NoError(t, unix.SetNonblock(fds[0], true))

	fired := false
	require.NoError(t, l.AttachHandler(fds[0], netpoll.ReadEvent, func(int, netpoll.IOEvent) {
		fired = true
	}))
	require.NoError(t, l.RemoveHandler(fds[0]))

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()
	time.Sleep(200 * time.Millisecond)
	l.Stop()
	require.NoError(t, <-done)
	require.False(t, fired)
	require.NoError(t, l.Close())
}

func TestLooper_RunTwice(t *testing.T) {
	l, done := startLooper(t)
	time.Sleep(50 * time.Millisecond)
	require.ErrorIs(t, l.Run(), errors.ErrLooperAlreadyRunning)
	stopLooper(t, l, done)
}

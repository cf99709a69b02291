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
	stderrors "errors"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/panjf2000/wind/internal/netpoll"
	"github.com/panjf2000/wind/pkg/errors"
	"github.com/panjf2000/wind/pkg/logging"
)

// EventHandler is invoked by the looper with the fd and the events
// observed on it in the most recent poll.
type EventHandler func(fd int, events netpoll.IOEvent)

// DefaultPollTimeout bounds how long one loop iteration may block in
// the driver when no callback is pending.
const DefaultPollTimeout = 500 * time.Millisecond

// Looper is the single-threaded event loop, it owns the fd→handler
// table and the pending-event buffer exclusively, the only cross-thread
// entry point is Schedule.
type Looper struct {
	driver   netpoll.Driver
	handlers map[int]EventHandler
	pending  map[int]netpoll.IOEvent

	mu        sync.Mutex
	callbacks *queue.Queue // deferred zero-argument callbacks, guarded by mu

	running     int32
	pollTimeout time.Duration
	logger      logging.Logger

	wakeReadFD  int
	wakeWriteFD int
	wakeSig     int32
	wakeBuf     []byte
}

// NewLooper builds a looper on the most capable driver the host offers,
// or on the driver injected via WithDriver. Every looper owns a
// heartbeat socketpair so that Schedule can interrupt a blocked poll.
func NewLooper(opts ...Option) (*Looper, error) {
	options := loadOptions(opts...)

	driver := options.Driver
	if driver == nil {
		var err error
		if driver, err = netpoll.Pick(); err != nil {
			return nil, err
		}
	}

	pollTimeout := options.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = DefaultPollTimeout
	}
	logger := options.Logger
	if logger == nil {
		logger = logging.GetDefaultLogger()
	}

	l := &Looper{
		driver:      driver,
		handlers:    make(map[int]EventHandler),
		pending:     make(map[int]netpoll.IOEvent),
		callbacks:   queue.New(),
		pollTimeout: pollTimeout,
		logger:      logger,
		wakeBuf:     make([]byte, 64),
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		_ = driver.Close()
		return nil, os.NewSyscallError("socketpair", err)
	}
	for _, fd := range fds[:] {
		unix.CloseOnExec(fd)
		if err = unix.SetNonblock(fd, true); err != nil {
			_ = unix.Close(fds[0])
			_ = unix.Close(fds[1])
			_ = driver.Close()
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}
	l.wakeReadFD, l.wakeWriteFD = fds[0], fds[1]
	if err = l.AttachHandler(l.wakeReadFD, netpoll.ReadEvent, l.drainWakeFD); err != nil {
		_ = unix.Close(fds[0])
		_ = unix.Close(fds[1])
		_ = driver.Close()
		return nil, err
	}
	return l, nil
}

// Driver exposes which multiplexing facility backs this looper.
func (l *Looper) Driver() string {
	return l.driver.Name()
}

// AttachHandler installs handler for fd and registers the given events
// with the driver.
func (l *Looper) AttachHandler(fd int, events netpoll.IOEvent, handler EventHandler) error {
	if err := l.driver.Register(fd, events); err != nil {
		return err
	}
	l.handlers[fd] = handler
	return nil
}

// UpdateHandler changes the events of interest for an attached fd.
func (l *Looper) UpdateHandler(fd int, events netpoll.IOEvent) error {
	return l.driver.Modify(fd, events)
}

// RemoveHandler unregisters fd from the driver and drops its handler,
// it is a no-op for an unknown fd.
func (l *Looper) RemoveHandler(fd int) error {
	delete(l.handlers, fd)
	delete(l.pending, fd)
	return l.driver.Unregister(fd)
}

// Schedule appends cb to the deferred-callback queue and wakes the loop
// if it is blocked in poll. It is the only method safe to call from
// outside the loop goroutine.
func (l *Looper) Schedule(cb func()) {
	l.mu.Lock()
	l.callbacks.Add(cb)
	l.mu.Unlock()
	l.wake()
}

func (l *Looper) wake() {
	if !atomic.CompareAndSwapInt32(&l.wakeSig, 0, 1) {
		return
	}
	b := []byte{0}
	for {
		_, err := unix.Write(l.wakeWriteFD, b)
		// A full pipe still means a wake-up is already on the wire.
		if err != unix.EINTR {
			return
		}
	}
}

func (l *Looper) drainWakeFD(fd int, _ netpoll.IOEvent) {
	for {
		n, err := unix.Read(fd, l.wakeBuf)
		if n <= 0 || err != nil {
			break
		}
	}
	atomic.StoreInt32(&l.wakeSig, 0)
}

func (l *Looper) runCallbacks() {
	l.mu.Lock()
	n := l.callbacks.Length()
	if n == 0 {
		l.mu.Unlock()
		return
	}
	cbs := make([]func(), 0, n)
	for i := 0; i < n; i++ {
		cbs = append(cbs, l.callbacks.Remove().(func()))
	}
	l.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

func (l *Looper) callbacksPending() bool {
	l.mu.Lock()
	n := l.callbacks.Length()
	l.mu.Unlock()
	return n > 0
}

// Run drives the poll→dispatch cycle until Stop is called. Driver
// failures other than an interrupted call terminate the loop with the
// error. Handler panics are deliberately not recovered here, guarding
// dispatched work is the handler's own business.
func (l *Looper) Run() error {
	if !atomic.CompareAndSwapInt32(&l.running, 0, 1) {
		return errors.ErrLooperAlreadyRunning
	}
	defer atomic.StoreInt32(&l.running, 0)

	for atomic.LoadInt32(&l.running) == 1 {
		l.runCallbacks()

		timeout := l.pollTimeout
		if l.callbacksPending() {
			// A callback scheduled another callback, poll must not block.
			timeout = 0
		}

		events, err := l.driver.Poll(timeout)
		if err != nil {
			if stderrors.Is(err, unix.EINTR) {
				continue
			}
			l.logger.Errorf("event loop is exiting due to driver error: %v", err)
			return err
		}

		for _, ev := range events {
			l.pending[ev.FD] |= ev.Events
		}
		for len(l.pending) > 0 {
			var (
				fd   int
				mask netpoll.IOEvent
			)
			for fd, mask = range l.pending {
				break
			}
			delete(l.pending, fd)
			if handler, ok := l.handlers[fd]; ok {
				handler(fd, mask)
			}
		}
	}
	return nil
}

// Stop clears the running flag, the loop exits after finishing its
// current iteration.
func (l *Looper) Stop() {
	atomic.StoreInt32(&l.running, 0)
	l.wake()
}

// Close releases the heartbeat pair and the driver. It must not be
// called while Run is still active.
func (l *Looper) Close() error {
	_ = l.RemoveHandler(l.wakeReadFD)
	_ = unix.Close(l.wakeReadFD)
	_ = unix.Close(l.wakeWriteFD)
	return l.driver.Close()
}

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
	"bytes"
	stderrors "errors"
	"os"

	"golang.org/x/sys/unix"

	"github.com/panjf2000/wind/internal/netpoll"
	"github.com/panjf2000/wind/pkg/buffer/deque"
	"github.com/panjf2000/wind/pkg/errors"
	"github.com/panjf2000/wind/pkg/logging"
	bsPool "github.com/panjf2000/wind/pkg/pool/byteslice"
)

// DefaultChunkSize bounds the block size of one read or write attempt.
const DefaultChunkSize = 4096

// Stream turns one non-blocking fd into asynchronous, completion-driven
// read and write operations with internal chunk buffering. A stream may
// have at most one outstanding read and one outstanding write
// completion; it is closed exactly once, by peer EOF, by an
// unrecoverable I/O error, or explicitly.
type Stream struct {
	looper    *Looper
	fd        int
	chunkSize int

	readBuf  deque.Deque
	writeBuf deque.Deque

	// frozen records that the last write attempt would have blocked, so
	// further attempts are pointless until the fd turns writable again.
	frozen bool

	readTarget   int    // pending byte-count target, -1 when none
	delimiter    []byte // pending delimiter, nil when none
	includeDelim bool

	readCallback  func([]byte)
	writeCallback func()
	closeCallback func()

	events netpoll.IOEvent // interest currently registered, 0 = none
	closed bool
}

// NewStream wraps fd, which must already be non-blocking.
func NewStream(looper *Looper, fd int, opts ...Option) *Stream {
	options := loadOptions(opts...)
	chunkSize := options.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Stream{
		looper:     looper,
		fd:         fd,
		chunkSize:  chunkSize,
		readTarget: -1,
	}
}

// FD returns the wrapped file descriptor.
func (s *Stream) FD() int {
	return s.fd
}

// Closed reports whether the stream has been closed.
func (s *Stream) Closed() bool {
	return s.closed
}

// InboundBuffered returns the bytes queued on the read side.
func (s *Stream) InboundBuffered() int {
	return s.readBuf.Buffered()
}

// OutboundBuffered returns the bytes not yet flushed to the fd.
func (s *Stream) OutboundBuffered() int {
	return s.writeBuf.Buffered()
}

// SetCloseCallback installs cb to run exactly once when the stream closes.
func (s *Stream) SetCloseCallback(cb func()) {
	s.closeCallback = cb
}

// ReadBytes arranges for cb to be invoked exactly once with exactly n
// bytes once that many have been accumulated from the fd.
func (s *Stream) ReadBytes(n int, cb func([]byte)) error {
	if s.closed {
		return errors.ErrStreamClosed
	}
	if n < 0 {
		return errors.ErrInvalidReadArgs
	}
	if s.readCallback != nil {
		return errors.ErrPendingRead
	}
	s.readTarget = n
	s.readCallback = cb
	s.processRead()
	return nil
}

// ReadUntil arranges for cb to be invoked exactly once with all bytes up
// to, optionally including, the first occurrence of delimiter.
func (s *Stream) ReadUntil(delimiter []byte, cb func([]byte), include bool) error {
	if s.closed {
		return errors.ErrStreamClosed
	}
	if len(delimiter) == 0 {
		return errors.ErrInvalidReadArgs
	}
	if s.readCallback != nil {
		return errors.ErrPendingRead
	}
	s.delimiter = delimiter
	s.includeDelim = include
	s.readCallback = cb
	s.processRead()
	return nil
}

// Write appends p to the write buffer, split into chunk-size blocks, and
// flushes as much as the fd accepts right away. cb, if non-nil, runs
// exactly once when the whole buffer has drained. A write that cannot
// complete immediately is backpressure, not an error.
func (s *Stream) Write(p []byte, cb func()) error {
	if s.closed {
		return errors.ErrStreamClosed
	}
	if cb != nil && s.writeCallback != nil {
		return errors.ErrPendingWrite
	}
	for off := 0; off < len(p); off += s.chunkSize {
		end := off + s.chunkSize
		if end > len(p) {
			end = len(p)
		}
		s.writeBuf.PushBack(p[off:end])
	}
	if cb != nil {
		s.writeCallback = cb
	}
	if !s.frozen {
		s.flush()
	}
	if s.closed {
		return nil
	}
	s.adjustEvents()
	return nil
}

// Close shuts the stream down, it is idempotent: the looper registration
// is released, buffers are returned to the pool, pending read/write
// callbacks are dropped uninvoked and the close callback fires at most
// once.
func (s *Stream) Close() {
	if s.closed {
		return
	}
	s.closed = true
	if s.events != 0 {
		if err := s.looper.RemoveHandler(s.fd); err != nil {
			logging.Warnf("failed to remove handler of fd %d: %v", s.fd, err)
		}
		s.events = 0
	}
	s.readBuf.Reset()
	s.writeBuf.Reset()
	s.readCallback = nil
	s.writeCallback = nil
	s.readTarget = -1
	s.delimiter = nil
	if err := unix.Close(s.fd); err != nil {
		logging.Warnf("failed to close fd %d: %v", s.fd, err)
	}
	if cb := s.closeCallback; cb != nil {
		s.closeCallback = nil
		cb()
	}
}

func (s *Stream) closeWithError(err error) {
	if !s.closed && !isResetError(err) {
		logging.Errorf("stream on fd %d closed on error: %v", s.fd, err)
	}
	s.Close()
}

// handleEvents is the looper-facing entry point, re-entered on every
// readiness notification for the fd.
func (s *Stream) handleEvents(_ int, events netpoll.IOEvent) {
	if s.closed {
		return
	}
	if events&netpoll.ReadEvent != 0 {
		s.processRead()
		if s.closed {
			return
		}
	}
	if events&netpoll.WriteEvent != 0 {
		s.frozen = false
		s.flush()
		if s.closed {
			return
		}
		s.adjustEvents()
	}
	if events&(netpoll.ReadEvent|netpoll.WriteEvent) == 0 && events&netpoll.ErrEvent != 0 {
		s.Close()
	}
}

// processRead drains the fd into the read buffer until it would block or
// hits EOF, then tries to satisfy the pending target from the buffer.
// When the target is not yet satisfiable the READ interest stays
// attached and the next notification re-enters here.
func (s *Stream) processRead() {
	if !s.fill() {
		return
	}
	s.trySatisfyRead()
	if !s.closed {
		s.adjustEvents()
	}
}

// fill reports false when the stream got closed while draining.
func (s *Stream) fill() bool {
	for {
		buf := bsPool.Get(s.chunkSize)
		n, err := unix.Read(s.fd, buf)
		if n > 0 {
			s.readBuf.PushBackNoCopy(buf[:n])
		} else {
			bsPool.Put(buf)
		}
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			return true
		case err != nil:
			s.closeWithError(os.NewSyscallError("read", err))
			return false
		case n == 0: // peer closed
			s.Close()
			return false
		}
	}
}

func (s *Stream) trySatisfyRead() {
	if s.readCallback == nil {
		return
	}
	var chunk []byte
	if s.delimiter != nil {
		total := s.readBuf.Buffered()
		if total < len(s.delimiter) {
			return
		}
		s.readBuf.Gather(total)
		idx := bytes.Index(s.readBuf.Front(), s.delimiter)
		if idx < 0 {
			return
		}
		chunk = s.readBuf.Throw(idx + len(s.delimiter))
		if !s.includeDelim {
			chunk = chunk[:idx]
		}
	} else {
		if s.readBuf.Buffered() < s.readTarget {
			return
		}
		if s.readTarget > 0 {
			chunk = s.readBuf.Throw(s.readTarget)
		}
	}

	cb := s.readCallback
	s.readCallback = nil
	s.readTarget = -1
	s.delimiter = nil
	cb(chunk)
}

// flush writes the buffered blocks head-first until the buffer is empty
// or the fd pushes back.
func (s *Stream) flush() {
	for !s.writeBuf.IsEmpty() {
		block := s.writeBuf.Front()
		n, err := unix.Write(s.fd, block)
		if n > 0 {
			s.writeBuf.Discard(n)
		}
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			s.frozen = true
			return
		case err != nil:
			s.closeWithError(os.NewSyscallError("write", err))
			return
		}
	}
	if cb := s.writeCallback; cb != nil {
		s.writeCallback = nil
		cb()
	}
}

// adjustEvents reconciles the interest registered with the looper
// against the stream's pending work.
func (s *Stream) adjustEvents() {
	desired := netpoll.ErrEvent
	if s.readCallback != nil {
		desired |= netpoll.ReadEvent
	}
	if !s.writeBuf.IsEmpty() {
		desired |= netpoll.WriteEvent
	}
	if s.events == desired {
		return
	}
	var err error
	if s.events == 0 {
		err = s.looper.AttachHandler(s.fd, desired, s.handleEvents)
	} else {
		err = s.looper.UpdateHandler(s.fd, desired)
	}
	if err != nil {
		s.closeWithError(err)
		return
	}
	s.events = desired
}

// isResetError tells the peer-went-away class of errors apart from
// genuine failures.
func isResetError(err error) bool {
	switch err {
	case unix.ECONNRESET, unix.ECONNABORTED, unix.EPIPE:
		return true
	}
	var syscallErr *os.SyscallError
	if stderrors.As(err, &syscallErr) {
		return isResetError(syscallErr.Err)
	}
	return false
}

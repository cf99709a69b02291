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

package errors

import "errors"

var (
	// ================================================= driver errors =================================================.

	// ErrNoDriverAvailable occurs when no I/O multiplexing facility can be opened on the host.
	ErrNoDriverAvailable = errors.New("no event driver available on this platform")
	// ErrFdAlreadyRegistered occurs when registering a file-descriptor that the driver already tracks.
	ErrFdAlreadyRegistered = errors.New("file descriptor is already registered")
	// ErrInvalidEventMask occurs when registering or modifying with an event mask outside READ|WRITE|ERROR.
	ErrInvalidEventMask = errors.New("invalid event mask")
	// ErrDriverClosed occurs when operating on a driver that has been closed.
	ErrDriverClosed = errors.New("event driver is closed")

	// ================================================= looper errors =================================================.

	// ErrLooperAlreadyRunning occurs when calling Run on a looper that is already running.
	ErrLooperAlreadyRunning = errors.New("event loop is already running")

	// ================================================= stream errors =================================================.

	// ErrStreamClosed occurs when reading from or writing to a closed stream.
	ErrStreamClosed = errors.New("stream is closed")
	// ErrInvalidReadArgs occurs when a read is requested with a negative byte count or an empty delimiter.
	ErrInvalidReadArgs = errors.New("invalid arguments for stream read")
	// ErrPendingRead occurs when a read is requested while another read is still outstanding.
	ErrPendingRead = errors.New("another read is already pending on this stream")
	// ErrPendingWrite occurs when a write is requested while another write completion is still outstanding.
	ErrPendingWrite = errors.New("another write is already pending on this stream")

	// ================================================ protocol errors ================================================.

	// ErrBadRequestLine occurs when the request line cannot be split into method, URL and version.
	ErrBadRequestLine = errors.New("malformed HTTP request line")
	// ErrBadHeaderBlock occurs when the header block misses its separators.
	ErrBadHeaderBlock = errors.New("malformed HTTP header block")
	// ErrNoMultipartBoundary occurs when a multipart content type declares no boundary token.
	ErrNoMultipartBoundary = errors.New("multipart content type has no boundary")

	// ================================================= server errors =================================================.

	// ErrAcceptSocket occurs when the acceptor fails to take a new connection off the listener.
	ErrAcceptSocket = errors.New("accept a new connection error")
	// ErrUnsupportedProtocol occurs when trying to listen on a protocol other than tcp/tcp4/tcp6.
	ErrUnsupportedProtocol = errors.New("only tcp/tcp4/tcp6 are supported")
)

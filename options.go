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

package wind

import (
	"time"

	"github.com/panjf2000/wind/internal/netpoll"
	"github.com/panjf2000/wind/pkg/logging"
	"github.com/panjf2000/wind/pkg/pool/goroutine"
)

// Option is a function that tweaks Options.
type Option func(opts *Options)

func loadOptions(options ...Option) *Options {
	opts := new(Options)
	for _, option := range options {
		option(opts)
	}
	return opts
}

// Options are configuration knobs shared by loopers, streams and servers.
type Options struct {
	// PollTimeout bounds one blocking poll call, DefaultPollTimeout when zero.
	PollTimeout time.Duration

	// ChunkSize bounds the block size of a single read or write attempt
	// on a stream, DefaultChunkSize when zero.
	ChunkSize int

	// ReusePort sets SO_REUSEPORT on listeners.
	ReusePort bool

	// TCPNoDelay sets TCP_NODELAY on accepted connections.
	TCPNoDelay bool

	// NumWorkers is the number of pre-forked worker processes, 0 keeps
	// everything in the current process.
	NumWorkers int

	// Logger replaces the default logger.
	Logger logging.Logger

	// WorkerPool, when set, runs application dispatch on the pool
	// instead of the loop goroutine, replies are marshalled back onto
	// the loop via Looper.Schedule.
	WorkerPool *goroutine.Pool

	// Driver injects a specific event driver instead of probing the host.
	Driver netpoll.Driver
}

// WithOptions sets up all options at once.
func WithOptions(options Options) Option {
	return func(opts *Options) {
		*opts = options
	}
}

// WithPollTimeout sets up the poll timeout of the looper.
func WithPollTimeout(d time.Duration) Option {
	return func(opts *Options) {
		opts.PollTimeout = d
	}
}

// WithChunkSize sets up the per-attempt I/O block size of streams.
func WithChunkSize(n int) Option {
	return func(opts *Options) {
		opts.ChunkSize = n
	}
}

// WithReusePort indicates whether SO_REUSEPORT is set on listeners.
func WithReusePort(reusePort bool) Option {
	return func(opts *Options) {
		opts.ReusePort = reusePort
	}
}

// WithTCPNoDelay indicates whether TCP_NODELAY is set on accepted fds.
func WithTCPNoDelay(noDelay bool) Option {
	return func(opts *Options) {
		opts.TCPNoDelay = noDelay
	}
}

// WithNumWorkers sets up the number of pre-forked worker processes.
func WithNumWorkers(n int) Option {
	return func(opts *Options) {
		opts.NumWorkers = n
	}
}

// WithLogger replaces the default logger.
func WithLogger(logger logging.Logger) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithWorkerPool hands application dispatch to an ants pool.
func WithWorkerPool(pool *goroutine.Pool) Option {
	return func(opts *Options) {
		opts.WorkerPool = pool
	}
}

// WithDriver injects an event driver, mostly for tests.
func WithDriver(driver netpoll.Driver) Option {
	return func(opts *Options) {
		opts.Driver = driver
	}
}

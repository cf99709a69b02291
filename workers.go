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
	"os"
	"os/exec"
	"runtime"
	"strconv"

	"github.com/panjf2000/wind/pkg/logging"
)

// Per-connection state is never safe to share across goroutines, so
// parallelism comes from replication: worker processes, each with its
// own looper, sharing nothing but the pre-bound listening sockets.
// Workers are respawns of the current binary that inherit the listener
// fds through ExtraFiles and recognize themselves by this variable.
const workerEnvKey = "WIND_WORKER"

// IsWorker reports whether the current process is a pre-forked worker.
func IsWorker() bool {
	return os.Getenv(workerEnvKey) != ""
}

// inheritedListenerFDs returns the fd numbers a worker inherited from
// its parent, ExtraFiles start at fd 3.
func inheritedListenerFDs() []int {
	n, err := strconv.Atoi(os.Getenv(workerEnvKey))
	if err != nil || n <= 0 {
		return nil
	}
	fds := make([]int, n)
	for i := range fds {
		fds[i] = 3 + i
	}
	return fds
}

// spawnWorkers starts n copies of the current binary, each inheriting
// lnFDs, and waits for all of them. It only returns once every worker
// has exited, with the first failure observed.
func spawnWorkers(n int, lnFDs []int) error {
	if n <= 0 {
		n = runtime.NumCPU()
	}
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	files := make([]*os.File, 0, len(lnFDs))
	for i, fd := range lnFDs {
		files = append(files, os.NewFile(uintptr(fd), "listener-"+strconv.Itoa(i)))
	}

	cmds := make([]*exec.Cmd, 0, n)
	for i := 0; i < n; i++ {
		cmd := exec.Command(exe, os.Args[1:]...) //nolint:gosec
		cmd.Env = append(os.Environ(), workerEnvKey+"="+strconv.Itoa(len(lnFDs)))
		cmd.ExtraFiles = files
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err = cmd.Start(); err != nil {
			break
		}
		logging.Infof("spawned worker %d (pid %d)", i, cmd.Process.Pid)
		cmds = append(cmds, cmd)
	}

	for _, cmd := range cmds {
		if waitErr := cmd.Wait(); waitErr != nil && err == nil {
			err = waitErr
		}
	}
	return err
}

// Run serves addr. With NumWorkers set, the parent binds the listener,
// spawns that many workers and waits; each worker builds its own looper
// over the inherited socket. Without workers it behaves like RunSimple.
func (srv *HTTPServer) Run(proto, addr string) error {
	if IsWorker() {
		if err := srv.AttachListenerFDs(inheritedListenerFDs()...); err != nil {
			return err
		}
		if err := srv.attachToLooper(); err != nil {
			return err
		}
		return srv.looper.Run()
	}

	if srv.opts.NumWorkers > 0 {
		if err := srv.Bind(proto, addr); err != nil {
			return err
		}
		return spawnWorkers(srv.opts.NumWorkers, srv.ListenerFDs())
	}
	return srv.RunSimple(proto, addr)
}

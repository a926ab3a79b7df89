// Copyright 2018 Jigsaw Operations LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package relay

import (
	"io"
	"sync"
)

// remoteWriter models the "accepted / must wait for drain" write
// signal of an asynchronous socket, with exactly one frame in flight
// at a time: Write either hands p to a background goroutine
// immediately (accepted) or reports that a previous frame is still
// being written (must wait), in which case the caller should block on
// Drain() and retry. This bounds the payload queue to one in-flight
// frame, as required by the backpressure contract.
type remoteWriter struct {
	conn io.Writer

	mu       sync.Mutex
	inflight bool
	drain    chan struct{}
	err      error
}

func newRemoteWriter(conn io.Writer) *remoteWriter {
	return &remoteWriter{conn: conn}
}

// Write attempts to hand p to the writer. accepted is false iff a
// previous frame has not yet finished writing; the caller must then
// wait on Drain() before retrying the same p.
func (w *remoteWriter) Write(p []byte) (accepted bool) {
	w.mu.Lock()
	if w.inflight {
		w.mu.Unlock()
		return false
	}
	w.inflight = true
	drain := make(chan struct{})
	w.drain = drain
	w.mu.Unlock()

	go func() {
		_, werr := w.conn.Write(p)
		w.mu.Lock()
		w.inflight = false
		if werr != nil && w.err == nil {
			w.err = werr
		}
		w.mu.Unlock()
		close(drain)
	}()
	return true
}

// Drain returns a channel that closes once the current in-flight frame
// (if any) has finished writing. If nothing is in flight it returns a
// channel that is already closed.
func (w *remoteWriter) Drain() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.drain == nil {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return w.drain
}

// Err returns the first write error observed, if any.
func (w *remoteWriter) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// WriteBlocking writes p to the remote, waiting out any "must wait"
// signals in between. It is the synchronous convenience wrapper the
// Relay State Machine's drain loop uses.
func (w *remoteWriter) WriteBlocking(p []byte) error {
	for {
		if err := w.Err(); err != nil {
			return err
		}
		if w.Write(p) {
			return nil
		}
		<-w.Drain()
	}
}

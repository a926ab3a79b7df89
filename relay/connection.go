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
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/corrupt-penguin/shadowsocks-ws/shadowsocks"
)

// Metrics receives the subset of connection lifecycle events the
// Relay State Machine itself observes. A nil Metrics is treated as a
// no-op, so callers that don't care about counters never need to
// construct one.
type Metrics interface {
	AuthFailure()
}

type nopMetrics struct{}

func (nopMetrics) AuthFailure() {}

// ConnectError marks a failure to dial the address carried in a
// connection's first payload. Serve logs these at error level, since a
// refused or unreachable upstream is an operational signal distinct
// from a malformed or unauthenticated client message.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("dial %s failed: %v", e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// Stage mirrors the Relay State Machine's lifecycle: a connection
// starts CLOSED, moves to OPENING while the first payload's address
// header is being resolved and dialed, to WRITING once the dial has
// succeeded and the address trailer and queued payloads are being
// written to the remote, and to OPEN once that queue has been drained.
type Stage int

const (
	StageClosed Stage = iota
	StageOpening
	StageWriting
	StageOpen
)

func (s Stage) String() string {
	switch s {
	case StageClosed:
		return "closed"
	case StageOpening:
		return "opening"
	case StageWriting:
		return "writing"
	case StageOpen:
		return "open"
	default:
		return "unknown"
	}
}

// WSConn abstracts the WebSocket transport so the Relay State Machine
// can be exercised without a real gorilla/websocket connection.
// ReadMessage must block until a full binary message has arrived;
// WriteMessage must send one complete binary message per call.
type WSConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(p []byte) error
	Close() error
}

// DialFunc dials the TCP target named by a parsed Shadowsocks address
// header. Tests substitute a fake that returns a net.Pipe() end.
type DialFunc func(hostPort string) (net.Conn, error)

// Connection is the Relay State Machine for one WebSocket tunnel: it
// owns the Inbound/Outbound Framers, the dialed remote socket, and the
// stage/backpressure bookkeeping described in the connection-state
// data model. A Connection is used for exactly one client and is
// discarded once torn down.
type Connection struct {
	ws      WSConn
	in      *shadowsocks.InboundFramer
	cc      *shadowsocks.CryptoContext
	dial    DialFunc
	logger  Logger
	metrics Metrics

	from string // display string for the client side, for logs
	to   string // display string for the dialed remote, once known

	mu     sync.Mutex
	stage  Stage
	remote net.Conn
	writer *remoteWriter
	out    *shadowsocks.OutboundFramer
	queue  [][]byte // payloads queued while OPENING/WRITING

	closeOnce sync.Once
	closeErr  error
}

// NewConnection constructs a Connection bound to one already-accepted
// WebSocket connection and cipher context. from is a display string
// (typically the client IP) used only for logging.
func NewConnection(ws WSConn, cc *shadowsocks.CryptoContext, dial DialFunc, logger Logger, from string) *Connection {
	return NewConnectionFromFramer(ws, shadowsocks.NewInboundFramer(cc), cc, dial, logger, from)
}

// NewConnectionFromFramer is like NewConnection but takes an
// already-constructed Inbound Framer. Callers that must try several
// candidate keys before settling on the one that decrypts an inbound
// salt (see shadowsocks.CipherList) feed the first WebSocket message
// through a candidate's framer themselves; whichever candidate framer
// decodes it without error is passed in here, already primed, so its
// accumulated state (and any payloads already decoded from that first
// message) is not lost.
func NewConnectionFromFramer(ws WSConn, in *shadowsocks.InboundFramer, cc *shadowsocks.CryptoContext, dial DialFunc, logger Logger, from string) *Connection {
	if logger == nil {
		logger = nopLogger{}
	}
	return &Connection{
		ws:      ws,
		in:      in,
		cc:      cc,
		dial:    dial,
		logger:  logger,
		metrics: nopMetrics{},
		from:    from,
		stage:   StageClosed,
	}
}

// SetMetrics attaches a Metrics sink. It must be called, if at all,
// before Serve starts reading; it is not safe for concurrent use with
// a running connection.
func (c *Connection) SetMetrics(m Metrics) {
	if m == nil {
		m = nopMetrics{}
	}
	c.metrics = m
}

// Prime delivers payloads that were already decrypted (by a caller
// probing candidate keys against the first WebSocket message) before
// Serve starts its own read loop. It must be called before Serve.
func (c *Connection) Prime(payloads [][]byte) error {
	for _, p := range payloads {
		if err := c.deliver(p); err != nil {
			return err
		}
	}
	return nil
}

// Serve runs the connection to completion: it reads WebSocket messages
// until the client closes, an AEAD verification fails, or the remote
// socket errors, tearing down cleanly in every case. It blocks until
// the connection is fully finished.
func (c *Connection) Serve() {
	var cause error
	defer func() { c.teardown(cause) }()

	for {
		msg, err := c.ws.ReadMessage()
		if err != nil {
			c.logger.Infof("%s: websocket closed: %v", c.from, err)
			return
		}
		if cause = c.onMessage(msg); cause != nil {
			return
		}
	}
}

// onMessage feeds one WebSocket message through the Inbound Framer and
// dispatches every payload it yields, in order.
func (c *Connection) onMessage(msg []byte) error {
	payloads, err := c.in.Feed(msg)
	for _, p := range payloads {
		if derr := c.deliver(p); derr != nil {
			return derr
		}
	}
	if err != nil {
		if errors.Is(err, shadowsocks.ErrAuthFailure) {
			c.metrics.AuthFailure()
		}
		return fmt.Errorf("frame decode failed: %w", err)
	}
	return nil
}

// deliver routes one decrypted payload according to the current stage:
// the very first payload carries the address header and triggers the
// dial; every payload before the dial completes is queued; once OPEN,
// payloads are written straight through to the remote with
// backpressure.
func (c *Connection) deliver(payload []byte) error {
	c.mu.Lock()
	stage := c.stage
	c.mu.Unlock()

	switch stage {
	case StageClosed:
		return c.openWith(payload)
	case StageOpening, StageWriting:
		c.mu.Lock()
		c.queue = append(c.queue, payload)
		c.mu.Unlock()
		return nil
	case StageOpen:
		return c.writer.WriteBlocking(payload)
	default:
		return errors.New("payload delivered in closed stage")
	}
}

// openWith parses the address header out of the connection's first
// payload, dials the named target, and flushes any trailer bytes and
// queued payloads once the dial succeeds. The address header's own
// trailer is re-enqueued at the head of the queue so it is relayed
// before any payload that arrived on a later WebSocket message.
func (c *Connection) openWith(first []byte) error {
	c.mu.Lock()
	c.stage = StageOpening
	c.mu.Unlock()

	addr, err := shadowsocks.ParseAddress(first)
	if err != nil {
		return fmt.Errorf("address parse failed: %w", err)
	}
	c.to = addr.HostPort()

	remote, err := c.dial(c.to)
	if err != nil {
		return &ConnectError{Addr: c.to, Err: err}
	}

	salt := make([]byte, c.cc.SaltSize())
	if _, err := rand.Read(salt); err != nil {
		remote.Close()
		return fmt.Errorf("salt generation failed: %w", err)
	}
	out, err := shadowsocks.NewOutboundFramer(c.cc, salt)
	if err != nil {
		remote.Close()
		return fmt.Errorf("outbound framer setup failed: %w", err)
	}

	c.mu.Lock()
	c.remote = remote
	c.writer = newRemoteWriter(remote)
	c.out = out
	queued := c.queue
	c.queue = nil
	c.stage = StageWriting
	c.mu.Unlock()

	c.logger.Infof("%s: opened tunnel to %s", c.from, c.to)
	go c.pumpRemoteToWS()

	if len(addr.Trailer) > 0 {
		if err := c.writer.WriteBlocking(addr.Trailer); err != nil {
			return err
		}
	}
	for _, p := range queued {
		if err := c.writer.WriteBlocking(p); err != nil {
			return err
		}
	}

	c.mu.Lock()
	c.stage = StageOpen
	c.mu.Unlock()
	return nil
}

// pumpRemoteToWS is the egress loop: it reads from the remote TCP
// socket, re-encrypts each chunk through the Outbound Framer, and
// writes one WebSocket message per chunk. On a clean remote EOF it
// half-closes the write side of the remote (if supported) and leaves
// the WebSocket open for any still-pending client writes; any other
// read error tears the whole connection down.
func (c *Connection) pumpRemoteToWS() {
	buf := make([]byte, 16*1024)
	for {
		n, err := c.remote.Read(buf)
		if n > 0 {
			wire := c.out.Wrap(buf[:n])
			if werr := c.ws.WriteMessage(wire); werr != nil {
				c.teardown(fmt.Errorf("websocket write failed: %w", werr))
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				type writeCloser interface{ CloseWrite() error }
				if wc, ok := c.remote.(writeCloser); ok {
					wc.CloseWrite()
				}
				return
			}
			c.teardown(fmt.Errorf("remote read failed: %w", err))
			return
		}
	}
}

// teardown idempotently releases the remote socket and the WebSocket.
// cause, if non-nil, is logged once (at warning level for auth, frame
// and address errors, at error level otherwise); the first cause
// supplied across all call sites wins.
func (c *Connection) teardown(cause error) {
	c.closeOnce.Do(func() {
		c.closeErr = cause
		if cause != nil {
			if errors.Is(cause, shadowsocks.ErrAuthFailure) || errors.Is(cause, shadowsocks.ErrInvalidFrame) || errors.Is(cause, shadowsocks.ErrInvalidAddress) {
				c.logger.Warningf("%s -> %s: %v", c.from, c.to, cause)
			} else {
				c.logger.Errorf("%s -> %s: %v", c.from, c.to, cause)
			}
		}
		c.mu.Lock()
		remote := c.remote
		c.mu.Unlock()
		if remote != nil {
			remote.Close()
		}
		c.ws.Close()
	})
}

// Err returns the error that caused teardown, if any. It is safe to
// call only after Serve has returned.
func (c *Connection) Err() error {
	return c.closeErr
}

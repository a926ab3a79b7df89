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

// Package wsserver is the HTTP/WebSocket front door: it serves the
// plain-HTTP landing page on the same port the tunnel listens on,
// upgrades WebSocket handshakes, picks the pre-shared key that
// decrypts each new connection's salt, and hands the result to the
// relay package's Connection.
package wsserver

import (
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/corrupt-penguin/shadowsocks-ws/relay"
	"github.com/corrupt-penguin/shadowsocks-ws/shadowsocks"
)

const landingPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Not Found</title>
</head>
<body>
<p>This server only speaks HTTP and WebSocket on this port.</p>
</body>
</html>
`

// GeoLookup resolves a client IP to an ISO country code, or "" if
// unknown. A nil GeoLookup disables annotation entirely.
type GeoLookup func(net.IP) string

// Metrics receives connection lifecycle events for the Prometheus
// counters the metrics package registers. Every method must be safe
// to call from arbitrary goroutines.
type Metrics interface {
	ConnectionOpened()
	ConnectionClosed()
	AuthFailure()
	DialFailure()
	BytesRelayed(direction string, n int)
}

type nopMetrics struct{}

func (nopMetrics) ConnectionOpened()                    {}
func (nopMetrics) ConnectionClosed()                    {}
func (nopMetrics) AuthFailure()                         {}
func (nopMetrics) DialFailure()                         {}
func (nopMetrics) BytesRelayed(direction string, n int) {}

// Server is the public-facing listener: it multiplexes the landing
// page, the liveness probe, and the WebSocket tunnel endpoint onto one
// net/http.Server.
type Server struct {
	Ciphers shadowsocks.CipherList
	Logger  relay.Logger
	Geo     GeoLookup
	Metrics Metrics
	Dial    relay.DialFunc

	upgrader websocket.Upgrader
}

// NewServer builds a Server ready to be mounted with Handler(). dial
// is normally net.Dial wrapped to accept a "host:port" string; tests
// substitute a fake.
func NewServer(ciphers shadowsocks.CipherList, logger relay.Logger, geo GeoLookup, metrics Metrics, dial relay.DialFunc) *Server {
	if metrics == nil {
		metrics = nopMetrics{}
	}
	return &Server{
		Ciphers: ciphers,
		Logger:  logger,
		Geo:     geo,
		Metrics: metrics,
		Dial:    dial,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Handler returns the http.Handler to mount on the public listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/index.html", s.handleLanding)
	mux.HandleFunc("/generate_204", s.handleGenerate204)
	return mux
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if isUpgradeRequest(r) {
		s.handleUpgrade(w, r)
		return
	}
	s.handleLanding(w, r)
}

func isUpgradeRequest(r *http.Request) bool {
	return r.Header.Get("Upgrade") != "" || r.Header.Get("Sec-WebSocket-Key") != ""
}

func (s *Server) handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, landingPage)
}

func (s *Server) handleGenerate204(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusNoContent)
}

// handleUpgrade completes the WebSocket handshake and runs the tunnel
// for the lifetime of the connection, blocking until it closes. Each
// HTTP request already runs on its own goroutine from net/http, so no
// additional goroutine is spawned here.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	clientIP := clientAddr(r)
	from := clientIP.String()
	if s.Geo != nil {
		if cc := s.Geo(clientIP); cc != "" {
			from = fmt.Sprintf("%s[%s]", from, cc)
		}
	}

	gc := &gorillaConn{ws: wsConn}
	s.Metrics.ConnectionOpened()
	defer s.Metrics.ConnectionClosed()

	pick, err := s.pickCipher(gc, clientIP)
	if err != nil {
		s.Metrics.AuthFailure()
		if s.Logger != nil {
			s.Logger.Warningf("%s: no configured key decrypted the inbound salt: %v", from, err)
		}
		wsConn.Close()
		return
	}
	s.Ciphers.SafeMarkUsedByClientIP(pick.entry, clientIP)

	conn := relay.NewConnectionFromFramer(gc, pick.framer, pick.cc, s.dialWithMetrics(), s.Logger, from)
	conn.SetMetrics(s.Metrics)
	if err := conn.Prime(pick.payloads); err != nil {
		if s.Logger != nil {
			var connErr *relay.ConnectError
			if errors.As(err, &connErr) {
				s.Logger.Errorf("%s: %v", from, err)
			} else {
				s.Logger.Warningf("%s: %v", from, err)
			}
		}
		wsConn.Close()
		return
	}
	conn.Serve()
}

func clientAddr(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		host = fwd
	}
	return net.ParseIP(host)
}

func (s *Server) dialWithMetrics() relay.DialFunc {
	return func(hostPort string) (net.Conn, error) {
		conn, err := s.Dial(hostPort)
		if err != nil {
			s.Metrics.DialFailure()
			return nil, err
		}
		return &countingConn{Conn: conn, metrics: s.Metrics}, nil
	}
}

// countingConn wraps a dialed remote connection so every byte relayed
// in either direction is reported to Metrics, without the relay
// package needing to know metrics exist at all.
type countingConn struct {
	net.Conn
	metrics Metrics
}

func (c *countingConn) Read(b []byte) (int, error) {
	n, err := c.Conn.Read(b)
	if n > 0 {
		c.metrics.BytesRelayed("egress", n)
	}
	return n, err
}

func (c *countingConn) Write(b []byte) (int, error) {
	n, err := c.Conn.Write(b)
	if n > 0 {
		c.metrics.BytesRelayed("ingress", n)
	}
	return n, err
}

// CloseWrite passes through to the underlying connection's half-close
// when it has one (e.g. *net.TCPConn), so relay.Connection's clean-EOF
// teardown path keeps working through this wrapper.
func (c *countingConn) CloseWrite() error {
	type writeCloser interface{ CloseWrite() error }
	if wc, ok := c.Conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}

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

// Package metrics holds the process-wide Prometheus registry: counters
// and gauges describing connection lifecycle and relayed byte volume,
// never per-user accounting. Nothing here is consulted by the relay
// itself; it is purely observational.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements wsserver.Metrics against the Prometheus client
// library. One Recorder is shared by every connection.
type Recorder struct {
	connectionsOpened prometheus.Counter
	connectionsClosed prometheus.Counter
	activeConnections prometheus.Gauge
	authFailures      prometheus.Counter
	dialFailures      prometheus.Counter
	bytesRelayed      *prometheus.CounterVec
}

// NewRecorder constructs and registers every metric on a private
// registry, so tests can build more than one Recorder without
// colliding on the default global registry.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		connectionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowsocks_ws_connections_opened_total",
			Help: "WebSocket tunnels accepted.",
		}),
		connectionsClosed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowsocks_ws_connections_closed_total",
			Help: "WebSocket tunnels that finished, for any reason.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "shadowsocks_ws_active_connections",
			Help: "WebSocket tunnels currently open.",
		}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowsocks_ws_auth_failures_total",
			Help: "Connections rejected for an AEAD authentication failure, whether during key selection or mid-stream.",
		}),
		dialFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "shadowsocks_ws_dial_failures_total",
			Help: "Connections rejected because the target TCP dial failed.",
		}),
		bytesRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "shadowsocks_ws_bytes_relayed_total",
			Help: "Bytes relayed, by direction.",
		}, []string{"direction"}),
	}
	reg.MustRegister(
		r.connectionsOpened,
		r.connectionsClosed,
		r.activeConnections,
		r.authFailures,
		r.dialFailures,
		r.bytesRelayed,
	)
	return r
}

func (r *Recorder) ConnectionOpened() {
	r.connectionsOpened.Inc()
	r.activeConnections.Inc()
}

func (r *Recorder) ConnectionClosed() {
	r.connectionsClosed.Inc()
	r.activeConnections.Dec()
}

func (r *Recorder) AuthFailure() { r.authFailures.Inc() }
func (r *Recorder) DialFailure() { r.dialFailures.Inc() }

func (r *Recorder) BytesRelayed(direction string, n int) {
	r.bytesRelayed.WithLabelValues(direction).Add(float64(n))
}

// Serve starts a blocking HTTP server exposing reg's registry at
// /metrics on addr. It is the caller's job to run this in its own
// goroutine; it returns only when the listener fails.
func Serve(addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv.ListenAndServe()
}

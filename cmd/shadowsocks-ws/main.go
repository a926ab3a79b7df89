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

// Command shadowsocks-ws runs the WebSocket-tunneled Shadowsocks
// server: it loads configuration from the environment, wires the
// cipher list, GeoIP lookup and Prometheus registry together, and
// serves the public HTTP/WebSocket listener until killed.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	logging "github.com/op/go-logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/corrupt-penguin/shadowsocks-ws/config"
	"github.com/corrupt-penguin/shadowsocks-ws/metrics"
	"github.com/corrupt-penguin/shadowsocks-ws/wsserver"
)

var log = logging.MustGetLogger("shadowsocks-ws")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	var geo wsserver.GeoLookup
	if cfg.GeoIPDBPath != "" {
		db, lookup, err := wsserver.OpenGeoDB(cfg.GeoIPDBPath)
		if err != nil {
			log.Fatalf("GEOIP_DB: %v", err)
		}
		defer db.Close()
		geo = lookup
	}

	reg := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(reg)
	if cfg.MetricsAddr != "" {
		go func() {
			log.Infof("metrics listening on http://%s/metrics", cfg.MetricsAddr)
			if err := metrics.Serve(cfg.MetricsAddr, reg); err != nil {
				log.Errorf("metrics server stopped: %v", err)
			}
		}()
	}

	srv := wsserver.NewServer(cfg.Ciphers, log, geo, recorder, dialTCP)

	addr := fmt.Sprintf(":%d", cfg.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infof("listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

func dialTCP(hostPort string) (net.Conn, error) {
	return net.DialTimeout("tcp", hostPort, 10*time.Second)
}

func setupLogging(level string) {
	backend := logging.NewLogBackend(os.Stderr, "", 0)
	formatter := logging.MustStringFormatter(
		`%{time:2006-01-02T15:04:05.000Z07:00} %{level:.4s} %{message}`,
	)
	formatted := logging.NewBackendFormatter(backend, formatter)
	leveled := logging.AddModuleLevel(formatted)
	lvl, err := logging.LogLevel(level)
	if err != nil {
		lvl = logging.INFO
	}
	leveled.SetLevel(lvl, "")
	logging.SetBackend(leveled)
}

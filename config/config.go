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

// Package config loads process configuration from the environment: no
// flags, no flag-parsing dependency, just a handful of env vars read
// once at startup. Any problem here is fatal: the process should not
// start listening with a configuration it cannot honor.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v2"

	"github.com/corrupt-penguin/shadowsocks-ws/shadowsocks"
)

// Defaults for the env vars that are optional: with none of METHOD,
// PASS or PORT set, the server still starts and listens on port 80
// with a single chacha20-poly1305 key.
const (
	defaultPort   = 80
	defaultMethod = shadowsocks.MethodChacha20Poly1305
	defaultPass   = "secret"
)

// Config is everything main needs to start listening.
type Config struct {
	Port        int
	Ciphers     shadowsocks.CipherList
	GeoIPDBPath string
	MetricsAddr string
	LogLevel    string
}

// keyFile is the shape of the optional CONFIG_FILE: a list of
// independently addressable pre-shared keys for a multi-tenant
// deployment.
type keyFile struct {
	Keys []struct {
		ID     string `yaml:"id"`
		Method string `yaml:"method"`
		Pass   string `yaml:"pass"`
	} `yaml:"keys"`
}

// Load reads PORT, METHOD/PASS or CONFIG_FILE, GEOIP_DB, METRICS_ADDR
// and LOG_LEVEL from the environment. PORT, METHOD and PASS each fall
// back to a default when unset, so a bare environment still produces
// a runnable configuration. Load returns an error for every other
// problem that should keep the process from starting: unsupported
// cipher method, malformed YAML, or a non-numeric PORT.
func Load() (*Config, error) {
	port, err := loadPort()
	if err != nil {
		return nil, err
	}

	ciphers := shadowsocks.NewCipherList()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadKeyFile(path, ciphers); err != nil {
			return nil, fmt.Errorf("CONFIG_FILE: %w", err)
		}
	} else {
		method := os.Getenv("METHOD")
		if method == "" {
			method = defaultMethod
		}
		pass := os.Getenv("PASS")
		if pass == "" {
			pass = defaultPass
		}
		cc, err := shadowsocks.NewCryptoContext(method, pass)
		if err != nil {
			return nil, fmt.Errorf("METHOD=%q: %w", method, err)
		}
		ciphers.PushBack("default", cc)
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return &Config{
		Port:        port,
		Ciphers:     ciphers,
		GeoIPDBPath: os.Getenv("GEOIP_DB"),
		MetricsAddr: os.Getenv("METRICS_ADDR"),
		LogLevel:    logLevel,
	}, nil
}

func loadPort() (int, error) {
	raw := os.Getenv("PORT")
	if raw == "" {
		return defaultPort, nil
	}
	port, err := strconv.Atoi(raw)
	if err != nil || port <= 0 || port > 65535 {
		return 0, fmt.Errorf("PORT=%q is not a valid port number", raw)
	}
	return port, nil
}

func loadKeyFile(path string, ciphers shadowsocks.CipherList) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	var kf keyFile
	if err := yaml.Unmarshal(data, &kf); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	if len(kf.Keys) == 0 {
		return fmt.Errorf("%s lists no keys", path)
	}
	for _, k := range kf.Keys {
		cc, err := shadowsocks.NewCryptoContext(k.Method, k.Pass)
		if err != nil {
			return fmt.Errorf("key %q: %w", k.ID, err)
		}
		ciphers.PushBack(k.ID, cc)
	}
	return nil
}

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

package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg)

	r.ConnectionOpened()
	r.ConnectionOpened()
	r.ConnectionClosed()
	r.AuthFailure()
	r.DialFailure()
	r.BytesRelayed("ingress", 100)
	r.BytesRelayed("egress", 42)

	if got := testutil.ToFloat64(r.connectionsOpened); got != 2 {
		t.Fatalf("connectionsOpened = %v, want 2", got)
	}
	if got := testutil.ToFloat64(r.connectionsClosed); got != 1 {
		t.Fatalf("connectionsClosed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.activeConnections); got != 1 {
		t.Fatalf("activeConnections = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.authFailures); got != 1 {
		t.Fatalf("authFailures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.dialFailures); got != 1 {
		t.Fatalf("dialFailures = %v, want 1", got)
	}
	if got := testutil.ToFloat64(r.bytesRelayed.WithLabelValues("ingress")); got != 100 {
		t.Fatalf("bytesRelayed[ingress] = %v, want 100", got)
	}
}

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

package shadowsocks

import (
	"net"
	"testing"
)

func TestCipherListMoveToFrontByClientIP(t *testing.T) {
	cl := NewCipherList()
	ccA, _ := NewCryptoContext(MethodAES256GCM, "a")
	ccB, _ := NewCryptoContext(MethodAES256GCM, "b")
	ccC, _ := NewCryptoContext(MethodAES256GCM, "c")
	eA := cl.PushBack("a", ccA)
	cl.PushBack("b", ccB)
	eC := cl.PushBack("c", ccC)

	if cl.Len() != 3 {
		t.Fatalf("expected 3 entries, got %d", cl.Len())
	}

	ipX := net.ParseIP("203.0.113.5")
	snap := cl.SafeSnapshotForClientIP(ipX)
	if snap[0].Value.(*CipherEntry).ID != "a" {
		t.Fatalf("expected default recency order to start with a, got %s", snap[0].Value.(*CipherEntry).ID)
	}

	// "c" was last used by ipX: it must now be tried first for that IP.
	cl.SafeMarkUsedByClientIP(eC, ipX)
	snap = cl.SafeSnapshotForClientIP(ipX)
	if snap[0].Value.(*CipherEntry).ID != "c" {
		t.Fatalf("expected c to be first for its sticky IP, got %s", snap[0].Value.(*CipherEntry).ID)
	}

	// "a" is then used by a different IP: each IP must still see its own
	// key tried first, even though both promotions reordered the same
	// underlying list.
	ipY := net.ParseIP("198.51.100.9")
	cl.SafeMarkUsedByClientIP(eA, ipY)

	snap = cl.SafeSnapshotForClientIP(ipX)
	if snap[0].Value.(*CipherEntry).ID != "c" {
		t.Fatalf("expected c to remain first for ipX, got %s", snap[0].Value.(*CipherEntry).ID)
	}
	snap = cl.SafeSnapshotForClientIP(ipY)
	if snap[0].Value.(*CipherEntry).ID != "a" {
		t.Fatalf("expected a to be first for ipY, got %s", snap[0].Value.(*CipherEntry).ID)
	}
}

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

package wsserver

import (
	"container/list"
	"fmt"
	"net"

	"github.com/corrupt-penguin/shadowsocks-ws/relay"
	"github.com/corrupt-penguin/shadowsocks-ws/shadowsocks"
)

// cipherPick is the outcome of trying every candidate key against a
// connection's first message: the winning framer (already advanced
// past that message, so it must not be fed the same bytes again), the
// payloads that message yielded, and the list element to mark used.
type cipherPick struct {
	cc       *shadowsocks.CryptoContext
	framer   *shadowsocks.InboundFramer
	payloads [][]byte
	entry    *list.Element
}

// pickCipher reads the first WebSocket message and tries each
// configured key, in the client's sticky-IP-first order, until one
// decrypts it.
func (s *Server) pickCipher(ws relay.WSConn, clientIP net.IP) (*cipherPick, error) {
	first, err := ws.ReadMessage()
	if err != nil {
		return nil, fmt.Errorf("no first message: %w", err)
	}

	candidates := s.Ciphers.SafeSnapshotForClientIP(clientIP)
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no cipher keys configured")
	}

	for _, e := range candidates {
		entry := e.Value.(*shadowsocks.CipherEntry)
		in := shadowsocks.NewInboundFramer(entry.Crypto)
		payloads, ferr := in.Feed(first)
		if ferr == nil {
			return &cipherPick{cc: entry.Crypto, framer: in, payloads: payloads, entry: e}, nil
		}
	}
	return nil, fmt.Errorf("no configured key decrypted the first message")
}

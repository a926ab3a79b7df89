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
	"encoding/binary"
)

// InboundFramer turns an arbitrarily-split ciphertext byte stream into
// an ordered sequence of decrypted payload buffers. It holds all state
// described in the connection-state data model: rx_buf, decipher,
// expected_ct_len and chunk_index. A single InboundFramer belongs to
// exactly one connection and must not be used concurrently.
type InboundFramer struct {
	cc  *CryptoContext
	rx  []byte
	dec *subContext

	expectedCtLen int
	chunkIndex    uint64
}

// NewInboundFramer creates a framer bound to cc; the decrypt sub-key is
// not derived until SaltSize() bytes have arrived.
func NewInboundFramer(cc *CryptoContext) *InboundFramer {
	return &InboundFramer{cc: cc, expectedCtLen: 2}
}

// Ready reports whether the client salt has been consumed and the
// decrypt sub-context constructed.
func (f *InboundFramer) Ready() bool { return f.dec != nil }

// Feed appends chunk to the accumulated ciphertext and decodes as many
// complete length/payload frame pairs as are available. It returns the
// decrypted payload buffers produced by this call, in order; it never
// looks ahead beyond the next frame boundary, so calling Feed with
// arbitrary splits of the same overall byte stream yields the same
// sequence of payloads (this is what makes the framer split-agnostic).
//
// On a frame whose tag fails to verify, or a length frame that decodes
// outside [1, 0x3FFF], Feed returns the payloads decoded so far
// together with ErrAuthFailure / ErrInvalidFrame; the caller must tear
// down the connection and must not call Feed again.
func (f *InboundFramer) Feed(chunk []byte) ([][]byte, error) {
	f.rx = append(f.rx, chunk...)

	if f.dec == nil {
		saltSize := f.cc.SaltSize()
		if len(f.rx) < saltSize {
			return nil, nil
		}
		salt := append([]byte(nil), f.rx[:saltSize]...)
		f.rx = f.rx[saltSize:]
		dec, err := f.cc.NewDirection(salt)
		if err != nil {
			return nil, err
		}
		f.dec = dec
	}

	var out [][]byte
	tagSize := f.cc.TagSize()
	for len(f.rx) >= f.expectedCtLen+tagSize {
		frameLen := f.expectedCtLen + tagSize
		frame := append([]byte(nil), f.rx[:frameLen]...)
		f.rx = f.rx[frameLen:]

		pt, err := f.dec.Decrypt(frame)
		if err != nil {
			return out, ErrAuthFailure
		}

		if f.chunkIndex%2 == 0 {
			length := int(binary.BigEndian.Uint16(pt))
			if length < 1 || length > maxPayloadSize {
				return out, ErrInvalidFrame
			}
			f.expectedCtLen = length
		} else {
			out = append(out, pt)
			f.expectedCtLen = 2
		}
		f.chunkIndex++
	}
	return out, nil
}

// OutboundFramer encrypts chunks of remote TCP data back into the
// WebSocket egress stream, emitting the server salt exactly once as
// the first bytes it ever produces.
type OutboundFramer struct {
	cc  *CryptoContext
	enc *subContext
	// salt is held until the first Wrap call, which emits it ahead of
	// any frame and then clears it.
	salt []byte
}

// NewOutboundFramer derives a fresh encrypt sub-key from salt and
// installs it as the connection's cipher; salt must be a fresh
// cryptographically random buffer of cc.SaltSize() bytes generated
// once per connection.
func NewOutboundFramer(cc *CryptoContext, salt []byte) (*OutboundFramer, error) {
	enc, err := cc.NewDirection(salt)
	if err != nil {
		return nil, err
	}
	return &OutboundFramer{cc: cc, enc: enc, salt: salt}, nil
}

// Wrap encrypts p, splitting it into chunks of at most 0x3FFF bytes of
// plaintext each, and returns the concatenated ciphertext: the server
// salt (only on the very first call), then for each chunk a length
// frame followed by a payload frame. The caller should send the
// returned bytes as a single WebSocket message to avoid fragmentation.
func (o *OutboundFramer) Wrap(p []byte) []byte {
	tagSize := o.cc.TagSize()
	var out []byte
	if o.salt != nil {
		out = append(out, o.salt...)
		o.salt = nil
	}

	for len(p) > 0 {
		n := len(p)
		if n > maxPayloadSize {
			n = maxPayloadSize
		}
		chunk := p[:n]
		p = p[n:]

		var lenBuf [2]byte
		binary.BigEndian.PutUint16(lenBuf[:], uint16(n))

		sizeBuf := make([]byte, 0, 2+tagSize)
		sizeBuf = o.enc.Encrypt(sizeBuf, lenBuf[:])
		out = append(out, sizeBuf...)

		payloadBuf := make([]byte, 0, n+tagSize)
		payloadBuf = o.enc.Encrypt(payloadBuf, chunk)
		out = append(out, payloadBuf...)
	}
	return out
}

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

// Package shadowsocks implements the Shadowsocks AEAD wire framing used
// to carry an encrypted TCP tunnel over a WebSocket byte stream: key
// derivation, the per-connection Cryptographic Context, and the
// Inbound/Outbound framers that turn ciphertext bytes into plaintext
// payloads and back.
package shadowsocks

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/md5"
	"crypto/sha1"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// MethodAES256GCM and MethodChacha20Poly1305 are the only two cipher
// methods this server accepts.
const (
	MethodAES256GCM         = "aes-256-gcm"
	MethodChacha20Poly1305  = "chacha20-poly1305"
	hkdfInfo                = "ss-subkey"
	maxPayloadSize          = 0x3FFF
	nonceSize               = 12
)

// methodParams holds the three sizes (in bytes) a cipher method fixes.
type methodParams struct {
	KeySize  int
	SaltSize int
	TagSize  int
	newAEAD  func(key []byte) (cipher.AEAD, error)
}

var methodTable = map[string]methodParams{
	MethodAES256GCM: {
		KeySize:  32,
		SaltSize: 32,
		TagSize:  16,
		newAEAD:  newAESGCM,
	},
	MethodChacha20Poly1305: {
		KeySize:  32,
		SaltSize: 32,
		TagSize:  16,
		newAEAD:  chacha20poly1305.New,
	},
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// lookupMethod returns the fixed sizes for a cipher method name.
func lookupMethod(name string) (methodParams, error) {
	p, ok := methodTable[name]
	if !ok {
		return methodParams{}, fmt.Errorf("%w: %q", ErrUnsupportedMethod, name)
	}
	return p, nil
}

// deriveMasterKey implements the legacy MD5-based key derivation:
// K0 = MD5(pass); Ki = MD5(K{i-1} || pass); key is the first keySize
// bytes of K0 || K1 || ....
func deriveMasterKey(password string, keySize int) []byte {
	var out []byte
	var prev []byte
	for len(out) < keySize {
		h := md5.New()
		h.Write(prev)
		h.Write([]byte(password))
		prev = h.Sum(nil)
		out = append(out, prev...)
	}
	return out[:keySize]
}

// deriveSubkey derives a per-direction AEAD key via HKDF-SHA1 with the
// fixed "ss-subkey" info string, as specified by the Shadowsocks AEAD
// protocol.
func deriveSubkey(master, salt []byte, keySize int) ([]byte, error) {
	r := hkdf.New(sha1.New, master, salt, []byte(hkdfInfo))
	key := make([]byte, keySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf subkey derivation failed: %w", err)
	}
	return key, nil
}

// CryptoContext produces AEAD primitives for both directions of one
// pre-shared key and hides nonce management from callers. A single
// CryptoContext is built once per configured key at process start; the
// per-direction sub-keys it produces are specific to one connection.
type CryptoContext struct {
	method string
	params methodParams
	master []byte
}

// NewCryptoContext derives the master key for method/pass once and
// returns a CryptoContext that can mint per-connection sub-contexts.
func NewCryptoContext(method, pass string) (*CryptoContext, error) {
	params, err := lookupMethod(method)
	if err != nil {
		return nil, err
	}
	return &CryptoContext{
		method: method,
		params: params,
		master: deriveMasterKey(pass, params.KeySize),
	}, nil
}

// Method returns the cipher method name.
func (cc *CryptoContext) Method() string { return cc.method }

// SaltSize returns the salt size in bytes for this method.
func (cc *CryptoContext) SaltSize() int { return cc.params.SaltSize }

// TagSize returns the AEAD tag size in bytes for this method.
func (cc *CryptoContext) TagSize() int { return cc.params.TagSize }

// NewDirection derives a fresh per-direction sub-key from salt and
// returns a subContext that encrypts or decrypts frames for exactly
// one direction of one connection. The nonce starts at zero and is
// incremented after every frame.
func (cc *CryptoContext) NewDirection(salt []byte) (*subContext, error) {
	key, err := deriveSubkey(cc.master, salt, cc.params.KeySize)
	if err != nil {
		return nil, err
	}
	aead, err := cc.params.newAEAD(key)
	if err != nil {
		return nil, fmt.Errorf("failed to construct AEAD: %w", err)
	}
	return &subContext{aead: aead, nonce: make([]byte, nonceSize), tagSize: cc.params.TagSize}, nil
}

// subContext is a per-direction, per-connection AEAD sub-key plus its
// nonce counter. It is never shared between directions or connections.
type subContext struct {
	aead    cipher.AEAD
	nonce   []byte
	tagSize int
	poisoned bool
}

// Decrypt verifies and decrypts one frame of ciphertext+tag. On
// verification failure the sub-context is poisoned: the connection
// must be torn down and no further bytes may be decrypted under it.
func (s *subContext) Decrypt(ct []byte) ([]byte, error) {
	if s.poisoned {
		return nil, ErrAuthFailure
	}
	pt, err := s.aead.Open(ct[:0], s.nonce, ct, nil)
	if err != nil {
		s.poisoned = true
		return nil, ErrAuthFailure
	}
	incrementNonce(s.nonce)
	return pt, nil
}

// Encrypt seals plaintext into the caller-provided destination buffer
// (which must have capacity for len(pt)+tagSize) and advances the
// nonce unconditionally.
func (s *subContext) Encrypt(dst, pt []byte) []byte {
	out := s.aead.Seal(dst, s.nonce, pt, nil)
	incrementNonce(s.nonce)
	return out
}

// incrementNonce increments a little-endian encoded unsigned integer,
// wrapping around on overflow.
func incrementNonce(b []byte) {
	for i := range b {
		b[i]++
		if b[i] != 0 {
			return
		}
	}
}

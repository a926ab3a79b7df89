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
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func TestNewCryptoContextUnsupportedMethod(t *testing.T) {
	if _, err := NewCryptoContext("rot13", "pass"); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("expected ErrUnsupportedMethod, got %v", err)
	}
}

func TestDeriveMasterKeyDeterministic(t *testing.T) {
	k1 := deriveMasterKey("secret", 32)
	k2 := deriveMasterKey("secret", 32)
	if !bytes.Equal(k1, k2) {
		t.Fatalf("derive_master must be deterministic")
	}
	k3 := deriveMasterKey("other", 32)
	if bytes.Equal(k1, k3) {
		t.Fatalf("different passwords must yield different keys")
	}
	if len(k1) != 32 {
		t.Fatalf("expected 32 byte key, got %d", len(k1))
	}
}

func TestSubContextNonceIncrementsAndEncryptDecryptRoundTrip(t *testing.T) {
	for _, method := range []string{MethodAES256GCM, MethodChacha20Poly1305} {
		cc, err := NewCryptoContext(method, "secret")
		if err != nil {
			t.Fatalf("%s: %v", method, err)
		}
		salt := make([]byte, cc.SaltSize())
		if _, err := rand.Read(salt); err != nil {
			t.Fatal(err)
		}
		enc, err := cc.NewDirection(salt)
		if err != nil {
			t.Fatal(err)
		}
		dec, err := cc.NewDirection(salt)
		if err != nil {
			t.Fatal(err)
		}

		plaintexts := [][]byte{[]byte("hello"), []byte("world"), []byte("")}
		for _, pt := range plaintexts {
			ct := enc.Encrypt(nil, pt)
			got, err := dec.Decrypt(ct)
			if err != nil {
				t.Fatalf("%s: decrypt failed: %v", method, err)
			}
			if !bytes.Equal(got, pt) {
				t.Fatalf("%s: round trip mismatch: got %q want %q", method, got, pt)
			}
		}
		want := make([]byte, nonceSize)
		want[0] = byte(len(plaintexts))
		if !bytes.Equal(enc.nonce, want) || !bytes.Equal(dec.nonce, want) {
			t.Fatalf("%s: expected both nonces at %x, got %x / %x", method, want, enc.nonce, dec.nonce)
		}
	}
}

func TestSubContextAuthFailurePoisons(t *testing.T) {
	cc, err := NewCryptoContext(MethodChacha20Poly1305, "secret")
	if err != nil {
		t.Fatal(err)
	}
	salt := make([]byte, cc.SaltSize())
	enc, _ := cc.NewDirection(salt)
	dec, _ := cc.NewDirection(salt)

	ct := enc.Encrypt(nil, []byte("hello"))
	// Flip a single bit of the tag.
	ct[len(ct)-1] ^= 0x01
	if _, err := dec.Decrypt(ct); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected ErrAuthFailure, got %v", err)
	}

	// The sub-context must stay poisoned: even a correctly-encrypted
	// subsequent frame must not be accepted.
	good := enc.Encrypt(nil, []byte("world"))
	if _, err := dec.Decrypt(good); !errors.Is(err, ErrAuthFailure) {
		t.Fatalf("expected poisoned sub-context to keep failing, got %v", err)
	}
}

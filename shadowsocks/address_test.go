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
	"errors"
	"testing"
)

// TestParseAddressIPv4 checks an ATYP 1 (IPv4) header with a trailer.
func TestParseAddressIPv4(t *testing.T) {
	payload := []byte{1, 127, 0, 0, 1, 0, 80, 'h', 'e', 'l', 'l', 'o'}
	addr, err := ParseAddress(payload)
	if err != nil {
		t.Fatal(err)
	}
	if addr.Host != "127.0.0.1" || addr.Port != 80 {
		t.Fatalf("got %s:%d", addr.Host, addr.Port)
	}
	if !bytes.Equal(addr.Trailer, []byte("hello")) {
		t.Fatalf("unexpected trailer %q", addr.Trailer)
	}
}

// TestParseAddressDomain checks an ATYP 3 (domain name) header.
func TestParseAddressDomain(t *testing.T) {
	host := "example.com"
	payload := append([]byte{3, byte(len(host))}, host...)
	payload = append(payload, 0, 80)
	payload = append(payload, []byte("GET / HTTP/1.0\r\n\r\n")...)

	addr, err := ParseAddress(payload)
	if err != nil {
		t.Fatal(err)
	}
	if addr.Host != "example.com" || addr.Port != 80 {
		t.Fatalf("got %s:%d", addr.Host, addr.Port)
	}
	if string(addr.Trailer) != "GET / HTTP/1.0\r\n\r\n" {
		t.Fatalf("unexpected trailer %q", addr.Trailer)
	}
}

// TestParseAddressIPv6 checks that an ATYP 4 (IPv6) header's textual
// address comes out in canonical RFC 5952 form.
func TestParseAddressIPv6(t *testing.T) {
	payload := make([]byte, 0, 19)
	payload = append(payload, 4)
	ip := []byte{0x20, 0x01, 0x0d, 0xb8, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}
	payload = append(payload, ip...)
	payload = append(payload, 0x1f, 0x90) // port 8080

	addr, err := ParseAddress(payload)
	if err != nil {
		t.Fatal(err)
	}
	if addr.Host != "2001:db8::1" {
		t.Fatalf("expected canonical form, got %s", addr.Host)
	}
	if addr.Port != 8080 {
		t.Fatalf("got port %d", addr.Port)
	}
}

func TestParseAddressInvalidATYP(t *testing.T) {
	if _, err := ParseAddress([]byte{99, 1, 2, 3}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
}

func TestParseAddressTooShort(t *testing.T) {
	if _, err := ParseAddress([]byte{1, 127, 0, 0}); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress, got %v", err)
	}
	if _, err := ParseAddress(nil); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("expected ErrInvalidAddress for empty payload, got %v", err)
	}
}

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
	"fmt"
	"net"
)

const (
	atypIPv4   = 1
	atypDomain = 3
	atypIPv6   = 4
)

// Address is a parsed Shadowsocks address header: the target host (a
// dotted-quad, an RFC 5952 textual IPv6 address, or a raw hostname)
// and port, plus whatever bytes in the same payload followed the
// header.
type Address struct {
	Host    string
	Port    uint16
	Trailer []byte
}

// HostPort formats the address as host:port, suitable for net.Dial.
func (a Address) HostPort() string {
	return net.JoinHostPort(a.Host, fmt.Sprintf("%d", a.Port))
}

// ParseAddress parses the Shadowsocks address header that must begin
// the first decrypted payload of a connection. Any bytes following the
// header in the same payload are returned as Trailer and must be
// relayed before any later-arriving payload.
func ParseAddress(payload []byte) (Address, error) {
	if len(payload) < 1 {
		return Address{}, ErrInvalidAddress
	}
	switch payload[0] {
	case atypIPv4:
		const need = 1 + 4 + 2
		if len(payload) < need {
			return Address{}, ErrInvalidAddress
		}
		ip := net.IP(payload[1:5])
		port := binary.BigEndian.Uint16(payload[5:7])
		return Address{Host: ip.String(), Port: port, Trailer: payload[need:]}, nil

	case atypDomain:
		if len(payload) < 2 {
			return Address{}, ErrInvalidAddress
		}
		n := int(payload[1])
		need := 1 + 1 + n + 2
		if len(payload) < need {
			return Address{}, ErrInvalidAddress
		}
		host := string(payload[2 : 2+n])
		port := binary.BigEndian.Uint16(payload[2+n : 2+n+2])
		return Address{Host: host, Port: port, Trailer: payload[need:]}, nil

	case atypIPv6:
		const need = 1 + 16 + 2
		if len(payload) < need {
			return Address{}, ErrInvalidAddress
		}
		ip := net.IP(payload[1:17])
		port := binary.BigEndian.Uint16(payload[17:19])
		return Address{Host: ip.String(), Port: port, Trailer: payload[need:]}, nil

	default:
		return Address{}, ErrInvalidAddress
	}
}

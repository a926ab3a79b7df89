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

import "errors"

// Error taxonomy for the core. Authentication and protocol errors are
// never retried and never leak plaintext to the peer; the caller must
// terminate the connection silently on any of these.
var (
	// ErrUnsupportedMethod is returned at startup for an unknown cipher method.
	ErrUnsupportedMethod = errors.New("unsupported cipher method")
	// ErrAuthFailure is returned when an AEAD tag fails to verify.
	ErrAuthFailure = errors.New("AEAD authentication failed")
	// ErrInvalidFrame is returned for a length frame outside [1, 0x3FFF].
	ErrInvalidFrame = errors.New("invalid frame length")
	// ErrInvalidAddress is returned for a malformed or unsupported address header.
	ErrInvalidAddress = errors.New("invalid address header")
)

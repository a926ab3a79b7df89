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
	"container/list"
	"net"
	"sync"
)

// CipherEntry holds a CryptoContext with an identifier, for deployments
// that serve more than one pre-shared key on the same listening port.
// The public fields are constant after construction; lastClientIP is
// mutable under CipherList's lock.
type CipherEntry struct {
	ID           string
	Crypto       *CryptoContext
	lastClientIP net.IP
}

// CipherList is a list of CipherEntry elements that allows for
// thread-safe snapshotting and moving to front. A fresh connection
// tries candidates in the order SafeSnapshotForClientIP returns: keys
// last used by this client IP first, then the rest in recency order.
// This lets a multi-key server find which key decrypts an inbound
// salt without the client sending a cleartext key identifier.
type CipherList interface {
	PushBack(id string, crypto *CryptoContext) *list.Element
	SafeSnapshotForClientIP(clientIP net.IP) []*list.Element
	SafeMarkUsedByClientIP(e *list.Element, clientIP net.IP)
	Len() int
}

type cipherList struct {
	list *list.List
	mu   sync.RWMutex
}

// NewCipherList creates an empty CipherList
func NewCipherList() CipherList {
	return &cipherList{list: list.New()}
}

func (cl *cipherList) PushBack(id string, crypto *CryptoContext) *list.Element {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.list.PushBack(&CipherEntry{ID: id, Crypto: crypto})
}

func (cl *cipherList) Len() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return cl.list.Len()
}

func matchesIP(e *list.Element, clientIP net.IP) bool {
	c := e.Value.(*CipherEntry)
	return clientIP != nil && clientIP.Equal(c.lastClientIP)
}

func (cl *cipherList) SafeSnapshotForClientIP(clientIP net.IP) []*list.Element {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	cipherArray := make([]*list.Element, 0, cl.list.Len())
	remainingCiphers := make([]*list.Element, 0, cl.list.Len())
	// Put all ciphers with matching last known IP at the front.
	for e := cl.list.Front(); e != nil; e = e.Next() {
		if matchesIP(e, clientIP) {
			cipherArray = append(cipherArray, e)
		} else {
			remainingCiphers = append(remainingCiphers, e)
		}
	}
	// Include all remaining ciphers in recency order.
	return append(cipherArray, remainingCiphers...)
}

func (cl *cipherList) SafeMarkUsedByClientIP(e *list.Element, clientIP net.IP) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	cl.list.MoveToFront(e)

	c := e.Value.(*CipherEntry)
	c.lastClientIP = clientIP
}

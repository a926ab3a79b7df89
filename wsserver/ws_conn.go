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
	"sync"

	"github.com/gorilla/websocket"
)

// gorillaConn adapts *websocket.Conn to relay.WSConn. gorilla/websocket
// forbids concurrent writers, so writes are serialized with a mutex;
// reads are only ever issued from the connection's own read loop and
// need no locking.
type gorillaConn struct {
	ws *websocket.Conn

	writeMu sync.Mutex
}

func (c *gorillaConn) ReadMessage() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		return data, nil
	}
}

func (c *gorillaConn) WriteMessage(p []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteMessage(websocket.BinaryMessage, p)
}

func (c *gorillaConn) Close() error {
	return c.ws.Close()
}

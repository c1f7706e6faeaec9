// Copyright 2024 The ProbeChain Authors
// This file is part of the ProbeChain.
//
// The ProbeChain is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The ProbeChain is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the ProbeChain. If not, see <http://www.gnu.org/licenses/>.

package debug

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
)

// wsTransport adapts a *websocket.Conn to the transport interface: each DAP
// message is one text frame, so there is no Content-Length header to parse
// or emit — the websocket framing already delimits messages.
type wsTransport struct {
	conn *websocket.Conn
}

func (t *wsTransport) ReadMessage() (*ProtocolMessage, error) {
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	msg := &ProtocolMessage{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (t *wsTransport) WriteMessage(msg ProtocolMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

var upgrader = websocket.Upgrader{
	// The debug server is a developer tool accepting local/trusted editor
	// connections, not a public endpoint, so any origin is accepted rather
	// than maintaining an allowlist.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WebSocketHandler returns an http.Handler that upgrades each incoming
// connection to a websocket and runs a DAP session over it against coord,
// a remote-friendly alternative to the raw TCP transport BootstrapFromEnv
// uses (useful when the debugger client lives behind infrastructure that
// only forwards HTTP, not arbitrary TCP).
func WebSocketHandler(coord *Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		session := newSession(coord, &wsTransport{conn: conn})
		session.run()
	})
}

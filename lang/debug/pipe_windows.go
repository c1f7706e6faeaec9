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

//go:build windows

package debug

import (
	"log"

	"gopkg.in/natefinch/npipe.v2"
)

// ListenNamedPipe serves DAP sessions against coord over a Windows named
// pipe at path (e.g. `\\.\pipe\etch-debug`), the Windows-native substitute
// for the Unix-domain-socket-like transports BootstrapFromEnv's raw TCP
// listener stands in for on other platforms. Grounded on the same
// accept-loop-in-a-goroutine shape BootstrapFromEnv and the pack's own TCP
// server use, swapping net.Listen for npipe.Listen; named pipes otherwise
// behave like a net.Listener/net.Conn pair.
func ListenNamedPipe(path string, coord *Coordinator) (func() error, error) {
	ln, err := npipe.Listen(path)
	if err != nil {
		return nil, err
	}

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				session := newSession(coord, newStreamTransport(conn))
				if err := session.run(); err != nil {
					log.Printf("debug: named pipe session ended: %v", err)
				}
			}()
		}
	}()

	return ln.Close, nil
}

// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package sensoplex

import "fmt"

// State is the session's connection lifecycle state
type State int

// Session states
const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateReady
	StateFailedToConnect
	StateTransportError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateScanning:
		return "SCANNING"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReady:
		return "READY"
	case StateFailedToConnect:
		return "FAILED_TO_CONNECT"
	case StateTransportError:
		return "TRANSPORT_ERROR"
	default:
		return fmt.Sprintf("STATE_%d", int(s))
	}
}

// Linked reports whether the transport holds a connection in this state
func (s State) Linked() bool {
	return s == StateConnected || s == StateReady || s == StateTransportError
}

// idle reports whether a new connection attempt may start from this state
func (s State) idle() bool {
	return s == StateDisconnected || s == StateFailedToConnect
}

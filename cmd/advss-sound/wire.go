package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ============================================================================
// Host Wire Protocol
// ============================================================================
// JSON text frames, one message per frame:
//
//   {"op": "call",        "id": 1, "name": "advss_register_script_action", "data": {...}}
//   {"op": "call_result", "id": 1, "data": {"success": true, ...}}
//   {"op": "connect",     "name": "<signal>"}
//   {"op": "disconnect",  "name": "<signal>"}
//   {"op": "signal",      "id": 7, "name": "<signal>", "data": {...}}
//   {"op": "signal_done", "id": 7, "name": "<signal>", "data": {...}}
//
// A host signal with a non-zero id is synchronous: the host waits for the
// matching signal_done, which carries the payload as modified by the handler.
// Signals sent by the plugin (completions) never carry an id.
// ============================================================================

type hostOp string

const (
	opCall       hostOp = "call"
	opCallResult hostOp = "call_result"
	opConnect    hostOp = "connect"
	opDisconnect hostOp = "disconnect"
	opSignal     hostOp = "signal"
	opSignalDone hostOp = "signal_done"
)

func (o hostOp) valid() bool {
	switch o {
	case opCall, opCallResult, opConnect, opDisconnect, opSignal, opSignalDone:
		return true
	}
	return false
}

type hostMessage struct {
	Op   hostOp   `json:"op"`
	ID   uint64   `json:"id,omitempty"`
	Name string   `json:"name,omitempty"`
	Data CallData `json:"data,omitempty"`
}

var errUnknownOp = errors.New("unknown op")

func encodeHostMessage(m hostMessage) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s message: %w", m.Op, err)
	}
	return b, nil
}

// decodeHostMessage parses one frame. Numbers are kept as json.Number so
// large correlation ids survive the round trip unchanged.
func decodeHostMessage(b []byte) (hostMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var m hostMessage
	if err := dec.Decode(&m); err != nil {
		return hostMessage{}, fmt.Errorf("decode host message: %w", err)
	}
	if !m.Op.valid() {
		return hostMessage{}, fmt.Errorf("decode host message: %w %q", errUnknownOp, m.Op)
	}
	return m, nil
}

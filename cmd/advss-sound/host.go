package main

import "context"

// ============================================================================
// Host Buses
// ============================================================================
// The host exposes two buses:
//   - a procedure bus: named, synchronous request/response calls
//   - a signal bus: named, asynchronous notifications in both directions
//
// Signals delivered by the host run on a single dispatch goroutine (the
// "host thread"). Handlers for synchronous signals (properties, new instance)
// must finish their work before returning; the trigger handler must not block.
// ============================================================================

// ProcBus performs synchronous procedure calls against the host.
// Implementations must be safe for concurrent use.
type ProcBus interface {
	Call(ctx context.Context, proc string, data CallData) (CallData, error)
}

// SignalHandler reacts to one host signal. The payload may be modified in
// place; for synchronous signals the modified payload is returned to the host.
type SignalHandler interface {
	HandleSignal(data CallData)
}

// SignalHandlerFunc adapts a function to SignalHandler.
type SignalHandlerFunc func(data CallData)

func (f SignalHandlerFunc) HandleSignal(data CallData) { f(data) }

// SignalBus subscribes handlers to host signals and emits signals to the host.
// Signal must be safe to call from any goroutine.
type SignalBus interface {
	Connect(signal string, h SignalHandler) error
	Disconnect(signal string) error
	Signal(signal string, data CallData) error
}

// HostBus is the full host surface used by the plugin.
type HostBus interface {
	ProcBus
	SignalBus
}

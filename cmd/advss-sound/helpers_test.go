package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// waitUntil polls cond until it returns true or the timeout elapses.
func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

type procCall struct {
	Proc string
	Data CallData
}

type emittedSignal struct {
	Name string
	Data CallData
}

type tempVarKey struct {
	id         string
	instanceID int64
}

// fakeHost is an in-memory host implementing both buses. It behaves like the
// advanced scene switcher: segment names are unique per kind, temp vars must
// be registered for an instance before they can be set, and variables are a
// flat string map.
type fakeHost struct {
	mu sync.Mutex

	calls       []procCall
	handlers    map[string]SignalHandler
	connects    []string
	disconnects []string
	emitted     chan emittedSignal

	actions    map[string]bool
	conditions map[string]bool
	tempVars   map[tempVarKey]string
	registered map[tempVarKey]bool
	variables  map[string]string

	// overrides for individual procedures
	procs      map[string]func(CallData) CallData
	callErr    error
	connectErr func(signal string) error
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		handlers:   make(map[string]SignalHandler),
		emitted:    make(chan emittedSignal, 128),
		actions:    make(map[string]bool),
		conditions: make(map[string]bool),
		tempVars:   make(map[tempVarKey]string),
		registered: make(map[tempVarKey]bool),
		variables:  make(map[string]string),
		procs:      make(map[string]func(CallData) CallData),
	}
}

var _ HostBus = (*fakeHost)(nil)

// Handle overrides the response for proc.
func (h *fakeHost) Handle(proc string, fn func(CallData) CallData) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.procs[proc] = fn
}

func (h *fakeHost) Call(_ context.Context, proc string, data CallData) (CallData, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, procCall{Proc: proc, Data: data.Clone()})
	if h.callErr != nil {
		return nil, h.callErr
	}
	if fn, ok := h.procs[proc]; ok {
		return fn(data), nil
	}

	switch proc {
	case procRegisterAction:
		return h.registerSegment(h.actions, "action", data), nil
	case procRegisterCondition:
		return h.registerSegment(h.conditions, "condition", data), nil
	case procDeregisterAction:
		return h.deregisterSegment(h.actions, data), nil
	case procDeregisterCondition:
		return h.deregisterSegment(h.conditions, data), nil

	case procRegisterTempVar:
		key := tempVarKey{id: data.String(fieldTempVarID), instanceID: data.Int(fieldInstanceID)}
		h.registered[key] = true
		return CallData{fieldSuccess: true}, nil

	case procSetTempVarValue:
		key := tempVarKey{id: data.String(fieldTempVarID), instanceID: data.Int(fieldInstanceID)}
		if !h.registered[key] {
			return CallData{fieldSuccess: false}, nil
		}
		h.tempVars[key] = data.String(fieldValue)
		return CallData{fieldSuccess: true}, nil

	case procGetVariableValue:
		v, ok := h.variables[data.String(fieldName)]
		if !ok {
			return CallData{fieldSuccess: false}, nil
		}
		return CallData{fieldSuccess: true, fieldValue: v}, nil

	case procSetVariableValue:
		name := data.String(fieldName)
		if name == "" {
			return CallData{fieldSuccess: false}, nil
		}
		h.variables[name] = data.String(fieldValue)
		return CallData{fieldSuccess: true}, nil
	}

	return CallData{}, nil
}

func (h *fakeHost) registerSegment(names map[string]bool, kind string, data CallData) CallData {
	name := data.String(fieldName)
	if name == "" || names[name] {
		return CallData{fieldSuccess: false}
	}
	names[name] = true
	return CallData{
		fieldSuccess:           true,
		fieldTriggerSignal:     fmt.Sprintf("%s_%s_trigger", kind, name),
		fieldPropertiesSignal:  fmt.Sprintf("%s_%s_properties", kind, name),
		fieldNewInstanceSignal: fmt.Sprintf("%s_%s_new_instance", kind, name),
	}
}

func (h *fakeHost) deregisterSegment(names map[string]bool, data CallData) CallData {
	name := data.String(fieldName)
	if !names[name] {
		return CallData{fieldSuccess: false}
	}
	delete(names, name)
	return CallData{fieldSuccess: true}
}

func (h *fakeHost) Connect(signal string, handler SignalHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.connectErr != nil {
		if err := h.connectErr(signal); err != nil {
			return err
		}
	}
	h.handlers[signal] = handler
	h.connects = append(h.connects, signal)
	return nil
}

func (h *fakeHost) Disconnect(signal string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handlers, signal)
	h.disconnects = append(h.disconnects, signal)
	return nil
}

func (h *fakeHost) Signal(signal string, data CallData) error {
	h.emitted <- emittedSignal{Name: signal, Data: data.Clone()}
	return nil
}

// Fire delivers a host signal to the connected handler, synchronously, like
// the host's dispatch goroutine does. It reports whether a handler existed.
func (h *fakeHost) Fire(signal string, data CallData) bool {
	h.mu.Lock()
	handler := h.handlers[signal]
	h.mu.Unlock()

	if handler == nil {
		return false
	}
	handler.HandleSignal(data)
	return true
}

func (h *fakeHost) callsTo(proc string) []CallData {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []CallData
	for _, c := range h.calls {
		if c.Proc == proc {
			out = append(out, c.Data)
		}
	}
	return out
}

func (h *fakeHost) connected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.connects...)
}

func (h *fakeHost) disconnected() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.disconnects...)
}

func (h *fakeHost) tempVar(id string, instanceID int64) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	v, ok := h.tempVars[tempVarKey{id: id, instanceID: instanceID}]
	return v, ok
}

func (h *fakeHost) setVariable(name, value string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.variables[name] = value
}

// nextSignal waits for the next emitted signal.
func (h *fakeHost) nextSignal(t *testing.T, timeout time.Duration) emittedSignal {
	t.Helper()
	select {
	case s := <-h.emitted:
		return s
	case <-time.After(timeout):
		t.Fatalf("no signal emitted within %s", timeout)
		return emittedSignal{}
	}
}

// noSignal asserts that nothing is emitted for d.
func (h *fakeHost) noSignal(t *testing.T, d time.Duration) {
	t.Helper()
	select {
	case s := <-h.emitted:
		t.Fatalf("unexpected signal %q: %v", s.Name, s.Data)
	case <-time.After(d):
	}
}

// testRig bundles the plugin components on top of a fakeHost.
type testRig struct {
	host       *fakeHost
	gateway    *Gateway
	dispatcher *Dispatcher
	tempVars   *TempVars
	variables  *Variables
	registry   *Registry
	metrics    *Metrics
}

func newTestRig(t *testing.T, callbackTimeout time.Duration) *testRig {
	t.Helper()

	logger := discardLogger()
	host := newFakeHost()
	metrics := NewMetrics()
	gw := NewGateway(host, time.Second, logger, metrics)
	dispatcher := NewDispatcher(host, callbackTimeout, logger, metrics)
	tempVars := NewTempVars(gw, logger)

	rig := &testRig{
		host:       host,
		gateway:    gw,
		dispatcher: dispatcher,
		tempVars:   tempVars,
		variables:  NewVariables(gw, logger),
		registry:   NewRegistry(gw, host, dispatcher, tempVars, logger, metrics),
		metrics:    metrics,
	}

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = dispatcher.Wait(ctx)
	})
	return rig
}

// trigger builds a trigger payload the way the host sends it.
func trigger(completionID, instanceID int64, settings string) CallData {
	return CallData{
		fieldCompletionSignal: "advss_completion",
		fieldCompletionID:     completionID,
		fieldInstanceID:       instanceID,
		fieldSettings:         settings,
	}
}

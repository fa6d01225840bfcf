package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ============================================================================
// Async Dispatch Bridge
// ============================================================================
// A trigger signal arrives on the host's dispatch goroutine. The dispatcher
// copies what it needs out of the payload, starts one worker goroutine and
// returns immediately. The worker decodes the settings, runs the segment
// callback, releases the settings and emits exactly one completion signal:
//
//   received -> decoding -> running -> completing -> done
//
// Every exit path (error, panic, decode failure, timeout) completes with
// result=false so the host's pending macro never waits forever.
// ============================================================================

var (
	errCallbackPanic   = errors.New("segment callback panicked")
	errCallbackTimeout = errors.New("segment callback timed out")
)

type invocationState int

const (
	stateReceived invocationState = iota
	stateDecoding
	stateRunning
	stateCompleting
	stateDone
)

func (s invocationState) String() string {
	switch s {
	case stateReceived:
		return "received"
	case stateDecoding:
		return "decoding"
	case stateRunning:
		return "running"
	case stateCompleting:
		return "completing"
	case stateDone:
		return "done"
	default:
		return "unknown"
	}
}

// invocation is the trigger payload captured by value. The host's payload must
// not be referenced after the trigger handler returns.
type invocation struct {
	id               uuid.UUID
	kind             SegmentKind
	segment          string
	completionSignal string
	completionID     int64
	instanceID       int64
	settingsJSON     string
	receivedAt       time.Time
}

// outcome is what the worker body produced.
type outcome struct {
	value bool
	err   error
}

// result maps an outcome to the completion result. Actions always succeed once
// they ran without error; conditions report their value.
func (o outcome) result(kind SegmentKind) bool {
	if o.err != nil {
		return false
	}
	if kind == SegmentAction {
		return true
	}
	return o.value
}

// Dispatcher runs segment callbacks off the host's dispatch goroutine.
type Dispatcher struct {
	signals SignalBus
	timeout time.Duration
	decode  func(raw string) (*Settings, error)
	logger  *slog.Logger
	metrics *Metrics

	mu     sync.Mutex
	closed bool // set by Wait; later triggers complete at once
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher. A non-positive timeout waits for
// callbacks indefinitely.
func NewDispatcher(signals SignalBus, timeout time.Duration, logger *slog.Logger, metrics *Metrics) *Dispatcher {
	return &Dispatcher{
		signals: signals,
		timeout: timeout,
		decode:  ParseSettings,
		logger:  logger,
		metrics: metrics,
	}
}

// Trigger captures the invocation context from a trigger payload and starts a
// worker. It never blocks. Once Wait has been called no worker is started and
// the invocation completes with false.
func (d *Dispatcher) Trigger(seg Segment, data CallData) {
	inv := invocation{
		id:               uuid.New(),
		kind:             seg.Kind,
		segment:          seg.Name,
		completionSignal: data.String(fieldCompletionSignal),
		completionID:     data.Int(fieldCompletionID),
		instanceID:       data.Int(fieldInstanceID),
		settingsJSON:     settingsPayload(data),
		receivedAt:       time.Now(),
	}

	logger := d.invocationLogger(inv)
	if inv.completionSignal == "" {
		logger.Error("trigger without completion signal name; cannot report result")
		return
	}
	logger.Debug("invocation", "state", stateReceived)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logger.Warn("trigger after shutdown began; completing without running")
		d.complete(inv, false, logger)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	d.metrics.InvocationStarted()
	go d.run(inv, seg.Run, logger)
}

// Wait stops accepting new invocations and blocks until all in-flight ones
// have completed or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) run(inv invocation, fn SegmentFunc, logger *slog.Logger) {
	defer d.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var res outcome
	if d.timeout <= 0 {
		res = d.execute(ctx, inv, fn, logger)
	} else {
		done := make(chan outcome, 1)
		go func() { done <- d.execute(ctx, inv, fn, logger) }()

		timer := time.NewTimer(d.timeout)
		select {
		case res = <-done:
			timer.Stop()
		case <-timer.C:
			cancel()
			res = outcome{err: fmt.Errorf("%w after %s", errCallbackTimeout, d.timeout)}
		}
	}

	result := res.result(inv.kind)
	if res.err != nil {
		logger.Warn("segment callback failed", "error", res.err)
	}

	d.complete(inv, result, logger)
	d.metrics.InvocationCompleted(inv.kind, inv.segment, result, time.Since(inv.receivedAt))
	logger.Debug("invocation", "state", stateDone, "result", result)
}

// execute decodes the settings and runs the callback. The settings are
// released on every path, including a panicking callback.
func (d *Dispatcher) execute(ctx context.Context, inv invocation, fn SegmentFunc, logger *slog.Logger) (res outcome) {
	logger.Debug("invocation", "state", stateDecoding)
	settings, err := d.decode(inv.settingsJSON)
	if err != nil {
		return outcome{err: fmt.Errorf("decode settings: %w", err)}
	}
	defer settings.Release()

	defer func() {
		if p := recover(); p != nil {
			res = outcome{err: fmt.Errorf("%w: %v", errCallbackPanic, p)}
		}
	}()

	logger.Debug("invocation", "state", stateRunning)
	value, err := fn(ctx, settings, inv.instanceID)
	return outcome{value: value, err: err}
}

func (d *Dispatcher) complete(inv invocation, result bool, logger *slog.Logger) {
	logger.Debug("invocation", "state", stateCompleting, "result", result)

	reply := CallData{
		fieldCompletionID: inv.completionID,
		fieldResult:       result,
	}
	if err := d.signals.Signal(inv.completionSignal, reply); err != nil {
		logger.Error("failed to emit completion signal", "signal", inv.completionSignal, "error", err)
	}
}

// settingsPayload returns the trigger's settings as JSON text. Hosts send a
// JSON string; an inline object is re-encoded.
func settingsPayload(data CallData) string {
	switch v := data[fieldSettings].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

func (d *Dispatcher) invocationLogger(inv invocation) *slog.Logger {
	return d.logger.With(
		"invocation_id", inv.id.String(),
		"kind", inv.kind.String(),
		"segment", inv.segment,
		"instance_id", inv.instanceID,
		"completion_id", inv.completionID,
	)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// ============================================================================
// Host Client - WebSocket transport for both host buses
// ============================================================================
// Goroutines:
//   - reader:   reads frames, hands call results to the waiting caller by id
//               and appends signals to the dispatch queue
//   - dispatch: the "host thread"; runs signal handlers one at a time in
//               arrival order and answers synchronous signals
//
// The dispatch queue is unbounded so the reader keeps routing call results
// while a handler is blocked in a procedure call of its own.
// ============================================================================

var errHostClosed = errors.New("host connection closed")

// HostClientOptions tunes the initial connection.
type HostClientOptions struct {
	HandshakeTimeout time.Duration
	ConnectAttempts  int
	RetryDelay       time.Duration
}

func (o HostClientOptions) withDefaults() HostClientOptions {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = time.Duration(defaultHandshakeTimeoutMS) * time.Millisecond
	}
	if o.ConnectAttempts <= 0 {
		o.ConnectAttempts = defaultConnectAttempts
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = connectRetryDelay
	}
	return o
}

// HostClient implements HostBus over a websocket connection.
type HostClient struct {
	url    string
	logger *slog.Logger
	opts   HostClientOptions

	conn    *websocket.Conn
	writeMu sync.Mutex
	nextID  atomic.Uint64

	mu       sync.Mutex
	pending  map[uint64]chan CallData
	handlers map[string]SignalHandler

	queueMu sync.Mutex
	queue   []hostMessage
	notify  chan struct{}

	closeOnce sync.Once
	closeErr  error
	done      chan struct{} // closed when the connection is gone
	stopped   chan struct{} // closed when the dispatch goroutine has exited
}

var _ HostBus = (*HostClient)(nil)

// DialHost connects to the host and starts the reader and dispatch goroutines.
func DialHost(ctx context.Context, wsURL string, logger *slog.Logger, opts HostClientOptions) (*HostClient, error) {
	if _, err := url.Parse(wsURL); err != nil {
		return nil, fmt.Errorf("invalid host websocket URL: %w", err)
	}

	c := &HostClient{
		url:      wsURL,
		logger:   logger,
		opts:     opts.withDefaults(),
		pending:  make(map[uint64]chan CallData),
		handlers: make(map[string]SignalHandler),
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}

	if err := c.connectWithRetry(ctx); err != nil {
		return nil, err
	}

	go c.readLoop()
	go c.dispatchLoop()

	return c, nil
}

func (c *HostClient) connect(ctx context.Context) error {
	d := websocket.Dialer{
		HandshakeTimeout: c.opts.HandshakeTimeout,
	}

	conn, _, err := d.DialContext(ctx, c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

func (c *HostClient) connectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; attempt < c.opts.ConnectAttempts; attempt++ {
		err := c.connect(ctx)
		if err == nil {
			c.logger.Info("connected to host", "url", c.url)
			return nil
		}
		lastErr = err
		c.logger.Warn("host connection failed; retrying...", "error", err, "attempt", attempt+1)

		select {
		case <-ctx.Done():
			return fmt.Errorf("connect to host: %w", ctx.Err())
		case <-time.After(c.opts.RetryDelay):
		}
	}
	return fmt.Errorf("failed to connect to host after %d attempts: %w", c.opts.ConnectAttempts, lastErr)
}

// Run keeps the connection alive until ctx is canceled or the connection
// drops. It does not close the connection on cancellation; call Close once
// the plugin has been unloaded.
func (c *HostClient) Run(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.done:
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("host connection lost: %w", c.Err())
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.logger.Warn("host ping failed", "error", err)
			}
		}
	}
}

// Err returns why the connection closed, or nil while it is open.
func (c *HostClient) Err() error {
	select {
	case <-c.done:
		return c.closeErr
	default:
		return nil
	}
}

// Close closes the connection, fails pending calls and waits for the dispatch
// goroutine to finish the handler it is running.
func (c *HostClient) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait),
	)
	c.writeMu.Unlock()

	c.shutdown(errHostClosed)
	<-c.stopped
	return nil
}

func (c *HostClient) shutdown(err error) {
	c.closeOnce.Do(func() {
		if err == nil {
			err = errHostClosed
		}
		c.closeErr = err
		close(c.done)
		_ = c.conn.Close()
	})
}

// ============================================================================
// ProcBus / SignalBus
// ============================================================================

// Call sends a procedure call and waits for its result.
func (c *HostClient) Call(ctx context.Context, proc string, data CallData) (CallData, error) {
	id := c.nextID.Add(1)
	ch := make(chan CallData, 1)

	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.write(hostMessage{Op: opCall, ID: id, Name: proc, Data: data}); err != nil {
		return nil, fmt.Errorf("call %s: %w", proc, err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("call %s: %w", proc, ctx.Err())
	case <-c.done:
		return nil, fmt.Errorf("call %s: %w", proc, errHostClosed)
	}
}

// Connect subscribes h to signal. A later Connect for the same signal
// replaces the handler.
func (c *HostClient) Connect(signal string, h SignalHandler) error {
	c.mu.Lock()
	c.handlers[signal] = h
	c.mu.Unlock()

	if err := c.write(hostMessage{Op: opConnect, Name: signal}); err != nil {
		c.mu.Lock()
		delete(c.handlers, signal)
		c.mu.Unlock()
		return fmt.Errorf("connect %s: %w", signal, err)
	}
	return nil
}

// Disconnect removes the handler for signal. The handler is removed locally
// even if the host cannot be told.
func (c *HostClient) Disconnect(signal string) error {
	c.mu.Lock()
	delete(c.handlers, signal)
	c.mu.Unlock()

	if err := c.write(hostMessage{Op: opDisconnect, Name: signal}); err != nil {
		return fmt.Errorf("disconnect %s: %w", signal, err)
	}
	return nil
}

// Signal emits signal to the host.
func (c *HostClient) Signal(signal string, data CallData) error {
	if err := c.write(hostMessage{Op: opSignal, Name: signal, Data: data}); err != nil {
		return fmt.Errorf("signal %s: %w", signal, err)
	}
	return nil
}

func (c *HostClient) write(m hostMessage) error {
	select {
	case <-c.done:
		return errHostClosed
	default:
	}

	payload, err := encodeHostMessage(m)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.shutdown(err)
		return err
	}
	return nil
}

// ============================================================================
// Reader / dispatch
// ============================================================================

func (c *HostClient) readLoop() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Warn("host connection read failed", "error", err)
			}
			c.shutdown(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		m, err := decodeHostMessage(frame)
		if err != nil {
			c.logger.Warn("dropping malformed host frame", "error", err)
			continue
		}

		switch m.Op {
		case opCallResult:
			c.mu.Lock()
			ch := c.pending[m.ID]
			delete(c.pending, m.ID)
			c.mu.Unlock()

			if ch == nil {
				c.logger.Debug("call result without pending call", "id", m.ID)
				continue
			}
			if m.Data == nil {
				m.Data = CallData{}
			}
			ch <- m.Data

		case opSignal:
			c.enqueue(m)

		default:
			c.logger.Debug("ignoring host frame", "op", m.Op)
		}
	}
}

func (c *HostClient) enqueue(m hostMessage) {
	c.queueMu.Lock()
	c.queue = append(c.queue, m)
	c.queueMu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *HostClient) dispatchLoop() {
	defer close(c.stopped)

	for {
		select {
		case <-c.done:
			return
		case <-c.notify:
		}

		for {
			c.queueMu.Lock()
			batch := c.queue
			c.queue = nil
			c.queueMu.Unlock()

			if len(batch) == 0 {
				break
			}
			for _, m := range batch {
				select {
				case <-c.done:
					return
				default:
				}
				c.dispatch(m)
			}
		}
	}
}

// dispatch runs the handler for one host signal and, for synchronous
// signals, returns the (possibly modified) payload to the host.
func (c *HostClient) dispatch(m hostMessage) {
	c.mu.Lock()
	h := c.handlers[m.Name]
	c.mu.Unlock()

	data := m.Data
	if data == nil {
		data = CallData{}
	}

	if h == nil {
		c.logger.Debug("no handler for host signal", "signal", m.Name)
	} else {
		c.runHandler(m.Name, h, data)
	}

	if m.ID == 0 {
		return
	}
	if err := c.write(hostMessage{Op: opSignalDone, ID: m.ID, Name: m.Name, Data: data}); err != nil {
		c.logger.Warn("failed to acknowledge host signal", "signal", m.Name, "error", err)
	}
}

func (c *HostClient) runHandler(signal string, h SignalHandler, data CallData) {
	defer func() {
		if p := recover(); p != nil {
			c.logger.Error("signal handler panicked", "signal", signal, "panic", p)
		}
	}()
	h.HandleSignal(data)
}

package main

import (
	"context"
	"log/slog"
	"time"
)

// Gateway wraps the host procedure bus. Every request/response pair is one
// blocking call and the outcome is reduced to the host's success flag.
type Gateway struct {
	bus     ProcBus
	timeout time.Duration
	logger  *slog.Logger
	metrics *Metrics
}

// NewGateway creates a gateway. A non-positive timeout disables the per-call deadline.
func NewGateway(bus ProcBus, timeout time.Duration, logger *slog.Logger, metrics *Metrics) *Gateway {
	return &Gateway{
		bus:     bus,
		timeout: timeout,
		logger:  logger,
		metrics: metrics,
	}
}

// Call invokes proc with req. Transport errors and a false or missing
// "success" field are both reported as false; the response is never nil.
func (g *Gateway) Call(proc string, req CallData) (bool, CallData) {
	ctx := context.Background()
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if req == nil {
		req = CallData{}
	}

	resp, err := g.bus.Call(ctx, proc, req)
	if err != nil {
		g.logger.Warn("host procedure call failed", "proc", proc, "error", err)
		g.metrics.ObserveProcCall(proc, false)
		return false, CallData{}
	}
	if resp == nil {
		resp = CallData{}
	}

	ok := resp.Bool(fieldSuccess)
	g.metrics.ObserveProcCall(proc, ok)
	g.logger.Debug("host procedure call", "proc", proc, "success", ok)
	return ok, resp
}

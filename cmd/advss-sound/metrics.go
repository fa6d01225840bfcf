package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the plugin's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	registrations *prometheus.CounterVec
	invocations   *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	inFlight      prometheus.Gauge
	procCalls     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		registrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "advss",
				Subsystem: "segment",
				Name:      "registrations_total",
				Help:      "Segment registration attempts.",
			},
			[]string{"kind", "success"},
		),
		invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "advss",
				Subsystem: "segment",
				Name:      "invocations_total",
				Help:      "Completed segment invocations.",
			},
			[]string{"kind", "segment", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "advss",
				Subsystem: "segment",
				Name:      "invocation_duration_seconds",
				Help:      "Time from trigger to completion signal.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"kind", "segment"},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "advss",
				Subsystem: "segment",
				Name:      "invocations_in_flight",
				Help:      "Invocations whose completion has not been emitted yet.",
			},
		),
		procCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "advss",
				Subsystem: "host",
				Name:      "proc_calls_total",
				Help:      "Host procedure calls.",
			},
			[]string{"proc", "success"},
		),
	}
	m.registry.MustRegister(m.registrations, m.invocations, m.duration, m.inFlight, m.procCalls)
	return m
}

// Registry exposes the underlying registry (used by tests and the HTTP handler).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ObserveRegistration(kind SegmentKind, success bool) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(kind.String(), strconv.FormatBool(success)).Inc()
}

func (m *Metrics) InvocationStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

func (m *Metrics) InvocationCompleted(kind SegmentKind, segment string, result bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	m.invocations.WithLabelValues(kind.String(), segment, strconv.FormatBool(result)).Inc()
	m.duration.WithLabelValues(kind.String(), segment).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveProcCall(proc string, success bool) {
	if m == nil {
		return
	}
	m.procCalls.WithLabelValues(proc, strconv.FormatBool(success)).Inc()
}

// runMetricsServer serves /metrics on addr and shuts down gracefully when ctx
// is canceled.
func runMetricsServer(ctx context.Context, addr string, m *Metrics, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.Registry(), promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("metrics server listening", "addr", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("metrics server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}

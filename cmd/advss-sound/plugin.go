package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var errNothingRegistered = errors.New("no segment could be registered with the host")

// Plugin wires the host bus to the registry and the concrete segments.
// Load corresponds to the host's script load, Unload to script unload.
type Plugin struct {
	cfg     Config
	logger  *slog.Logger
	metrics *Metrics

	gateway    *Gateway
	dispatcher *Dispatcher
	tempVars   *TempVars
	variables  *Variables
	registry   *Registry

	segments []Segment
}

// NewPlugin builds the plugin's components on top of host. player may be nil
// when the sound action is disabled.
func NewPlugin(cfg Config, host HostBus, player Player, logger *slog.Logger, metrics *Metrics) *Plugin {
	gw := NewGateway(host, cfg.HostTimeout(), logger.With("component", "gateway"), metrics)
	dispatcher := NewDispatcher(host, cfg.CallbackTimeout(), logger.With("component", "dispatch"), metrics)
	tempVars := NewTempVars(gw, logger.With("component", "tempvars"))
	variables := NewVariables(gw, logger.With("component", "variables"))
	registry := NewRegistry(gw, host, dispatcher, tempVars, logger.With("component", "registry"), metrics)

	p := &Plugin{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		gateway:    gw,
		dispatcher: dispatcher,
		tempVars:   tempVars,
		variables:  variables,
		registry:   registry,
	}

	if cfg.Sound.Enabled && player != nil {
		sound := NewSoundAction(cfg.Sound.Name, player, variables, logger.With("segment", cfg.Sound.Name))
		p.segments = append(p.segments, sound.Segment())
	}
	if cfg.Expression.Enabled {
		cond := NewExpressionCondition(cfg.Expression.Name, variables, tempVars, logger.With("segment", cfg.Expression.Name))
		p.segments = append(p.segments, cond.Segment())
	}

	return p
}

// Load registers every configured segment. Individual failures are logged by
// the registry; Load fails only if nothing could be registered.
func (p *Plugin) Load() error {
	registered := 0
	for _, seg := range p.segments {
		if p.registry.Register(seg) {
			registered++
		}
	}

	p.logger.Info("plugin loaded", "registered", registered, "configured", len(p.segments))
	if registered == 0 {
		return fmt.Errorf("load plugin: %w", errNothingRegistered)
	}
	return nil
}

// Unload deregisters all segments and waits for in-flight invocations.
func (p *Plugin) Unload(ctx context.Context) error {
	p.registry.Close()

	if err := p.dispatcher.Wait(ctx); err != nil {
		return fmt.Errorf("unload plugin: waiting for invocations: %w", err)
	}
	p.logger.Info("plugin unloaded")
	return nil
}

func (p *Plugin) Registry() *Registry   { return p.registry }
func (p *Plugin) Variables() *Variables { return p.variables }
func (p *Plugin) TempVars() *TempVars   { return p.tempVars }

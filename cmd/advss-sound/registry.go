package main

import (
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// ============================================================================
// Segment Registry
// ============================================================================
// Registers macro actions/conditions with the host and wires the three host
// signals scoped to each registration:
//   - trigger:      run the segment (asynchronously, see Dispatcher)
//   - properties:   return the UI schema (synchronously)
//   - new instance: register macro properties for the instance (synchronously)
//
// The host decides whether a name is a duplicate; this layer only reports the
// host's success flag.
// ============================================================================

// Registry owns the registered segments for the lifetime of the plugin.
type Registry struct {
	gateway    *Gateway
	signals    SignalBus
	dispatcher *Dispatcher
	tempVars   *TempVars
	logger     *slog.Logger
	metrics    *Metrics

	mu       sync.Mutex
	segments map[segmentKey]*registration
}

type registration struct {
	segment Segment
	signals []string // connected signal names, in connection order
}

// NewRegistry creates an empty registry.
func NewRegistry(gateway *Gateway, signals SignalBus, dispatcher *Dispatcher, tempVars *TempVars, logger *slog.Logger, metrics *Metrics) *Registry {
	return &Registry{
		gateway:    gateway,
		signals:    signals,
		dispatcher: dispatcher,
		tempVars:   tempVars,
		logger:     logger,
		metrics:    metrics,
		segments:   make(map[segmentKey]*registration),
	}
}

// Register registers seg with the host and subscribes its signal handlers.
// It returns false (after logging) if the host rejects the registration.
func (r *Registry) Register(seg Segment) bool {
	logger := r.logger.With("kind", seg.Kind.String(), "segment", seg.Name)

	if seg.Name == "" || seg.Run == nil {
		logger.Warn("refusing to register segment without name or callback")
		return false
	}
	seg.MacroProperties = slices.Clone(seg.MacroProperties)

	req := CallData{
		fieldName:            seg.Name,
		fieldDefaultSettings: seg.DefaultSettings,
	}
	if seg.DefaultSettings == nil {
		req[fieldDefaultSettings] = nil
	}

	ok, resp := r.gateway.Call(seg.Kind.registerProc(), req)
	r.metrics.ObserveRegistration(seg.Kind, ok)
	if !ok {
		logger.Warn("failed to register custom segment")
		return false
	}

	reg := &registration{segment: seg}

	// Without a trigger subscriber the host would wait forever on every
	// invocation, so the registration is rolled back.
	if !r.connect(reg, logger, resp.String(fieldTriggerSignal), &triggerHandler{
		segment:    seg,
		dispatcher: r.dispatcher,
	}) {
		r.rollback(seg, logger)
		return false
	}
	r.connect(reg, logger, resp.String(fieldPropertiesSignal), &propertiesHandler{
		provider: seg.Properties,
	})
	if len(seg.MacroProperties) > 0 {
		r.connect(reg, logger, resp.String(fieldNewInstanceSignal), &newInstanceHandler{
			segment:  seg,
			tempVars: r.tempVars,
		})
	}

	r.mu.Lock()
	r.segments[segmentKey{kind: seg.Kind, name: seg.Name}] = reg
	r.mu.Unlock()

	logger.Info("registered custom segment", "signals", reg.signals)
	return true
}

func (r *Registry) connect(reg *registration, logger *slog.Logger, signal string, h SignalHandler) bool {
	if signal == "" {
		logger.Warn("host returned empty signal name; handler not connected", "handler", handlerName(h))
		return false
	}
	if err := r.signals.Connect(signal, h); err != nil {
		logger.Warn("failed to connect signal handler", "signal", signal, "handler", handlerName(h), "error", err)
		return false
	}
	reg.signals = append(reg.signals, signal)
	return true
}

// rollback undoes a host registration whose trigger could not be connected.
func (r *Registry) rollback(seg Segment, logger *slog.Logger) {
	logger.Warn("trigger handler not connected; deregistering segment")
	if ok, _ := r.gateway.Call(seg.Kind.deregisterProc(), CallData{fieldName: seg.Name}); !ok {
		logger.Warn("failed to deregister custom segment")
	}
}

// Deregister removes a segment from the host. Local signal handlers are
// disconnected whatever the host answers.
func (r *Registry) Deregister(kind SegmentKind, name string) bool {
	logger := r.logger.With("kind", kind.String(), "segment", name)

	ok, _ := r.gateway.Call(kind.deregisterProc(), CallData{fieldName: name})
	if !ok {
		logger.Warn("failed to deregister custom segment")
	}

	key := segmentKey{kind: kind, name: name}
	r.mu.Lock()
	reg := r.segments[key]
	delete(r.segments, key)
	r.mu.Unlock()

	if reg != nil {
		for _, sig := range reg.signals {
			if err := r.signals.Disconnect(sig); err != nil {
				logger.Debug("failed to disconnect signal handler", "signal", sig, "error", err)
			}
		}
	}

	if ok {
		logger.Info("deregistered custom segment")
	}
	return ok
}

// Close deregisters every registered segment.
func (r *Registry) Close() {
	r.mu.Lock()
	keys := make([]segmentKey, 0, len(r.segments))
	for key := range r.segments {
		keys = append(keys, key)
	}
	r.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].kind != keys[j].kind {
			return keys[i].kind < keys[j].kind
		}
		return keys[i].name < keys[j].name
	})
	for _, key := range keys {
		r.Deregister(key.kind, key.name)
	}
}

// List returns the registered segments sorted by kind, then name.
func (r *Registry) List() []SegmentInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]SegmentInfo, 0, len(r.segments))
	for key, reg := range r.segments {
		info := SegmentInfo{Kind: key.kind.String(), Name: key.name}
		for _, mp := range reg.segment.MacroProperties {
			info.MacroProperties = append(info.MacroProperties, mp.ID)
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ============================================================================
// Signal handlers
// ============================================================================

// triggerHandler hands the invocation to the dispatcher and returns at once.
type triggerHandler struct {
	segment    Segment
	dispatcher *Dispatcher
}

func (h *triggerHandler) HandleSignal(data CallData) {
	h.dispatcher.Trigger(h.segment, data)
}

// propertiesHandler writes the segment's UI schema into the payload.
type propertiesHandler struct {
	provider PropertiesFunc
}

func (h *propertiesHandler) HandleSignal(data CallData) {
	if h.provider == nil {
		data[fieldProperties] = nil
		return
	}
	props := h.provider()
	if props == nil {
		data[fieldProperties] = nil
		return
	}
	data[fieldProperties] = props
}

// newInstanceHandler registers macro properties for a new segment instance.
type newInstanceHandler struct {
	segment  Segment
	tempVars *TempVars
}

func (h *newInstanceHandler) HandleSignal(data CallData) {
	h.tempVars.RegisterForInstance(h.segment.Name, h.segment.Kind, data.Int(fieldInstanceID), h.segment.MacroProperties)
}

func handlerName(h SignalHandler) string {
	switch h.(type) {
	case *triggerHandler:
		return "trigger"
	case *propertiesHandler:
		return "properties"
	case *newInstanceHandler:
		return "new_instance"
	default:
		return "custom"
	}
}

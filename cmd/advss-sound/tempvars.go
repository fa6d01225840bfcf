package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cast"
)

// TempVars registers and updates per-instance temporary variables ("macro
// properties"). Registrations are not cached here; the host rejects a set for
// an (id, instance) pair it never saw registered.
type TempVars struct {
	gw     *Gateway
	logger *slog.Logger
}

func NewTempVars(gw *Gateway, logger *slog.Logger) *TempVars {
	return &TempVars{gw: gw, logger: logger}
}

// RegisterForInstance registers every descriptor in props for instanceID.
// A failing item is logged and the remaining items are still attempted.
// It returns the number of descriptors the host accepted.
func (t *TempVars) RegisterForInstance(segment string, kind SegmentKind, instanceID int64, props []MacroProperty) int {
	registered := 0
	for _, p := range props {
		ok, _ := t.gw.Call(procRegisterTempVar, CallData{
			fieldTempVarID:   p.ID,
			fieldTempVarName: p.Name,
			fieldTempVarHelp: p.Description,
			fieldInstanceID:  instanceID,
		})
		if !ok {
			t.logger.Warn("failed to register macro property",
				"segment", segment,
				"kind", kind.String(),
				"instance_id", instanceID,
				"temp_var_id", p.ID,
			)
			continue
		}
		registered++
	}

	t.logger.Debug("registered macro properties",
		"segment", segment,
		"instance_id", instanceID,
		"registered", registered,
		"total", len(props),
	)
	return registered
}

// SetValue sets the temp var id of instanceID to value rendered as text.
func (t *TempVars) SetValue(id string, value any, instanceID int64) bool {
	text, err := cast.ToStringE(value)
	if err != nil {
		text = fmt.Sprint(value)
	}

	ok, _ := t.gw.Call(procSetTempVarValue, CallData{
		fieldTempVarID:  id,
		fieldValue:      text,
		fieldInstanceID: instanceID,
	})
	if !ok {
		t.logger.Warn("failed to set macro property value",
			"temp_var_id", id,
			"instance_id", instanceID,
		)
	}
	return ok
}

package main

import (
	"context"
	"fmt"
)

// SegmentKind distinguishes macro actions from macro conditions.
type SegmentKind int

const (
	SegmentAction SegmentKind = iota
	SegmentCondition
)

func (k SegmentKind) String() string {
	switch k {
	case SegmentAction:
		return "action"
	case SegmentCondition:
		return "condition"
	default:
		return fmt.Sprintf("SegmentKind(%d)", int(k))
	}
}

func (k SegmentKind) registerProc() string {
	if k == SegmentAction {
		return procRegisterAction
	}
	return procRegisterCondition
}

func (k SegmentKind) deregisterProc() string {
	if k == SegmentAction {
		return procDeregisterAction
	}
	return procDeregisterCondition
}

// SegmentFunc runs one invocation of a segment. For conditions the boolean is
// the condition's value; for actions it is ignored. A non-nil error marks the
// invocation as failed.
type SegmentFunc func(ctx context.Context, settings *Settings, instanceID int64) (bool, error)

// PropertiesFunc builds the UI schema for a segment.
type PropertiesFunc func() *Properties

// MacroProperty declares a per-instance temporary variable.
type MacroProperty struct {
	ID          string `json:"id"`          // used with TempVars.SetValue
	Name        string `json:"name"`        // user facing name
	Description string `json:"description"` // user facing description
}

// Segment describes a macro action or condition type.
type Segment struct {
	Kind SegmentKind
	Name string
	Run  SegmentFunc

	// Optional
	Properties      PropertiesFunc
	DefaultSettings *Settings // owned by the host once registered
	MacroProperties []MacroProperty
}

// SegmentInfo is a read-only summary of a registered segment.
type SegmentInfo struct {
	Kind            string   `json:"kind"`
	Name            string   `json:"name"`
	MacroProperties []string `json:"macro_properties,omitempty"`
}

type segmentKey struct {
	kind SegmentKind
	name string
}

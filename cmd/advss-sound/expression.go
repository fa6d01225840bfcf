package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

const (
	expressionSetting        = "expression"
	expressionDefault        = "true"
	expressionResultProperty = "result"
)

var errEmptyExpression = errors.New("empty expression")

// expressionEnv is what an expression can see. Function fields are bound per
// evaluation so lookups go to the host at evaluation time.
type expressionEnv struct {
	InstanceID int64               `expr:"instance_id"`
	Variable   func(string) string `expr:"variable"`
	Exists     func(string) bool   `expr:"exists"`
}

// ExpressionCondition is a macro condition that evaluates a boolean
// expression over the host's variables, e.g.
//
//	variable("viewers") != "" && int(variable("viewers")) > 100
type ExpressionCondition struct {
	name      string
	variables *Variables
	tempVars  *TempVars
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]*vm.Program
}

func NewExpressionCondition(name string, variables *Variables, tempVars *TempVars, logger *slog.Logger) *ExpressionCondition {
	return &ExpressionCondition{
		name:      name,
		variables: variables,
		tempVars:  tempVars,
		logger:    logger,
		cache:     make(map[string]*vm.Program),
	}
}

// Segment returns the descriptor registered with the host.
func (c *ExpressionCondition) Segment() Segment {
	return Segment{
		Kind:            SegmentCondition,
		Name:            c.name,
		Run:             c.Run,
		Properties:      expressionProperties,
		DefaultSettings: expressionDefaults(),
		MacroProperties: []MacroProperty{
			{ID: expressionResultProperty, Name: "Result", Description: "Result of the last evaluation"},
		},
	}
}

// Run evaluates the configured expression for instanceID.
func (c *ExpressionCondition) Run(ctx context.Context, settings *Settings, instanceID int64) (bool, error) {
	source := strings.TrimSpace(settings.String(expressionSetting))
	if source == "" {
		return false, errEmptyExpression
	}

	prg, err := c.program(source)
	if err != nil {
		return false, err
	}

	env := expressionEnv{
		InstanceID: instanceID,
		Variable: func(name string) string {
			v, _ := c.variables.Get(name)
			return v
		},
		Exists: func(name string) bool {
			_, ok := c.variables.Get(name)
			return ok
		},
	}

	out, err := vm.Run(prg, env)
	if err != nil {
		return false, fmt.Errorf("evaluate %q: %w", source, err)
	}
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("evaluate %q: result is %T, not bool", source, out)
	}

	c.tempVars.SetValue(expressionResultProperty, strconv.FormatBool(result), instanceID)
	c.logger.Debug("expression evaluated", "instance_id", instanceID, "expression", source, "result", result)
	return result, nil
}

func (c *ExpressionCondition) program(source string) (*vm.Program, error) {
	c.mu.RLock()
	prg, ok := c.cache[source]
	c.mu.RUnlock()
	if ok {
		return prg, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if prg, ok := c.cache[source]; ok {
		return prg, nil
	}

	prg, err := expr.Compile(source, expr.Env(expressionEnv{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", source, err)
	}
	c.cache[source] = prg
	return prg, nil
}

func expressionProperties() *Properties {
	return NewProperties().AddText(expressionSetting, "Expression:", TextMultiline)
}

func expressionDefaults() *Settings {
	s := NewSettings()
	s.SetDefaultString(expressionSetting, expressionDefault)
	return s
}

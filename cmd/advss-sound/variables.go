package main

import (
	"log/slog"
	"regexp"
)

// varToken matches "${name}" with a non-empty name.
var varToken = regexp.MustCompile(`\$\{([^}]+)\}`)

// Variables reads and writes the host's global variables.
type Variables struct {
	gw     *Gateway
	logger *slog.Logger
}

func NewVariables(gw *Gateway, logger *slog.Logger) *Variables {
	return &Variables{gw: gw, logger: logger}
}

// Get returns the value of variable name. The boolean is false if the host
// does not know the variable, which is different from an empty value.
func (v *Variables) Get(name string) (string, bool) {
	ok, resp := v.gw.Call(procGetVariableValue, CallData{fieldName: name})
	if !ok {
		v.logger.Debug("variable lookup failed", "name", name)
		return "", false
	}
	return resp.String(fieldValue), true
}

// Set sets variable name to value and returns the host's success flag.
func (v *Variables) Set(name, value string) bool {
	ok, _ := v.gw.Call(procSetVariableValue, CallData{
		fieldName:  name,
		fieldValue: value,
	})
	if !ok {
		v.logger.Warn("failed to set variable", "name", name)
	}
	return ok
}

// Expand replaces every ${name} token whose variable exists with its value.
// Tokens naming unknown variables are left as they are.
func (v *Variables) Expand(text string) string {
	if !varToken.MatchString(text) {
		return text
	}

	cache := make(map[string]*string)
	return varToken.ReplaceAllStringFunc(text, func(token string) string {
		name := varToken.FindStringSubmatch(token)[1]
		if val, seen := cache[name]; seen {
			if val == nil {
				return token
			}
			return *val
		}

		val, ok := v.Get(name)
		if !ok {
			cache[name] = nil
			return token
		}
		cache[name] = &val
		return val
	})
}

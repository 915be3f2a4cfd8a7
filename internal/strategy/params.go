package strategy

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// ErrInvalidParams is wrapped by every parameter validation failure.
var ErrInvalidParams = errors.New("invalid strategy params")

// ParamType is the declared type of one parameter.
type ParamType string

const (
	TypeInt   ParamType = "int"
	TypeFloat ParamType = "float"
	TypeBool  ParamType = "bool"
)

// ParamSpec declares one configurable parameter. Min and Max are inclusive; nil means unbounded.
type ParamSpec struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Default any       `json:"default"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Doc     string    `json:"doc,omitempty"`
}

func bound(v float64) *float64 { return &v }

// Params holds validated parameter values keyed by name.
type Params map[string]any

// Int returns an int parameter, or 0 if missing.
func (p Params) Int(name string) int {
	switch v := p[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// Float returns a numeric parameter as float64, or 0 if missing.
func (p Params) Float(name string) float64 {
	switch v := p[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns a bool parameter, or false if missing.
func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// Validate checks raw against the schema, fills defaults and coerces numbers to
// their declared type. Unknown keys are rejected.
func Validate(specs []ParamSpec, raw map[string]any) (Params, error) {
	known := make(map[string]ParamSpec, len(specs))
	for _, s := range specs {
		known[s.Name] = s
	}
	var unknown []string
	for k := range raw {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: unknown parameter(s) %s", ErrInvalidParams, strings.Join(unknown, ", "))
	}

	out := make(Params, len(specs))
	for _, s := range specs {
		v, ok := raw[s.Name]
		if !ok || v == nil {
			v = s.Default
		}
		cv, err := coerce(s, v)
		if err != nil {
			return nil, err
		}
		out[s.Name] = cv
	}
	return out, nil
}

func coerce(s ParamSpec, v any) (any, error) {
	switch s.Type {
	case TypeBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err == nil {
				return parsed, nil
			}
		}
		return nil, fmt.Errorf("%w: %s must be a bool, got %v", ErrInvalidParams, s.Name, v)
	case TypeInt, TypeFloat:
		f, ok := toFloat(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s must be a number, got %v", ErrInvalidParams, s.Name, v)
		}
		if s.Type == TypeInt && f != math.Trunc(f) {
			return nil, fmt.Errorf("%w: %s must be an integer, got %v", ErrInvalidParams, s.Name, v)
		}
		if s.Min != nil && f < *s.Min {
			return nil, fmt.Errorf("%w: %s must be >= %v, got %v", ErrInvalidParams, s.Name, *s.Min, v)
		}
		if s.Max != nil && f > *s.Max {
			return nil, fmt.Errorf("%w: %s must be <= %v, got %v", ErrInvalidParams, s.Name, *s.Max, v)
		}
		if s.Type == TypeInt {
			return int(f), nil
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidParams, s.Name, s.Type)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

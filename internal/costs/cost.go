// Package costs attributes a monetary cost to individual tool invocations.
package costs

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Source names the evidence a cost was derived from.
type Source string

const (
	SourceExecution   Source = "execution"
	SourceUsage       Source = "usage"
	SourceMetadata    Source = "metadata"
	SourceEnvironment Source = "environment"
	SourceNone        Source = "none"
)

// Invocation is one tool call together with the tool's static metadata and
// the metadata returned by that particular execution.
type Invocation struct {
	ToolName          string         `json:"tool_name"`
	ToolMetadata      map[string]any `json:"tool_metadata,omitempty"`
	ExecutionMetadata map[string]any `json:"execution_metadata,omitempty"`
}

// Result is the attributed cost. CostUSD is never negative and Units is always positive.
type Result struct {
	ToolName string  `json:"tool_name"`
	CostUSD  float64 `json:"cost_usd"`
	Units    float64 `json:"units"`
	Source   Source  `json:"source"`
}

// Degraded reports that no pricing evidence was found and the cost defaulted to zero.
func (r Result) Degraded() bool {
	return r.Source == SourceNone
}

// NormalizeKey lower-cases s and folds "/", " " and "-" into "_".
func NormalizeKey(s string) string {
	return strings.NewReplacer("/", "_", " ", "_", "-", "_").Replace(strings.ToLower(s))
}

// parseNumber accepts numeric kinds, json.Number and numeric strings.
// Booleans, NaN and infinities are not numbers.
func parseNumber(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int8:
		f = float64(n)
	case int16:
		f = float64(n)
	case int32:
		f = float64(n)
	case int64:
		f = float64(n)
	case uint:
		f = float64(n)
	case uint8:
		f = float64(n)
	case uint16:
		f = float64(n)
	case uint32:
		f = float64(n)
	case uint64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func clamp(cost float64) float64 {
	if cost < 0 {
		return 0
	}
	return cost
}

var unitAliases = []string{"units", "call_count", "calls", "requests"}

// invocationUnits returns the first positive unit count in the execution
// metadata, or 1 when none is present.
func invocationUnits(exec map[string]any) float64 {
	for _, key := range unitAliases {
		if u, ok := parseNumber(exec[key]); ok && u > 0 {
			return u
		}
	}
	return 1
}

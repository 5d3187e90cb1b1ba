package costs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

// Attributor evaluates Rules in order against the current override table.
// Attribute never blocks; Reload swaps the table atomically.
type Attributor struct {
	rules     []Rule
	sources   []OverrideSource
	overrides atomic.Pointer[OverrideTable]
	logger    *slog.Logger
}

type AttributorOption func(*Attributor)

// WithRules replaces the default rule precedence.
func WithRules(rules ...Rule) AttributorOption {
	return func(a *Attributor) { a.rules = rules }
}

// NewAttributor builds an Attributor and performs the initial override load.
// Sources are merged in order; later sources win on key conflicts.
func NewAttributor(ctx context.Context, logger *slog.Logger, sources []OverrideSource, opts ...AttributorOption) (*Attributor, error) {
	a := &Attributor{
		rules:   DefaultRules(),
		sources: sources,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.overrides.Store(NewOverrideTable(nil))
	if _, err := a.Reload(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Attribute prices one invocation. A nil metadata map is treated as empty.
func (a *Attributor) Attribute(in Invocation) Result {
	table := a.overrides.Load()
	for _, rule := range a.rules {
		if res, ok := rule.Apply(in, table); ok {
			if res.Units <= 0 {
				res.Units = 1
			}
			res.CostUSD = clamp(res.CostUSD)
			if res.Degraded() {
				a.logger.Debug("No pricing evidence for tool invocation",
					"tool", in.ToolName)
			}
			return res
		}
	}
	return Result{ToolName: in.ToolName, Units: 1, Source: SourceNone}
}

// Reload rebuilds the override table from all sources and publishes it.
// It returns the number of overrides now active.
func (a *Attributor) Reload(ctx context.Context) (int, error) {
	merged := make(map[string]float64)
	for _, src := range a.sources {
		rates, invalid, err := src.Load(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to load cost overrides from %s: %w", src.Name(), err)
		}
		for _, inv := range invalid {
			a.logger.Warn("Ignoring invalid tool cost override",
				"source", inv.Source,
				"key", inv.Key,
				"value", inv.Value)
		}
		for k, v := range rates {
			merged[k] = v
		}
	}

	table := NewOverrideTable(merged)
	a.overrides.Store(table)
	a.logger.Debug("Tool cost overrides loaded", "count", table.Len())
	return table.Len(), nil
}

// Overrides returns the currently published table.
func (a *Attributor) Overrides() *OverrideTable {
	return a.overrides.Load()
}

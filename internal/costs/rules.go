package costs

// Rule is one step of the attribution precedence. Apply returns false when
// the rule has no evidence to price the invocation.
type Rule interface {
	Name() string
	Apply(in Invocation, overrides *OverrideTable) (Result, bool)
}

// DefaultRules returns the attribution precedence, highest first.
func DefaultRules() []Rule {
	return []Rule{
		ExplicitCostRule{},
		UsageRule{},
		UnitRule{},
		EnvironmentRule{},
		DefaultRule{},
	}
}

var explicitCostKeys = []string{"cost_usd", "total_cost", "price_usd"}

// ExplicitCostRule honours a cost reported by the execution itself.
type ExplicitCostRule struct{}

func (ExplicitCostRule) Name() string { return "explicit_cost" }

func (ExplicitCostRule) Apply(in Invocation, _ *OverrideTable) (Result, bool) {
	for _, key := range explicitCostKeys {
		if cost, ok := parseNumber(in.ExecutionMetadata[key]); ok {
			return Result{ToolName: in.ToolName, CostUSD: clamp(cost), Units: 1, Source: SourceExecution}, true
		}
	}
	return Result{}, false
}

// UsageRule prices token usage against a per-thousand-token rate.
type UsageRule struct{}

func (UsageRule) Name() string { return "usage" }

func (UsageRule) Apply(in Invocation, _ *OverrideTable) (Result, bool) {
	usage, ok := parseNumber(in.ExecutionMetadata["usage_tokens"])
	if !ok {
		return Result{}, false
	}
	rate, ok := parseNumber(in.ExecutionMetadata["cost_per_1k_tokens_usd"])
	if !ok || rate == 0 {
		rate, ok = parseNumber(in.ToolMetadata["cost_per_1k_tokens_usd"])
		if !ok {
			return Result{}, false
		}
	}
	units := usage
	if units <= 0 {
		units = 1
	}
	return Result{ToolName: in.ToolName, CostUSD: clamp(usage / 1000 * rate), Units: units, Source: SourceUsage}, true
}

var unitRateKeys = []string{"unit_cost_usd", "cost_per_call_usd"}

// UnitRule multiplies a per-unit rate by the invocation's unit count.
// Execution metadata rates take precedence over tool metadata rates.
type UnitRule struct{}

func (UnitRule) Name() string { return "unit" }

func (UnitRule) Apply(in Invocation, _ *OverrideTable) (Result, bool) {
	raw, source, found := firstPresent(in)
	if !found {
		return Result{}, false
	}
	rate, ok := parseNumber(raw)
	if !ok {
		return Result{}, false
	}
	units := invocationUnits(in.ExecutionMetadata)
	return Result{ToolName: in.ToolName, CostUSD: clamp(rate * units), Units: units, Source: source}, true
}

// firstPresent picks the first rate key set (non-nil) in execution then tool metadata.
func firstPresent(in Invocation) (any, Source, bool) {
	for _, key := range unitRateKeys {
		if v, ok := in.ExecutionMetadata[key]; ok && v != nil {
			return v, SourceExecution, true
		}
	}
	for _, key := range unitRateKeys {
		if v, ok := in.ToolMetadata[key]; ok && v != nil {
			return v, SourceMetadata, true
		}
	}
	return nil, "", false
}

// EnvironmentRule applies operator-configured per-unit overrides.
type EnvironmentRule struct{}

func (EnvironmentRule) Name() string { return "environment" }

func (EnvironmentRule) Apply(in Invocation, overrides *OverrideTable) (Result, bool) {
	if overrides == nil || overrides.Len() == 0 {
		return Result{}, false
	}
	for _, candidate := range overrideCandidates(in) {
		if rate, ok := overrides.Lookup(candidate); ok {
			units := invocationUnits(in.ExecutionMetadata)
			return Result{ToolName: in.ToolName, CostUSD: clamp(rate * units), Units: units, Source: SourceEnvironment}, true
		}
	}
	return Result{}, false
}

// overrideCandidates lists lookup keys in priority order: tool name,
// provider, "{provider}_{tool}", then an explicit cost_override_key.
func overrideCandidates(in Invocation) []string {
	candidates := []string{in.ToolName}
	provider, _ := in.ToolMetadata["provider"].(string)
	if provider == "" {
		provider, _ = in.ExecutionMetadata["provider"].(string)
	}
	if provider != "" {
		candidates = append(candidates, provider, provider+"_"+in.ToolName)
	}
	if key, ok := in.ToolMetadata["cost_override_key"].(string); ok && key != "" {
		candidates = append(candidates, key)
	}
	return candidates
}

// DefaultRule attributes zero cost when nothing else applies.
type DefaultRule struct{}

func (DefaultRule) Name() string { return "default" }

func (DefaultRule) Apply(in Invocation, _ *OverrideTable) (Result, bool) {
	return Result{ToolName: in.ToolName, CostUSD: 0, Units: invocationUnits(in.ExecutionMetadata), Source: SourceNone}, true
}

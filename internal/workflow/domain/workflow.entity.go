package domain

import (
	"slices"

	cards "github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/costs"
)

// Type names a known workflow kind.
type Type string

const (
	TypePremiumNewsletter Type = "premium_newsletter"
	TypeOnboardingContent Type = "onboarding_content"
)

// Request asks for one workflow execution. CardIDs is the current context
// path; LegacyContext is the deprecated inline one and may accompany it.
type Request struct {
	WorkflowType  Type           `json:"workflow_type"`
	CardIDs       []string       `json:"card_ids,omitempty"`
	LegacyContext map[string]any `json:"context,omitempty"`
	Parameters    map[string]any `json:"parameters,omitempty"`
}

// Status of an execution as reported to callers.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// ResolvedContext is the context handed to the workflow body. It lives for
// one execution and is never persisted.
type ResolvedContext struct {
	Cards                []cards.Card   `json:"cards"`
	LegacyFields         map[string]any `json:"legacy_fields"`
	MissingIDs           []string       `json:"missing_ids"`
	RequestedCount       int            `json:"requested_count"`
	DeprecationTriggered bool           `json:"deprecation_triggered"`
	CacheHitRate         float64        `json:"cache_hit_rate"`
}

// NewResolvedContext returns an empty context with non-nil collections.
func NewResolvedContext() *ResolvedContext {
	return &ResolvedContext{
		Cards:        []cards.Card{},
		LegacyFields: map[string]any{},
		MissingIDs:   []string{},
	}
}

// Partial reports that some requested cards were not retrieved.
func (c *ResolvedContext) Partial() bool {
	return len(c.MissingIDs) > 0
}

// cardFields collects card content keys; the first card in request order wins.
func (c *ResolvedContext) cardFields() map[string]any {
	fields := make(map[string]any)
	for _, card := range c.Cards {
		for k, v := range card.Content {
			if _, taken := fields[k]; !taken {
				fields[k] = v
			}
		}
	}
	return fields
}

// Fields merges both sources. Legacy fields only fill keys no card defines.
func (c *ResolvedContext) Fields() map[string]any {
	merged := c.cardFields()
	for k, v := range c.LegacyFields {
		if _, taken := merged[k]; !taken {
			merged[k] = v
		}
	}
	return merged
}

// ShadowedLegacyKeys lists legacy keys hidden by a card-derived field.
func (c *ResolvedContext) ShadowedLegacyKeys() []string {
	if len(c.LegacyFields) == 0 {
		return nil
	}
	fromCards := c.cardFields()
	var shadowed []string
	for k := range c.LegacyFields {
		if _, taken := fromCards[k]; taken {
			shadowed = append(shadowed, k)
		}
	}
	slices.Sort(shadowed)
	return shadowed
}

// Metrics summarise one execution.
type Metrics struct {
	ExecutionTimeMs   int64          `json:"execution_time_ms"`
	CardsUsed         int            `json:"cards_used"`
	LLMCalls          int            `json:"llm_calls"`
	TokensUsed        int            `json:"tokens_used"`
	CacheHitRate      float64        `json:"cache_hit_rate"`
	MissingCardIDs    []string       `json:"missing_card_ids"`
	PartialResult     bool           `json:"partial_result"`
	LegacyContextUsed bool           `json:"legacy_context_used"`
	TotalCostUSD      float64        `json:"total_cost_usd"`
	ToolCosts         []costs.Result `json:"tool_costs"`
	DegradedCostCount int            `json:"degraded_cost_count"`
}

// Signals are the flags the transport layer turns into response headers.
type Signals struct {
	LegacyContextUsed bool `json:"legacy_context_used"`
	PartialResult     bool `json:"partial_result"`
	Replayed          bool `json:"replayed"`
	MissingCount      int  `json:"missing_count"`
	RequestedCount    int  `json:"requested_count"`
}

// ExecutionResult is created once per execution and not modified after it
// is returned. Signals are not part of the encoded result, so a replayed
// result encodes to the same bytes as the original.
type ExecutionResult struct {
	WorkflowID   string         `json:"workflow_id"`
	WorkflowType Type           `json:"workflow_type"`
	Status       Status         `json:"status"`
	Output       map[string]any `json:"output"`
	Error        string         `json:"error,omitempty"`
	Metrics      Metrics        `json:"metrics"`
	Signals      Signals        `json:"-"`
}

// SignalsFor derives the transport flags of a result. Requested ids that were
// neither used nor missing are duplicates and not counted.
func SignalsFor(r *ExecutionResult, replayed bool) Signals {
	missing := len(r.Metrics.MissingCardIDs)
	return Signals{
		LegacyContextUsed: r.Metrics.LegacyContextUsed,
		PartialResult:     r.Metrics.PartialResult,
		Replayed:          replayed,
		MissingCount:      missing,
		RequestedCount:    r.Metrics.CardsUsed + missing,
	}
}

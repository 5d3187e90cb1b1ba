package domain

import (
	"context"

	"github.com/fylle/workflow-mcp/internal/costs"
)

// Claim is the outcome of claiming an idempotency key. When Exists is true
// the key was already claimed; Result holds the stored result once the
// owner has finished, and is nil while it is still running.
type Claim struct {
	Exists bool
	Result []byte
}

// ReplayStore gives at-most-once execution per idempotency key. Claim must be
// atomic across all processes sharing the store.
type ReplayStore interface {
	Claim(ctx context.Context, key string) (Claim, error)
	Store(ctx context.Context, key string, result []byte) error
	// Release drops an unfinished claim so the key can be retried.
	Release(ctx context.Context, key string) error
	Close() error
}

// BodyInput is what the workflow body receives.
type BodyInput struct {
	WorkflowID   string            `json:"workflow_id"`
	WorkflowType Type              `json:"workflow_type"`
	TenantID     string            `json:"tenant_id"`
	Context      map[string]any    `json:"context"`
	Cards        []string          `json:"card_ids"`
	Parameters   map[string]any    `json:"parameters"`
	Headers      map[string]string `json:"-"`
}

// BodyOutput is what the workflow body reports back. Output may be partial
// when the run fails.
type BodyOutput struct {
	Output          map[string]any     `json:"output"`
	ToolInvocations []costs.Invocation `json:"tool_invocations"`
	LLMCalls        int                `json:"llm_calls"`
	TokensUsed      int                `json:"tokens_used"`
}

// BodyRunner executes the content-generation part of a workflow.
type BodyRunner interface {
	Run(ctx context.Context, in BodyInput) (*BodyOutput, error)
}

// Definition describes a known workflow kind.
type Definition struct {
	Type        Type     `yaml:"type" json:"type"`
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description" json:"description"`
	CardTypes   []string `yaml:"card_types" json:"card_types,omitempty"`
	Parameters  []string `yaml:"parameters" json:"parameters,omitempty"`
}

// Catalog lists the workflow kinds this service accepts.
type Catalog interface {
	Lookup(t Type) (Definition, bool)
	List() []Definition
}

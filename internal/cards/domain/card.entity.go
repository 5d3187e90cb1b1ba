package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

type CardType string

const (
	CardTypeCompany  CardType = "company"
	CardTypeAudience CardType = "audience"
	CardTypeVoice    CardType = "voice"
	CardTypeInsight  CardType = "insight"
)

// AllCardTypes lists the known card types.
func AllCardTypes() []CardType {
	return []CardType{CardTypeCompany, CardTypeAudience, CardTypeVoice, CardTypeInsight}
}

func (t CardType) IsValid() bool {
	switch t {
	case CardTypeCompany, CardTypeAudience, CardTypeVoice, CardTypeInsight:
		return true
	}
	return false
}

func ParseCardType(s string) (CardType, error) {
	t := CardType(s)
	if !t.IsValid() {
		return "", fmt.Errorf("invalid card type: %s", s)
	}
	return t, nil
}

// Card is a tenant-scoped, typed unit of context. Cards are read-only here.
type Card struct {
	ID          string         `json:"card_id"`
	TenantID    string         `json:"tenant_id"`
	Type        CardType       `json:"card_type"`
	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Content     map[string]any `json:"content"`
	Tags        []string       `json:"tags,omitempty"`
	Version     int            `json:"version,omitempty"`
	IsActive    bool           `json:"is_active"`
	UsageCount  int            `json:"usage_count"`
	UpdatedAt   *time.Time     `json:"updated_at,omitempty"`
}

// UnmarshalJSON treats a card without is_active as active, the card store's
// default.
func (c *Card) UnmarshalJSON(data []byte) error {
	type plain Card
	decoded := plain{IsActive: true}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*c = Card(decoded)
	return nil
}

// FetchResult is the outcome of a best-effort batch lookup. Retrieved keeps
// the order of the requested ids; MissingIDs lists the ids not found.
type FetchResult struct {
	Retrieved  []Card   `json:"cards"`
	MissingIDs []string `json:"missing_ids"`
	CacheHits  int      `json:"-"`
}

// UsageEvent records that a workflow execution consumed a card.
type UsageEvent struct {
	CardID       string
	WorkflowID   string
	WorkflowType string
	SessionID    string
}

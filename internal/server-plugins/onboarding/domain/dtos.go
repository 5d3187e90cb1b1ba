package domain

type PromptMeta struct {
	Plugin      string `json:"plugin"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type IntentEntry struct {
	Synonyms []string `json:"synonyms"`
	Tool     string   `json:"tool"`
	Params   []string `json:"params"`
}

type IntentMap map[string]IntentEntry

type CapabilityToolExample struct {
	Tool   string         `json:"tool"`
	Params map[string]any `json:"params,omitempty"`
}

type CapabilityTool struct {
	Plugin      string                  `json:"plugin"`
	Name        string                  `json:"name"`
	Description string                  `json:"description"`
	Examples    []CapabilityToolExample `json:"examples,omitempty"`
}

type CapabilityResource struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description"`
	MIMEType    string `json:"mimeType"`
}

type CapabilityIndex struct {
	Tools     []CapabilityTool     `json:"tools"`
	Resources []CapabilityResource `json:"resources"`
	Prompts   []PromptMeta         `json:"prompts"`
}

func NewCapabilityIndex() CapabilityIndex {
	return CapabilityIndex{
		Tools:     make([]CapabilityTool, 0),
		Resources: make([]CapabilityResource, 0),
		Prompts:   make([]PromptMeta, 0),
	}
}

// MigrationGuide describes the move from inline context to card ids.
type MigrationGuide struct {
	Deprecated  string                `json:"deprecated"`
	Replacement string                `json:"replacement"`
	GuideURL    string                `json:"guide_url"`
	Signals     []string              `json:"signals"`
	Before      CapabilityToolExample `json:"before"`
	After       CapabilityToolExample `json:"after"`
}

package infrastructure

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

// BuiltinDefinitions are always present, even without a catalog file.
func BuiltinDefinitions() []domain.Definition {
	return []domain.Definition{
		{
			Type:        domain.TypePremiumNewsletter,
			Name:        "Premium Newsletter",
			Description: "Research-backed newsletter written in the tenant's voice for a target audience",
			CardTypes:   []string{"company", "audience", "voice", "insight"},
			Parameters:  []string{"topic", "newsletter_name", "target_word_count"},
		},
		{
			Type:        domain.TypeOnboardingContent,
			Name:        "Onboarding Content",
			Description: "Onboarding material built from company and audience cards",
			CardTypes:   []string{"company", "audience", "voice"},
			Parameters:  []string{"topic", "channel"},
		},
	}
}

type catalogFile struct {
	Workflows []domain.Definition `yaml:"workflows"`
}

// StaticCatalog is an immutable set of workflow definitions.
type StaticCatalog struct {
	byType map[domain.Type]domain.Definition
}

func NewStaticCatalog(defs []domain.Definition) *StaticCatalog {
	c := &StaticCatalog{byType: make(map[domain.Type]domain.Definition, len(defs))}
	for _, d := range defs {
		c.byType[d.Type] = d
	}
	return c
}

// LoadCatalog returns the built-in definitions extended, or overridden by
// type, with those of the YAML file at path. An empty path loads only the
// built-ins.
func LoadCatalog(path string) (*StaticCatalog, error) {
	defs := BuiltinDefinitions()
	if path == "" {
		return NewStaticCatalog(defs), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow catalog %s: %w", path, err)
	}
	extra, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse workflow catalog %s: %w", path, err)
	}
	return NewStaticCatalog(append(defs, extra...)), nil
}

// ParseCatalog decodes a catalog document. Every entry needs a type.
func ParseCatalog(data []byte) ([]domain.Definition, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	for i, d := range file.Workflows {
		if strings.TrimSpace(string(d.Type)) == "" {
			return nil, fmt.Errorf("workflow %d has no type", i)
		}
	}
	return file.Workflows, nil
}

func (c *StaticCatalog) Lookup(t domain.Type) (domain.Definition, bool) {
	d, ok := c.byType[t]
	return d, ok
}

// List returns the definitions sorted by type.
func (c *StaticCatalog) List() []domain.Definition {
	out := make([]domain.Definition, 0, len(c.byType))
	for _, d := range c.byType {
		out = append(out, d)
	}
	slices.SortFunc(out, func(a, b domain.Definition) int {
		return strings.Compare(string(a.Type), string(b.Type))
	})
	return out
}

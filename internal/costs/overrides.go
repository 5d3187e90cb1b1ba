package costs

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// OverrideTable maps normalised tool keys to a per-unit USD rate. It is
// never mutated after construction.
type OverrideTable struct {
	rates map[string]float64
}

func NewOverrideTable(rates map[string]float64) *OverrideTable {
	t := &OverrideTable{rates: make(map[string]float64, len(rates))}
	for k, v := range rates {
		t.rates[NormalizeKey(k)] = v
	}
	return t
}

func (t *OverrideTable) Lookup(key string) (float64, bool) {
	rate, ok := t.rates[NormalizeKey(key)]
	return rate, ok
}

func (t *OverrideTable) Len() int {
	return len(t.rates)
}

// Keys returns the normalised keys in sorted order.
func (t *OverrideTable) Keys() []string {
	keys := make([]string, 0, len(t.rates))
	for k := range t.rates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// InvalidOverride is a configured override whose value is not a usable rate.
type InvalidOverride struct {
	Source string
	Key    string
	Value  string
}

func (o InvalidOverride) String() string {
	return fmt.Sprintf("%s: %s=%s", o.Source, o.Key, o.Value)
}

// OverrideSource supplies override rates. Invalid entries are reported, not fatal.
type OverrideSource interface {
	Name() string
	Load(ctx context.Context) (map[string]float64, []InvalidOverride, error)
}

// EnvSource reads "<Prefix><TOOL>=<rate>" variables.
type EnvSource struct {
	Prefix  string
	Environ func() []string
}

func NewEnvSource(prefix string) *EnvSource {
	return &EnvSource{Prefix: prefix, Environ: os.Environ}
}

func (s *EnvSource) Name() string { return "environment" }

func (s *EnvSource) Load(_ context.Context) (map[string]float64, []InvalidOverride, error) {
	rates := make(map[string]float64)
	var invalid []InvalidOverride
	for _, kv := range s.Environ() {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(key, s.Prefix) {
			continue
		}
		name := strings.TrimPrefix(key, s.Prefix)
		rate, ok := parseNumber(value)
		if !ok || rate < 0 || name == "" {
			invalid = append(invalid, InvalidOverride{Source: s.Name(), Key: key, Value: value})
			continue
		}
		rates[NormalizeKey(name)] = rate
	}
	return rates, invalid, nil
}

// StaticSource serves rates from configuration.
type StaticSource struct {
	Rates map[string]float64
}

func (s *StaticSource) Name() string { return "config" }

func (s *StaticSource) Load(_ context.Context) (map[string]float64, []InvalidOverride, error) {
	rates := make(map[string]float64, len(s.Rates))
	var invalid []InvalidOverride
	for k, v := range s.Rates {
		if v < 0 {
			invalid = append(invalid, InvalidOverride{Source: s.Name(), Key: k, Value: fmt.Sprint(v)})
			continue
		}
		rates[NormalizeKey(k)] = v
	}
	return rates, invalid, nil
}

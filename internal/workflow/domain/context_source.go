package domain

// ContextSource is the shape of the context a request supplies. The set of
// implementations is closed: CardSource, LegacySource, DualSource, NoSource.
type ContextSource interface {
	// CardIDs returns the referenced card ids, nil when cards are not used.
	CardIDs() []string
	// Legacy returns the inline context, nil when it was not supplied.
	Legacy() map[string]any
	isContextSource()
}

// CardSource references cards only.
type CardSource struct {
	IDs []string
}

// LegacySource carries only the deprecated inline context.
type LegacySource struct {
	Fields map[string]any
}

// DualSource carries both. Card-derived fields take precedence.
type DualSource struct {
	IDs    []string
	Fields map[string]any
}

// NoSource means the workflow runs without context.
type NoSource struct{}

func (s CardSource) CardIDs() []string { return s.IDs }

func (CardSource) Legacy() map[string]any { return nil }

func (LegacySource) CardIDs() []string { return nil }

func (s LegacySource) Legacy() map[string]any { return s.Fields }

func (s DualSource) CardIDs() []string { return s.IDs }

func (s DualSource) Legacy() map[string]any { return s.Fields }

func (NoSource) CardIDs() []string { return nil }

func (NoSource) Legacy() map[string]any { return nil }

func (CardSource) isContextSource()   {}
func (LegacySource) isContextSource() {}
func (DualSource) isContextSource()   {}
func (NoSource) isContextSource()     {}

// ClassifySource selects the context shape of a request. An empty (but
// non-nil) legacy map still counts as legacy use: the caller sent the field.
func ClassifySource(req Request) ContextSource {
	hasCards := len(req.CardIDs) > 0
	hasLegacy := req.LegacyContext != nil
	switch {
	case hasCards && hasLegacy:
		return DualSource{IDs: req.CardIDs, Fields: req.LegacyContext}
	case hasCards:
		return CardSource{IDs: req.CardIDs}
	case hasLegacy:
		return LegacySource{Fields: req.LegacyContext}
	default:
		return NoSource{}
	}
}

// UsesLegacy reports whether the deprecated path is involved.
func UsesLegacy(s ContextSource) bool {
	switch s.(type) {
	case LegacySource, DualSource:
		return true
	}
	return false
}

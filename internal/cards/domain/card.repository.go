package domain

import "context"

// Store looks cards up by id for one tenant. Unknown ids are reported in
// FetchResult.MissingIDs rather than as an error; an error means the store
// itself could not be reached or answered abnormally.
type Store interface {
	FetchCards(ctx context.Context, tenantID string, ids []string, headers map[string]string) (*FetchResult, error)
}

// UsageReporter notifies the card store that a card was used.
type UsageReporter interface {
	ReportUsage(ctx context.Context, tenantID string, event UsageEvent, headers map[string]string) error
}

package infrastructure

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fylle/workflow-mcp/internal/cards/domain"
	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	usageDedupSize = 10000
	usageDedupTTL  = time.Hour
)

// UsageTracker reports card usage in the background. Each (workflow, card)
// pair is reported at most once; failures are logged and dropped.
type UsageTracker struct {
	reporter  domain.UsageReporter
	transport *retry.Transport
	logger    *slog.Logger
	timeout   time.Duration
	seen      *expirable.LRU[string, struct{}]
	mu        sync.Mutex
	wg        sync.WaitGroup
}

func NewUsageTracker(reporter domain.UsageReporter, transport *retry.Transport, logger *slog.Logger, timeout time.Duration) *UsageTracker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &UsageTracker{
		reporter:  reporter,
		transport: transport,
		logger:    logger,
		timeout:   timeout,
		seen:      expirable.NewLRU[string, struct{}](usageDedupSize, nil, usageDedupTTL),
	}
}

// Track schedules a usage report and returns false when the pair was already reported.
func (t *UsageTracker) Track(tenantID string, event domain.UsageEvent, hdrs map[string]string) bool {
	key := event.WorkflowID + "/" + event.CardID
	t.mu.Lock()
	if t.seen.Contains(key) {
		t.mu.Unlock()
		return false
	}
	t.seen.Add(key, struct{}{})
	t.mu.Unlock()

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()

		attempts, err := t.transport.Do(ctx, "cards.usage", func(ctx context.Context) error {
			return t.reporter.ReportUsage(ctx, tenantID, event, hdrs)
		})
		if err != nil {
			t.logger.Warn("Card usage tracking failed",
				"card_id", event.CardID,
				"workflow_id", event.WorkflowID,
				"attempts", attempts,
				"error", err)
			return
		}
		t.logger.Debug("Card usage tracked",
			"card_id", event.CardID,
			"workflow_id", event.WorkflowID)
	}()
	return true
}

// Wait blocks until all scheduled reports have finished.
func (t *UsageTracker) Wait() {
	t.wg.Wait()
}

package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fylle/workflow-mcp/internal/retry"
	"github.com/fylle/workflow-mcp/internal/shared/headers"
	"github.com/fylle/workflow-mcp/internal/workflow/domain"
)

const runPath = "/api/v1/workflows/run"

// ErrBodyFailed is matched by failures reported by the workflow body itself.
var ErrBodyFailed = errors.New("workflow body failed")

// BodyError carries the failure message returned with a partial output.
type BodyError struct {
	Message string
}

func (e *BodyError) Error() string {
	return "workflow body failed: " + e.Message
}

func (e *BodyError) Is(target error) bool {
	return target == ErrBodyFailed
}

type runResponse struct {
	domain.BodyOutput
	Error string `json:"error,omitempty"`
}

// HTTPBodyRunner runs workflow bodies on the agent service. Each call carries
// the execution's Idempotency-Key, which makes the transport's retries safe.
type HTTPBodyRunner struct {
	baseURL    string
	httpClient *http.Client
	transport  *retry.Transport
	logger     *slog.Logger
}

func NewHTTPBodyRunner(baseURL string, httpClient *http.Client, transport *retry.Transport, logger *slog.Logger) *HTTPBodyRunner {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &HTTPBodyRunner{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		transport:  transport,
		logger:     logger,
	}
}

// Run returns the output even when the body reports a failure, together
// with a *BodyError.
func (r *HTTPBodyRunner) Run(ctx context.Context, in domain.BodyInput) (*domain.BodyOutput, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow input: %w", err)
	}

	resp, err := retry.Call(ctx, r.transport, "workflow.run", func(ctx context.Context) (*runResponse, error) {
		return r.post(ctx, raw, in.Headers)
	})
	if err != nil {
		return nil, err
	}

	r.logger.Debug("Workflow body finished",
		"workflow_id", in.WorkflowID,
		"tool_invocations", len(resp.ToolInvocations),
		"failed", resp.Error != "")
	out := resp.BodyOutput
	if resp.Error != "" {
		return &out, &BodyError{Message: resp.Error}
	}
	return &out, nil
}

func (r *HTTPBodyRunner) post(ctx context.Context, raw []byte, hdrs map[string]string) (*runResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+runPath, bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to build run request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	headers.Apply(req.Header, headers.Propagate(hdrs))

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, retry.NewStatusError(resp)
	}

	var out runResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, retry.Transient(fmt.Errorf("malformed run response: %w", err))
	}
	return &out, nil
}

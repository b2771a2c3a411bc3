package scan

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-cli/internal/store"
)

// Continuer arranges for another invocation of a scan.
type Continuer interface {
	Continue(ctx context.Context, scanID string) error
}

// ScheduleContinuer marks the scan due now; a Worker claims it on its next
// tick.
type ScheduleContinuer struct {
	store store.Store
	now   func() time.Time
}

// NewScheduleContinuer creates a ScheduleContinuer.
func NewScheduleContinuer(st store.Store) *ScheduleContinuer {
	return &ScheduleContinuer{store: st, now: time.Now}
}

// Continue implements Continuer.
func (c *ScheduleContinuer) Continue(ctx context.Context, scanID string) error {
	return c.store.ScheduleContinuation(ctx, scanID, c.now())
}

// ContinueRequest is the body posted by HTTPContinuer.
type ContinueRequest struct {
	ScanLogID string `json:"scan_log_id"`
	SkipFetch bool   `json:"skip_fetch"`
}

// HTTPContinuer posts the scan back to a run_scan endpoint. When the post
// fails it falls back to scheduling the continuation on the row so the scan
// is never orphaned.
type HTTPContinuer struct {
	url      string
	client   *http.Client
	fallback Continuer
}

// NewHTTPContinuer creates an HTTPContinuer.
func NewHTTPContinuer(url string, hc *http.Client, fallback Continuer) *HTTPContinuer {
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPContinuer{url: url, client: hc, fallback: fallback}
}

// Continue implements Continuer.
func (c *HTTPContinuer) Continue(ctx context.Context, scanID string) error {
	err := c.post(ctx, scanID)
	if err == nil {
		return nil
	}
	zap.L().Warn("scan: http continuation failed, scheduling instead",
		zap.String("scan_id", scanID),
		zap.Error(err),
	)
	if c.fallback == nil {
		return err
	}
	return c.fallback.Continue(ctx, scanID)
}

func (c *HTTPContinuer) post(ctx context.Context, scanID string) error {
	body, err := json.Marshal(ContinueRequest{ScanLogID: scanID, SkipFetch: true})
	if err != nil {
		return eris.Wrap(err, "scan: marshal continuation")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "scan: build continuation request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "scan: post continuation")
	}
	defer resp.Body.Close()                //nolint:errcheck
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return eris.Errorf("scan: continuation returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Package probe executes single HTTP probes against monitored endpoints and
// guards against requests to internal infrastructure.
package probe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/pilgrim-12/cronowl-sub001/internal/domain"
)

const (
	// maxBodyBytes caps how much of a response is read for assertions.
	maxBodyBytes = 64 * 1024
	// snippetBytes caps the stored response body snapshot.
	snippetBytes = 2 * 1024
)

// Executor performs outbound HTTP probes.
type Executor struct {
	client       *http.Client
	logger       *slog.Logger
	allowPrivate bool
}

// NewExecutor creates an Executor. Pass nil logger to use the default logger.
func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		// Per-probe deadlines come from the monitor's timeout; the client
		// itself carries no global timeout.
		client: &http.Client{},
		logger: logger,
	}
}

// SetAllowPrivateTargets disables target validation. Meant for self-hosted
// deployments that monitor their own private network.
func (e *Executor) SetAllowPrivateTargets(allow bool) {
	e.allowPrivate = allow
}

// Execute runs one probe. A non-nil error means the monitor's target failed
// validation and no request was made. Ordinary network failures (timeout, DNS
// error, connection refused) and assertion violations are reported inside the
// ProbeResult, never as an error.
func (e *Executor) Execute(ctx context.Context, m domain.HttpMonitor) (domain.ProbeResult, error) {
	if !e.allowPrivate {
		if err := ValidateTarget(m.URL); err != nil {
			return domain.ProbeResult{}, fmt.Errorf("monitor %q: %w", m.Name, err)
		}
	}

	timeout := clampTimeout(m.TimeoutMs)
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if m.Body != "" && (m.Method == http.MethodPost || m.Method == http.MethodPut) {
		reqBody = strings.NewReader(m.Body)
	}

	req, err := http.NewRequestWithContext(ctx, m.Method, m.URL, reqBody)
	if err != nil {
		return domain.ProbeResult{}, fmt.Errorf("monitor %q: building request: %w", m.Name, err)
	}
	for k, v := range m.Headers {
		req.Header.Set(k, v)
	}
	if m.ContentType != "" && reqBody != nil {
		req.Header.Set("Content-Type", m.ContentType)
	}

	start := time.Now()
	resp, err := e.client.Do(req)
	elapsed := time.Since(start)

	result := domain.ProbeResult{ResponseTimeMs: elapsed.Milliseconds()}
	if err != nil {
		result.Error = classifyNetError(err, timeout)
		return result, nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if readErr != nil {
		result.StatusCode = resp.StatusCode
		result.Error = fmt.Sprintf("reading response body: %v", readErr)
		return result, nil
	}

	result.StatusCode = resp.StatusCode
	result.BodySnippet = snippet(body)
	evaluate(m, &result, body, elapsed)
	return result, nil
}

// evaluate applies the status-code check and every configured assertion.
// Overall success requires all of them to pass; the first violation is
// recorded by name for diagnostics.
func evaluate(m domain.HttpMonitor, result *domain.ProbeResult, body []byte, elapsed time.Duration) {
	if !m.ExpectsStatus(result.StatusCode) {
		result.FailedAssertion = "status_code"
		result.Error = fmt.Sprintf("expected status in %v, got %d", m.ExpectedStatusCodes, result.StatusCode)
		return
	}
	if max := m.Assertions.MaxResponseTimeMs; max != nil && elapsed.Milliseconds() > int64(*max) {
		result.FailedAssertion = "max_response_time_ms"
		result.Error = fmt.Sprintf("response took %dms, limit %dms", elapsed.Milliseconds(), *max)
		return
	}
	if want := m.Assertions.BodyContains; want != "" && !strings.Contains(string(body), want) {
		result.FailedAssertion = "body_contains"
		result.Error = fmt.Sprintf("body does not contain %q", want)
		return
	}
	if unwanted := m.Assertions.BodyNotContains; unwanted != "" && strings.Contains(string(body), unwanted) {
		result.FailedAssertion = "body_not_contains"
		result.Error = fmt.Sprintf("body contains forbidden %q", unwanted)
		return
	}
	result.Success = true
}

// clampTimeout bounds the monitor's timeout so a single probe can never hold
// a sweep worker past the hard ceiling.
func clampTimeout(timeoutMs int) time.Duration {
	if timeoutMs < domain.MinTimeoutMs {
		timeoutMs = domain.MinTimeoutMs
	}
	if timeoutMs > domain.MaxTimeoutMs {
		timeoutMs = domain.MaxTimeoutMs
	}
	return time.Duration(timeoutMs) * time.Millisecond
}

func classifyNetError(err error, timeout time.Duration) string {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return fmt.Sprintf("dns: %v", dnsErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Sprintf("timeout after %s", timeout)
	}
	if strings.Contains(err.Error(), "connection refused") {
		return "connection refused"
	}
	return err.Error()
}

func snippet(body []byte) string {
	if len(body) <= snippetBytes {
		return string(body)
	}
	return string(body[:snippetBytes])
}

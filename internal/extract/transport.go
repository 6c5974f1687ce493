package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/joseph-ayodele/invoice-ingest/internal/common"
)

// RetryPolicy bounds how a vendor step reacts to rate limiting.
type RetryPolicy struct {
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration // 0 = uncapped
}

// Delay returns how long to wait before retry number attempt (0-based). A server-provided
// Retry-After wins over the computed backoff.
func (p RetryPolicy) Delay(attempt int, h http.Header) time.Duration {
	if d, ok := RetryAfter(h, time.Now()); ok {
		return d
	}
	backoff := time.Duration(float64(p.BaseBackoff) * math.Pow(2, float64(attempt)))
	if p.BaseBackoff > 0 {
		backoff += rand.N(p.BaseBackoff)
	}
	if p.MaxBackoff > 0 && backoff > p.MaxBackoff {
		backoff = p.MaxBackoff
	}
	return backoff
}

// RetryAfter reads retry-after-ms or Retry-After (seconds or HTTP date).
func RetryAfter(h http.Header, now time.Time) (time.Duration, bool) {
	if h == nil {
		return 0, false
	}
	if v := strings.TrimSpace(h.Get("retry-after-ms")); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms >= 0 {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

// Response is a fully read vendor reply.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Transport sends vendor requests through an optional token bucket and retries rate-limited ones.
type Transport struct {
	client  *http.Client
	limiter *rate.Limiter
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewTransport builds a Transport; rps <= 0 disables throttling.
func NewTransport(client *http.Client, retry RetryPolicy, rps float64, logger *slog.Logger) *Transport {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{client: client, retry: retry, logger: logger}
	if rps > 0 {
		burst := int(math.Ceil(rps))
		t.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return t
}

// Do executes the request produced by newReq. A 429 reply is retried after RetryPolicy.Delay
// until MaxRetries retries have been spent; every other reply is returned to the caller.
func (t *Transport) Do(ctx context.Context, step string, newReq func(ctx context.Context) (*http.Request, error)) (*Response, error) {
	logger := t.logger
	if docID, tenantID := common.DocumentFromContext(ctx); docID != "" {
		logger = logger.With("document_id", docID, "tenant_id", tenantID)
	}
	for attempt := 0; ; attempt++ {
		if t.limiter != nil {
			if err := t.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		req, err := newReq(ctx)
		if err != nil {
			return nil, common.UnexpectedError(step+": build request", err)
		}

		start := time.Now()
		resp, err := t.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Error("extract.http.send_error", "step", step, "error", err)
			return nil, common.ExtractionServiceError(step+": request failed", err)
		}
		body, err := io.ReadAll(resp.Body)
		if cerr := resp.Body.Close(); cerr != nil {
			logger.Warn("extract.http.response_body_close_error", "step", step, "error", cerr)
		}
		if err != nil {
			return nil, common.ExtractionServiceError(step+": read response", err)
		}
		logger.Debug("extract.http.response",
			"step", step,
			"status", resp.StatusCode,
			"bytes", len(body),
			"elapsed_ms", time.Since(start).Milliseconds(),
		)

		if resp.StatusCode != http.StatusTooManyRequests {
			return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
		}
		if attempt >= t.retry.MaxRetries {
			logger.Error("extract.rate_limit.exhausted", "step", step, "retries", attempt)
			return nil, common.ExtractionServiceError(
				fmt.Sprintf("%s: rate limited, gave up after %d retries", step, attempt), nil)
		}
		delay := t.retry.Delay(attempt, resp.Header)
		logger.Warn("extract.rate_limited", "step", step, "attempt", attempt+1, "delay_ms", delay.Milliseconds())
		if err := Sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StatusError describes an unexpected vendor HTTP status, keeping a short body excerpt.
func StatusError(step string, resp *Response) error {
	excerpt := strings.TrimSpace(string(resp.Body))
	if len(excerpt) > 300 {
		excerpt = excerpt[:300]
	}
	return common.ExtractionServiceError(fmt.Sprintf("%s: vendor status %d: %s", step, resp.Status, excerpt), nil)
}

// Package pagespeed implements the page-performance auditing provider client.
package pagespeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/metrics"
)

const defaultBaseURL = "https://www.googleapis.com"

// Strategies accepted by the audit endpoint.
const (
	StrategyMobile  = "mobile"
	StrategyDesktop = "desktop"
)

// ErrBadResponse covers non-2xx status codes and malformed bodies, including
// responses missing the lighthouseResult payload.
var ErrBadResponse = errors.New("pagespeed: bad response")

// LighthouseResult is the raw audit payload for one URL and strategy.
type LighthouseResult struct {
	LighthouseVersion string              `json:"lighthouseVersion"`
	Categories        map[string]Category `json:"categories"`
	Audits            map[string]Audit    `json:"audits"`
}

// Category is a scored audit category, 0-1 float.
type Category struct {
	Score *float64 `json:"score"`
}

// Audit is one named audit. Score is 0-1 or nil for informational audits.
type Audit struct {
	Title        string   `json:"title,omitempty"`
	Description  string   `json:"description,omitempty"`
	Score        *float64 `json:"score,omitempty"`
	NumericValue *float64 `json:"numericValue,omitempty"`
}

// Report is the normalized shape persisted for one run. Scores are scaled to
// 0-100; missing audits stay nil.
type Report struct {
	LighthouseVersion string   `json:"lighthouse_version"`
	PerformanceScore  *float64 `json:"performance_score"`
	SEOScore          *float64 `json:"seo_score"`
	LCP               *float64 `json:"lcp"`
	CLS               *float64 `json:"cls"`
	INP               *float64 `json:"inp"`
}

// Client calls the runPagespeed endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logger     *zap.Logger
}

// New builds a Client. The API key is optional; keyless requests get a much
// lower quota.
func New(apiKey, baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient: &http.Client{Timeout: 90 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		logger:     logger,
	}
}

// Run audits one URL with the given strategy and returns the raw
// lighthouseResult. Unknown strategies fall back to mobile.
func (c *Client) Run(ctx context.Context, pageURL, strategy string) (*LighthouseResult, error) {
	if strategy != StrategyDesktop {
		strategy = StrategyMobile
	}
	q := url.Values{}
	q.Set("url", pageURL)
	q.Set("strategy", strategy)
	if c.apiKey != "" {
		q.Set("key", c.apiKey)
	}
	endpoint := c.baseURL + "/pagespeedonline/v5/runPagespeed?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderRequest("pagespeed", "error", time.Since(start))
		c.logger.Warn("pagespeed request failed", zap.String("url", pageURL), zap.String("strategy", strategy), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		metrics.ObserveProviderRequest("pagespeed", "error", time.Since(start))
		return nil, fmt.Errorf("%w: read body: %v", ErrBadResponse, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ObserveProviderRequest("pagespeed", "error", time.Since(start))
		c.logger.Warn("pagespeed bad response",
			zap.Int("code", resp.StatusCode),
			zap.String("url", pageURL),
			zap.String("strategy", strategy),
		)
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	var body struct {
		LighthouseResult *LighthouseResult `json:"lighthouseResult"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		metrics.ObserveProviderRequest("pagespeed", "error", time.Since(start))
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	if body.LighthouseResult == nil {
		metrics.ObserveProviderRequest("pagespeed", "error", time.Since(start))
		return nil, fmt.Errorf("%w: missing lighthouseResult payload", ErrBadResponse)
	}
	metrics.ObserveProviderRequest("pagespeed", "ok", time.Since(start))
	return body.LighthouseResult, nil
}

// Normalize extracts the persisted metrics from a raw lighthouseResult.
func Normalize(result *LighthouseResult) Report {
	report := Report{LighthouseVersion: "unknown"}
	if result == nil {
		return report
	}
	if result.LighthouseVersion != "" {
		report.LighthouseVersion = result.LighthouseVersion
	}
	report.PerformanceScore = scaledScore(result.Categories, "performance")
	report.SEOScore = scaledScore(result.Categories, "seo")
	report.LCP = auditValue(result.Audits, "largest-contentful-paint")
	report.CLS = auditValue(result.Audits, "cumulative-layout-shift")
	report.INP = auditValue(result.Audits, "interaction-to-next-paint")
	return report
}

func scaledScore(categories map[string]Category, name string) *float64 {
	cat, ok := categories[name]
	if !ok || cat.Score == nil {
		return nil
	}
	v := *cat.Score * 100
	return &v
}

func auditValue(audits map[string]Audit, name string) *float64 {
	audit, ok := audits[name]
	if !ok || audit.NumericValue == nil {
		return nil
	}
	v := *audit.NumericValue
	return &v
}

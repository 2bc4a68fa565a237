// Package dataforseo implements the keyword-data provider client.
package dataforseo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/metrics"
)

const defaultBaseURL = "https://api.dataforseo.com"

// ErrBadResponse covers non-2xx status codes and malformed JSON bodies.
// Callers treat every provider failure uniformly.
var ErrBadResponse = errors.New("dataforseo: bad response")

// ErrNotConfigured signals missing credentials.
var ErrNotConfigured = errors.New("dataforseo: credentials missing")

// Item is one keyword row from a labs endpoint. Ranked-keywords rows nest the
// keyword under keyword_data instead of carrying it at the top level.
type Item struct {
	Keyword     string       `json:"keyword"`
	KeywordInfo *KeywordInfo `json:"keyword_info"`
	KeywordData *KeywordData `json:"keyword_data"`
}

// KeywordData is the nested keyword block on ranked-keywords items.
type KeywordData struct {
	Keyword     string       `json:"keyword"`
	KeywordInfo *KeywordInfo `json:"keyword_info"`
}

// Term returns the keyword regardless of which shape carried it.
func (it Item) Term() string {
	if it.Keyword != "" {
		return it.Keyword
	}
	if it.KeywordData != nil {
		return it.KeywordData.Keyword
	}
	return ""
}

// KeywordInfo carries the volume metrics attached to an item.
type KeywordInfo struct {
	SearchVolume int64    `json:"search_volume"`
	CPC          *float64 `json:"cpc"`
	Competition  *float64 `json:"competition"`
}

// Client calls the DataForSEO labs API.
type Client struct {
	httpClient   *http.Client
	baseURL      string
	login        string
	password     string
	locationCode int
	languageCode string
	logger       *zap.Logger
}

// Config holds client credentials and targeting.
type Config struct {
	Login        string
	Password     string
	LocationCode int
	LanguageCode string
	BaseURL      string
}

// New builds a Client. Credentials are trimmed so stray whitespace cannot
// corrupt the Basic auth header.
func New(cfg Config, logger *zap.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = defaultBaseURL
	}
	loc := cfg.LocationCode
	if loc == 0 {
		loc = 2840
	}
	lang := cfg.LanguageCode
	if lang == "" {
		lang = "en"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		httpClient:   &http.Client{Timeout: 60 * time.Second},
		baseURL:      strings.TrimRight(base, "/"),
		login:        strings.TrimSpace(cfg.Login),
		password:     strings.TrimSpace(cfg.Password),
		locationCode: loc,
		languageCode: lang,
		logger:       logger,
	}
}

// Configured reports whether credentials are present.
func (c *Client) Configured() bool {
	return c.login != "" && c.password != ""
}

type envelope struct {
	StatusCode    int    `json:"status_code"`
	StatusMessage string `json:"status_message"`
	Tasks         []struct {
		Result []struct {
			Items json.RawMessage `json:"items"`
		} `json:"result"`
	} `json:"tasks"`
}

func (c *Client) post(ctx context.Context, path string, payload any) (*envelope, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.SetBasicAuth(c.login, c.password)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.ObserveProviderRequest("dataforseo", "error", time.Since(start))
		c.logger.Error("dataforseo request failed", zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		metrics.ObserveProviderRequest("dataforseo", "error", time.Since(start))
		return nil, fmt.Errorf("%w: read body: %v", ErrBadResponse, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.ObserveProviderRequest("dataforseo", "error", time.Since(start))
		c.logger.Error("dataforseo bad response",
			zap.String("path", path),
			zap.Int("code", resp.StatusCode),
			zap.ByteString("body", truncate(raw, 500)),
		)
		return nil, fmt.Errorf("%w: status %d", ErrBadResponse, resp.StatusCode)
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.ObserveProviderRequest("dataforseo", "error", time.Since(start))
		c.logger.Error("dataforseo malformed body", zap.String("path", path), zap.ByteString("body", truncate(raw, 500)))
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}
	metrics.ObserveProviderRequest("dataforseo", "ok", time.Since(start))
	if env.StatusCode != 0 && env.StatusCode != 20000 {
		c.logger.Warn("dataforseo non-20000 status",
			zap.Int("status_code", env.StatusCode),
			zap.String("status_message", env.StatusMessage),
			zap.String("path", path),
		)
	}
	return &env, nil
}

func (env *envelope) items() []Item {
	if env == nil || len(env.Tasks) == 0 || len(env.Tasks[0].Result) == 0 {
		return nil
	}
	var items []Item
	if err := json.Unmarshal(env.Tasks[0].Result[0].Items, &items); err != nil {
		return nil
	}
	return items
}

func clampLimit(limit, max int) int {
	if limit < 10 {
		return 10
	}
	if limit > max {
		return max
	}
	return limit
}

// KeywordSuggestions fetches suggestion items for a seed keyword.
func (c *Client) KeywordSuggestions(ctx context.Context, seed string, limit int) ([]Item, error) {
	payload := []map[string]any{{
		"keyword": strings.ToLower(seed),
		"location_code": c.locationCode,
		"language_code": c.languageCode,
		"include_seed_keyword": true,
		"include_serp_info": false,
		"include_clickstream_data": false,
		"limit": clampLimit(limit, 1000),
	}}
	env, err := c.post(ctx, "/v3/dataforseo_labs/google/keyword_suggestions/live", payload)
	if err != nil {
		return nil, err
	}
	return env.items(), nil
}

// KeywordIdeas fetches idea items for a batch of seed keywords.
func (c *Client) KeywordIdeas(ctx context.Context, seeds []string, limit int) ([]Item, error) {
	lowered := make([]string, 0, len(seeds))
	for _, s := range seeds {
		if s == "" {
			continue
		}
		lowered = append(lowered, strings.ToLower(s))
		if len(lowered) == 200 {
			break
		}
	}
	payload := []map[string]any{{
		"keywords": lowered,
		"location_code": c.locationCode,
		"language_code": c.languageCode,
		"include_serp_info": false,
		"include_clickstream_data": false,
		"limit": clampLimit(limit, 1000),
	}}
	env, err := c.post(ctx, "/v3/dataforseo_labs/google/keyword_ideas/live", payload)
	if err != nil {
		return nil, err
	}
	return env.items(), nil
}

// RelatedKeywords walks the related-searches graph from a seed keyword.
func (c *Client) RelatedKeywords(ctx context.Context, seed string, depth, limit int) ([]Item, error) {
	if depth < 1 {
		depth = 1
	}
	if depth > 4 {
		depth = 4
	}
	payload := []map[string]any{{
		"keyword": strings.ToLower(seed),
		"location_code": c.locationCode,
		"language_code": c.languageCode,
		"depth": depth,
		"include_serp_info": false,
		"include_clickstream_data": false,
		"limit": clampLimit(limit, 5000),
	}}
	env, err := c.post(ctx, "/v3/dataforseo_labs/google/related_keywords/live", payload)
	if err != nil {
		return nil, err
	}
	return env.items(), nil
}

// BulkKeywordDifficulty scores up to 1000 keywords and returns keyword -> KD.
// Keywords the provider skipped are absent from the map.
func (c *Client) BulkKeywordDifficulty(ctx context.Context, keywords []string) (map[string]float64, error) {
	seen := make(map[string]struct{}, len(keywords))
	lowered := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k == "" {
			continue
		}
		k = strings.ToLower(k)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		lowered = append(lowered, k)
		if len(lowered) == 1000 {
			break
		}
	}
	payload := []map[string]any{{
		"location_code": c.locationCode,
		"language_code": c.languageCode,
		"keywords": lowered,
	}}
	env, err := c.post(ctx, "/v3/dataforseo_labs/google/bulk_keyword_difficulty/live", payload)
	if err != nil {
		return nil, err
	}
	if env == nil || len(env.Tasks) == 0 || len(env.Tasks[0].Result) == 0 {
		return map[string]float64{}, nil
	}
	var items []struct {
		Keyword           string   `json:"keyword"`
		KeywordDifficulty *float64 `json:"keyword_difficulty"`
	}
	if err := json.Unmarshal(env.Tasks[0].Result[0].Items, &items); err != nil {
		return map[string]float64{}, nil
	}
	out := make(map[string]float64, len(items))
	for _, it := range items {
		if it.Keyword == "" || it.KeywordDifficulty == nil {
			continue
		}
		out[it.Keyword] = *it.KeywordDifficulty
	}
	return out, nil
}

var (
	schemePrefix = regexp.MustCompile(`(?i)^https?://`)
	wwwPrefix    = regexp.MustCompile(`(?i)^www\.`)
	pathSuffix   = regexp.MustCompile(`/.*$`)
)

// NormalizeDomain strips scheme, www, and path; the ranked-keywords endpoint
// expects a bare domain.
func NormalizeDomain(domain string) string {
	domain = strings.TrimSpace(domain)
	domain = schemePrefix.ReplaceAllString(domain, "")
	domain = wwwPrefix.ReplaceAllString(domain, "")
	return pathSuffix.ReplaceAllString(domain, "")
}

// RankedKeywords pulls keywords a competitor domain ranks for.
func (c *Client) RankedKeywords(ctx context.Context, domain string, limit int) ([]Item, error) {
	payload := []map[string]any{{
		"target": NormalizeDomain(domain),
		"location_code": c.locationCode,
		"language_code": c.languageCode,
		"limit": clampLimit(limit, 1000),
		"ignore_synonyms": true,
	}}
	env, err := c.post(ctx, "/v3/dataforseo_labs/google/ranked_keywords/live", payload)
	if err != nil {
		return nil, err
	}
	return env.items(), nil
}

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}

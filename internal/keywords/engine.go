package keywords

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/clock"
	"github.com/topicmesh/seo-engine/internal/config"
	"github.com/topicmesh/seo-engine/internal/content"
	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/locks"
	"github.com/topicmesh/seo-engine/internal/metrics"
	"github.com/topicmesh/seo-engine/internal/pages"
	"github.com/topicmesh/seo-engine/internal/services/dataforseo"
)

const (
	discoveryLockName = "keyword_discovery"
	discoveryLockTTL  = 120 * time.Second
	suggestionsTTL    = time.Hour
	maxFailures       = 3
	clusterScanLimit  = 2000
	sourceSuggest     = "dataforseo_suggest"
)

// Provider is the keyword-data collaborator the engine discovers and scores
// keywords through.
type Provider interface {
	Configured() bool
	KeywordSuggestions(ctx context.Context, seed string, limit int) ([]dataforseo.Item, error)
	RankedKeywords(ctx context.Context, domain string, limit int) ([]dataforseo.Item, error)
	BulkKeywordDifficulty(ctx context.Context, keywords []string) (map[string]float64, error)
}

// Repository is the persistence port for the keyword pipeline tables.
// *Store implements it.
type Repository interface {
	InsertRaw(ctx context.Context, raw Raw) error
	CandidateIDs(ctx context.Context, keywords []string) (map[string]int64, error)
	AppendSource(ctx context.Context, id int64, source string) error
	InsertCandidate(ctx context.Context, c Candidate) error
	UnscoredKeywords(ctx context.Context, limit int) ([]string, error)
	CandidateMetrics(ctx context.Context, keywords []string) (map[string]Metrics, error)
	ApplyDifficulty(ctx context.Context, keyword string, kd float64, opportunity *float64, status string, notes *string) error
	ScoredApproved(ctx context.Context, limit int) ([]ScoredCandidate, error)
	ClusterIDs(ctx context.Context, keys []string) (map[string]int64, error)
	UpdateCluster(ctx context.Context, id int64, c Cluster) error
	InsertCluster(ctx context.Context, c Cluster) error
	TopUnbuiltClusters(ctx context.Context, limit int) ([]Cluster, error)
	BindClusterPage(ctx context.Context, clusterID, pageID int64) error
	UnbindClusterPage(ctx context.Context, clusterID int64) error
	InsertGeneratedPage(ctx context.Context, pageID, clusterID int64, keyword, kind, indexing string) error
	InsertIndexingCandidate(ctx context.Context, url string, details map[string]any) error
	NextCompetitorRotation(ctx context.Context) (int, error)
	TopCategoryTerms(ctx context.Context, limit int) ([]string, error)
}

// Enqueuer hands follow-up jobs to the queue. *jobs.Store implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType, entityType string, entityID *int64, payload jobs.Payload, delay time.Duration) (int64, error)
}

// Activity records durable audit entries. *logs.Store implements it.
type Activity interface {
	Add(ctx context.Context, level, logContext, message string, data map[string]any) error
}

// Engine runs the keyword discovery cycle.
type Engine struct {
	repo     Repository
	pages    pages.Store
	provider Provider
	locker   *locks.Manager
	cache    *locks.Cache
	queue    Enqueuer
	activity Activity
	logger   *zap.Logger
	clock    clock.Clock
	cfg      config.KeywordsConfig
	baseURL  string
	safeMode bool
	throttle time.Duration
	shuffle  func([]string)
}

// EngineParams collects Engine dependencies.
type EngineParams struct {
	Repo     Repository
	Pages    pages.Store
	Provider Provider
	Locker   *locks.Manager
	Cache    *locks.Cache
	Queue    Enqueuer
	Activity Activity
	Logger   *zap.Logger
	Clock    clock.Clock
	Config   config.KeywordsConfig
	BaseURL  string
	SafeMode bool
}

// NewEngine wires up a keyword engine.
func NewEngine(p EngineParams) (*Engine, error) {
	if p.Repo == nil || p.Pages == nil || p.Provider == nil {
		return nil, fmt.Errorf("repo, pages, and provider are required")
	}
	if p.Locker == nil || p.Cache == nil || p.Queue == nil {
		return nil, fmt.Errorf("locker, cache, and queue are required")
	}
	if p.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repo:     p.Repo,
		pages:    p.Pages,
		provider: p.Provider,
		locker:   p.Locker,
		cache:    p.Cache,
		queue:    p.Queue,
		activity: p.Activity,
		logger:   logger,
		clock:    p.Clock,
		cfg:      p.Config,
		baseURL:  p.BaseURL,
		safeMode: p.SafeMode,
		throttle: 250 * time.Millisecond,
		shuffle: func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		},
	}, nil
}

func (e *Engine) audit(ctx context.Context, level, message string, data map[string]any) {
	if e.activity == nil {
		return
	}
	if err := e.activity.Add(ctx, level, "keywords", message, data); err != nil {
		e.logger.Warn("activity log write failed", zap.Error(err))
	}
}

// RunCycle executes one full keyword cycle for a claimed keyword_cycle job.
// Scoring, clustering, and page creation run even when discovery is skipped
// or breaks early, so re-running the cycle catches up on stored candidates.
func (e *Engine) RunCycle(ctx context.Context, job jobs.Job) error {
	e.audit(ctx, "info", "keyword cycle started", map[string]any{"job_id": job.ID})

	if !e.provider.Configured() {
		e.logger.Warn("keyword provider not configured, skipping cycle")
		e.audit(ctx, "warning", "keyword provider not configured", nil)
		return nil
	}

	lock, ok, err := e.locker.Acquire(ctx, discoveryLockName, discoveryLockTTL)
	if err != nil {
		return fmt.Errorf("acquire discovery lock: %w", err)
	}
	if !ok {
		e.logger.Warn("keyword cycle skipped, discovery lock held")
		return nil
	}

	mode := job.Payload.Mode()
	inserted := 0
	func() {
		defer func() {
			if err := lock.Release(ctx); err != nil {
				e.logger.Warn("release discovery lock", zap.Error(err))
			}
		}()
		if mode == jobs.ModeImportOnly {
			e.logger.Info("discovery skipped", zap.String("mode", mode))
			return
		}
		inserted = e.discover(ctx)
	}()
	e.logger.Info("candidates inserted", zap.Int("count", inserted))

	e.refreshDifficulty(ctx)
	e.rebuildClusters(ctx)
	e.autoCreatePages(ctx)

	e.audit(ctx, "info", "keyword cycle completed", map[string]any{"inserted": inserted})
	return nil
}

func (e *Engine) sleep(ctx context.Context) {
	if e.throttle <= 0 {
		return
	}
	select {
	case <-ctx.Done():
	case <-time.After(e.throttle):
	}
}

func (e *Engine) collectSeeds(ctx context.Context) []string {
	limit := e.cfg.SeedsPerRun
	if limit < 1 {
		limit = 1
	}

	all := append([]string(nil), e.cfg.BaseSeeds...)

	terms, err := e.repo.TopCategoryTerms(ctx, 10)
	if err != nil {
		e.logger.Warn("load category terms", zap.Error(err))
	}
	for _, t := range terms {
		if t != "" {
			all = append(all, t+" cam")
		}
	}

	if domains := e.cfg.CompetitorDomains(); len(domains) > 0 {
		rotation, err := e.repo.NextCompetitorRotation(ctx)
		if err != nil {
			e.logger.Warn("advance competitor rotation", zap.Error(err))
		} else {
			domain := domains[rotation%len(domains)]
			items, err := e.provider.RankedKeywords(ctx, domain, 50)
			if err != nil {
				e.logger.Warn("competitor ranked keywords failed", zap.String("domain", domain), zap.Error(err))
			}
			for _, it := range items {
				if kw := it.Term(); kw != "" {
					all = append(all, kw)
				}
			}
		}
	}

	all = dedupe(all)

	// Keep the head but sample the shuffled tail so long-tail seeds rotate in.
	if len(all) <= limit {
		return all
	}
	head := all[:limit]
	tail := all[limit:]
	e.shuffle(tail)
	for _, s := range tail {
		if len(head) >= limit {
			break
		}
		head = append(head, s)
	}
	return head
}

func (e *Engine) cachedSuggestions(ctx context.Context, seed string) ([]dataforseo.Item, bool) {
	val, hit, err := e.cache.Get(ctx, "suggestions:"+seed)
	if err != nil {
		e.logger.Warn("suggestion cache read failed", zap.Error(err))
		return nil, false
	}
	if !hit {
		return nil, false
	}
	var items []dataforseo.Item
	if err := json.Unmarshal([]byte(val), &items); err != nil {
		return nil, false
	}
	return items, true
}

func (e *Engine) storeSuggestions(ctx context.Context, seed string, items []dataforseo.Item) {
	body, err := json.Marshal(items)
	if err != nil {
		return
	}
	if err := e.cache.Set(ctx, "suggestions:"+seed, string(body), suggestionsTTL); err != nil {
		e.logger.Warn("suggestion cache write failed", zap.Error(err))
	}
}

func (e *Engine) discover(ctx context.Context) int {
	if e.safeMode {
		e.logger.Info("safe mode enabled, skipping discovery")
		return 0
	}

	seeds := e.collectSeeds(ctx)
	if max := e.cfg.SeedBatchLimit; max > 0 && len(seeds) > max {
		seeds = seeds[:max]
	}
	e.logger.Info("seeds collected", zap.Int("count", len(seeds)), zap.Strings("seeds", headOf(seeds, 10)))

	failures := 0
	inserted := 0
	for _, seed := range seeds {
		if inserted >= e.cfg.NewLimit {
			break
		}
		items, cached := e.cachedSuggestions(ctx, seed)
		if !cached {
			var err error
			items, err = e.provider.KeywordSuggestions(ctx, seed, e.cfg.SuggestionsLimit)
			if err != nil {
				failures++
				e.logger.Warn("keyword suggestions failed", zap.String("seed", seed), zap.Error(err))
				if failures >= maxFailures {
					e.logger.Error("discovery circuit breaker triggered")
					e.audit(ctx, "error", "discovery circuit breaker triggered", map[string]any{"seed": seed})
					break
				}
				e.sleep(ctx)
				continue
			}
			failures = 0
			e.storeSuggestions(ctx, seed, items)
		}

		inserted += e.ingestSuggestions(ctx, seed, items, e.cfg.NewLimit-inserted)
		e.sleep(ctx)
	}
	return inserted
}

func (e *Engine) ingestSuggestions(ctx context.Context, seed string, items []dataforseo.Item, budget int) int {
	var lookup []string
	seen := make(map[string]bool)
	for _, it := range items {
		if kw := it.Term(); kw != "" && !seen[kw] {
			seen[kw] = true
			lookup = append(lookup, kw)
		}
	}
	existing, err := e.repo.CandidateIDs(ctx, lookup)
	if err != nil {
		e.logger.Warn("candidate lookup failed", zap.String("seed", seed), zap.Error(err))
		existing = map[string]int64{}
	}

	inserted := 0
	for _, it := range items {
		if inserted >= budget {
			break
		}
		kw := it.Term()
		if kw == "" {
			continue
		}

		var (
			volume      *int
			cpc         *float64
			rawVolume   int
			rawCPC      float64
			competition float64
		)
		if info := it.KeywordInfo; info != nil {
			v := int(info.SearchVolume)
			volume = &v
			rawVolume = v
			if info.CPC != nil {
				cpc = info.CPC
				rawCPC = *info.CPC
			}
			if info.Competition != nil {
				competition = *info.Competition
			}
		}

		// Every discovered keyword lands in the raw audit table, including
		// ones the relevance filter rejects.
		payload, _ := json.Marshal(it)
		if err := e.repo.InsertRaw(ctx, Raw{
			Keyword:     kw,
			Source:      sourceSuggest,
			SourceRef:   seed,
			Volume:      rawVolume,
			CPC:         rawCPC,
			Competition: competition,
			Payload:     payload,
		}); err != nil {
			e.logger.Warn("raw insert failed", zap.String("keyword", kw), zap.Error(err))
		}

		if relevant, reason := IsRelevant(kw); !relevant {
			metrics.ObserveCandidate("filtered:" + reason)
			continue
		}

		if volume != nil && *volume < e.cfg.MinVolume {
			metrics.ObserveCandidate("below_min_volume")
			continue
		}

		if id, ok := existing[kw]; ok {
			if err := e.repo.AppendSource(ctx, id, sourceSuggest+":"+seed); err != nil {
				e.logger.Warn("append source failed", zap.String("keyword", kw), zap.Error(err))
			}
			metrics.ObserveCandidate("source_appended")
			continue
		}

		if err := e.repo.InsertCandidate(ctx, Candidate{
			Keyword:   kw,
			Canonical: Normalize(kw),
			Intent:    InferIntent(kw),
			Volume:    volume,
			CPC:       cpc,
			Sources:   sourceSuggest + ":" + seed,
		}); err != nil {
			e.logger.Warn("candidate insert failed", zap.String("keyword", kw), zap.Error(err))
			continue
		}
		metrics.ObserveCandidate("inserted")
		inserted++
	}
	return inserted
}

func (e *Engine) refreshDifficulty(ctx context.Context) {
	if e.safeMode {
		return
	}
	toScore, err := e.repo.UnscoredKeywords(ctx, e.cfg.KDBatchLimit)
	if err != nil {
		e.logger.Warn("list unscored keywords failed", zap.Error(err))
		return
	}
	if len(toScore) == 0 {
		return
	}

	metricsByKW, err := e.repo.CandidateMetrics(ctx, toScore)
	if err != nil {
		e.logger.Warn("candidate metrics lookup failed", zap.Error(err))
		return
	}

	kdMap, err := e.provider.BulkKeywordDifficulty(ctx, toScore)
	if err != nil {
		e.logger.Warn("difficulty refresh failed", zap.Error(err))
		return
	}

	updated := 0
	for _, kw := range toScore {
		kd, ok := kdMap[normalizedLower(kw)]
		if !ok {
			continue
		}
		m := metricsByKW[kw]
		if m.Intent == "" {
			m.Intent = IntentMixed
		}

		status := CandidateApproved
		var notes *string
		if kd > e.cfg.MaxKD {
			status = CandidateRejected
			n := "auto_reject:kD"
			notes = &n
		}
		opportunity := OpportunityScore(&kd, m.Volume, m.Intent)

		if err := e.repo.ApplyDifficulty(ctx, kw, kd, opportunity, status, notes); err != nil {
			e.logger.Warn("apply difficulty failed", zap.String("keyword", kw), zap.Error(err))
			continue
		}
		metrics.ObserveCandidate(status)
		updated++
	}
	e.logger.Info("difficulty refreshed", zap.Int("updated", updated), zap.Int("scored", len(toScore)))
}

func (e *Engine) rebuildClusters(ctx context.Context) {
	rows, err := e.repo.ScoredApproved(ctx, clusterScanLimit)
	if err != nil {
		e.logger.Warn("list scored candidates failed", zap.Error(err))
		return
	}
	if len(rows) == 0 {
		return
	}

	type rollup struct {
		keywords    []string
		totalVolume int
		sumKD       float64
		kdCount     int
		bestKeyword string
		bestOpp     float64
	}

	groups := make(map[string]*rollup)
	var order []string
	for _, r := range rows {
		if r.Keyword == "" {
			continue
		}
		key := ClusterKey(r.Keyword)
		g, ok := groups[key]
		if !ok {
			g = &rollup{bestKeyword: r.Keyword, bestOpp: r.Opportunity}
			groups[key] = g
			order = append(order, key)
		}
		g.keywords = append(g.keywords, r.Keyword)
		g.totalVolume += r.Volume
		if r.Difficulty != nil && *r.Difficulty != 0 {
			g.sumKD += *r.Difficulty
			g.kdCount++
		}
		if r.Opportunity > g.bestOpp {
			g.bestOpp = r.Opportunity
			g.bestKeyword = r.Keyword
		}
	}

	existing, err := e.repo.ClusterIDs(ctx, order)
	if err != nil {
		e.logger.Warn("cluster lookup failed", zap.Error(err))
		existing = map[string]int64{}
	}

	for _, key := range order {
		g := groups[key]
		var avgKD *float64
		if g.kdCount > 0 {
			avg := roundTo2(g.sumKD / float64(g.kdCount))
			avgKD = &avg
		}
		cluster := Cluster{
			ClusterKey:     key,
			Representative: g.bestKeyword,
			Keywords:       dedupe(g.keywords),
			TotalVolume:    g.totalVolume,
			AvgDifficulty:  avgKD,
			Opportunity:    g.bestOpp,
		}
		if id, ok := existing[key]; ok {
			if err := e.repo.UpdateCluster(ctx, id, cluster); err != nil {
				e.logger.Warn("update cluster failed", zap.String("cluster_key", key), zap.Error(err))
			}
			continue
		}
		if err := e.repo.InsertCluster(ctx, cluster); err != nil {
			e.logger.Warn("insert cluster failed", zap.String("cluster_key", key), zap.Error(err))
		}
	}
	e.logger.Info("clusters rebuilt", zap.Int("clusters", len(groups)))
}

func (e *Engine) autoCreatePages(ctx context.Context) {
	limit := e.cfg.PagesPerDay
	if limit <= 0 {
		return
	}
	clusters, err := e.repo.TopUnbuiltClusters(ctx, limit)
	if err != nil {
		e.logger.Warn("list unbuilt clusters failed", zap.Error(err))
		return
	}
	if len(clusters) == 0 {
		e.logger.Info("no clusters available for auto page creation")
		return
	}

	created := 0
	for _, c := range clusters {
		if c.Representative == "" {
			continue
		}
		if e.createClusterPage(ctx, c) {
			created++
		}
	}
	e.logger.Info("auto pages created", zap.Int("count", created))
	e.audit(ctx, "info", "auto pages created", map[string]any{"count": created})
}

// createClusterPage builds one draft page for a cluster. Bookkeeping failures
// compensate by deleting the page so a half-created cluster can retry later.
func (e *Engine) createClusterPage(ctx context.Context, c Cluster) bool {
	keyword := c.Representative
	slug := pages.Slugify(keyword)
	if slug == "" {
		return false
	}
	base := slug
	for i := 2; i <= 20; i++ {
		taken, err := e.pages.SlugExists(ctx, slug)
		if err != nil {
			e.logger.Warn("slug check failed", zap.String("slug", slug), zap.Error(err))
			return false
		}
		if !taken {
			break
		}
		slug = fmt.Sprintf("%s-%d", base, i)
	}

	pageID, err := e.pages.Create(ctx, pages.Page{
		Title:   keyword,
		Slug:    slug,
		Status:  pages.StatusDraft,
		Content: content.Marker + "\n",
		NoIndex: true,
	})
	if err != nil {
		e.logger.Warn("page creation failed", zap.String("keyword", keyword), zap.Error(err))
		return false
	}

	rollback := func(cause error) {
		e.logger.Warn("page bookkeeping failed, deleting page",
			zap.Int64("page_id", pageID), zap.String("keyword", keyword), zap.Error(cause))
		if err := e.pages.Delete(ctx, pageID); err != nil {
			e.logger.Error("page rollback delete failed", zap.Int64("page_id", pageID), zap.Error(err))
		}
		if err := e.repo.UnbindClusterPage(ctx, c.ID); err != nil {
			e.logger.Error("cluster unbind failed", zap.Int64("cluster_id", c.ID), zap.Error(err))
		}
	}

	for key, value := range map[string]string{
		pages.MetaGenerated: "1",
		pages.MetaClusterID: fmt.Sprintf("%d", c.ID),
		pages.MetaKeyword:   keyword,
	} {
		if err := e.pages.SetMeta(ctx, pageID, key, value); err != nil {
			rollback(err)
			return false
		}
	}

	if err := e.repo.InsertGeneratedPage(ctx, pageID, c.ID, keyword, "keyword", "noindex"); err != nil {
		rollback(err)
		return false
	}
	if err := e.repo.BindClusterPage(ctx, c.ID, pageID); err != nil {
		rollback(err)
		return false
	}

	if _, err := e.queue.Enqueue(ctx, jobs.TypeOptimizePost, "page", &pageID, jobs.Payload{
		"context": "keyword_page",
		"keyword": keyword,
	}, 0); err != nil {
		e.logger.Warn("enqueue optimize_post failed", zap.Int64("page_id", pageID), zap.Error(err))
	}

	url := pages.Permalink(e.baseURL, slug)
	if err := e.repo.InsertIndexingCandidate(ctx, url, map[string]any{
		"page_id": pageID,
		"keyword": keyword,
	}); err != nil {
		e.logger.Warn("indexing candidate insert failed", zap.String("url", url), zap.Error(err))
	}

	metrics.ObservePageGenerated()
	return true
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func headOf(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// normalizedLower matches the casing the difficulty endpoint keys its
// response map by.
func normalizedLower(s string) string {
	return strings.ToLower(s)
}

func roundTo2(v float64) float64 {
	return math.Round(v*100) / 100
}

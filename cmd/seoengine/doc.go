// Package main hosts the SEO engine service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, queue management,
//     keyword pipeline listings, cluster analysis, lighthouse results, and the
//     activity log. Mutating endpoints translate requests into queued jobs
//     rather than doing the work inline.
//   - Job queue: internal/jobs persists jobs in Postgres. The worker claims
//     batches with row-level locking, retries failures with a stepped backoff,
//     and dead-letters jobs after four attempts. A Redis advisory lock keeps
//     concurrent instances from draining the queue at the same time.
//   - Scheduler: in-process tickers fire a daily tick (healthcheck, keyword
//     discovery cycle, publish scan) and a weekly tick (pagespeed health
//     cycle, lighthouse scan fan-out).
//   - Keyword pipeline: seeds from taxonomy terms and configured base seeds
//     flow through DataForSEO suggestion and ranked-keyword endpoints, get
//     validated and difficulty-filtered, then clustered into page candidates.
//   - Content: optimize_post jobs call OpenAI chat completions to produce SEO
//     title, meta description, focus keyword, and body HTML, written inside
//     engine-managed marker comments so manual edits survive regeneration.
//   - Clusters: topic clusters link pillar and support pages. The linking
//     engine diffs expected against actual internal links, the scorer grades
//     structure plus performance, the advisor emits prioritized issues, and
//     the injector writes missing links into page content.
//   - Lighthouse: published pages sync into an audit target list; scan jobs
//     store normalized scores per strategy and the raw payload, which the
//     systemic advisor aggregates into site-wide failing audits.
//   - Configuration & plumbing: Viper populates config from file and env;
//     zap provides structured logging; Prometheus metrics are exported via
//     the /metrics handler; schema migrations are embedded and applied at
//     startup.
//
// Run locally: go run ./cmd/seoengine -config config.yaml (or rely on
// SEOENGINE_* env overrides). The process reacts to SIGTERM with a graceful
// drain of the HTTP server and cancellation of worker and scheduler loops.
package main

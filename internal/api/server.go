// Package api exposes the HTTP interface for the engine: queue management,
// cluster analysis, keyword pipeline listings, and audit results.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/cluster"
	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/keywords"
	"github.com/topicmesh/seo-engine/internal/lighthouse"
	"github.com/topicmesh/seo-engine/internal/logs"
)

// JobQueue is the job store surface the API exposes.
type JobQueue interface {
	Enqueue(ctx context.Context, jobType, entityType string, entityID *int64, payload jobs.Payload, delay time.Duration) (int64, error)
	Get(ctx context.Context, id int64) (jobs.Job, error)
	List(ctx context.Context, status jobs.Status, limit int) ([]jobs.Job, error)
	CountByStatus(ctx context.Context) (jobs.Counts, error)
}

// Runner triggers a manual queue drain. *worker.Worker implements it.
type Runner interface {
	RunOnce(ctx context.Context) (int, error)
}

// KeywordLister exposes the discovery pipeline's read views.
type KeywordLister interface {
	ListCandidates(ctx context.Context, status string, limit int) ([]keywords.Candidate, error)
	ListClusters(ctx context.Context, limit int) ([]keywords.Cluster, error)
}

// ClusterStore is the cluster CRUD surface. *cluster.Store implements it.
type ClusterStore interface {
	List(ctx context.Context, status string, limit, offset int) ([]cluster.Cluster, error)
	Get(ctx context.Context, id int64) (cluster.Cluster, error)
	Create(ctx context.Context, name string) (cluster.Cluster, error)
	AddPage(ctx context.Context, clusterID, pageID int64, role string) error
}

// Analyzer runs linking analysis. *cluster.LinkingEngine implements it.
type Analyzer interface {
	Analyze(ctx context.Context, clusterID int64) (cluster.Analysis, error)
}

// Scorer computes cluster scores. *cluster.ScoringEngine implements it.
type Scorer interface {
	Score(ctx context.Context, clusterID int64) (cluster.Score, error)
}

// Adviser produces cluster recommendations. *cluster.Advisor implements it.
type Adviser interface {
	Advise(ctx context.Context, clusterID int64) (cluster.Advice, error)
}

// LinkInjector writes missing internal links. *cluster.Injector implements it.
type LinkInjector interface {
	InjectMissingLinks(ctx context.Context, clusterID int64) (int, error)
}

// AuditStore is the lighthouse read surface. *lighthouse.Store implements it.
type AuditStore interface {
	ListWithLatest(ctx context.Context, strategy string, limit int) ([]lighthouse.TargetStatus, error)
	LatestRawResults(ctx context.Context, strategy string) ([]string, error)
}

// ActivityLog exposes the durable activity feed. *logs.Store implements it.
type ActivityLog interface {
	Latest(ctx context.Context, level string, limit int) ([]logs.Entry, error)
}

// Pinger reports database liveness for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP handlers to the engine components.
type Server struct {
	router   chi.Router
	queue    JobQueue
	runner   Runner
	keywords KeywordLister
	clusters ClusterStore
	analyzer Analyzer
	scorer   Scorer
	adviser  Adviser
	injector LinkInjector
	audits   AuditStore
	activity ActivityLog
	pinger   Pinger
	logger   *zap.Logger
}

// Params collects Server dependencies. Queue is required; handlers whose
// dependency is absent respond 503.
type Params struct {
	Queue    JobQueue
	Runner   Runner
	Keywords KeywordLister
	Clusters ClusterStore
	Analyzer Analyzer
	Scorer   Scorer
	Adviser  Adviser
	Injector LinkInjector
	Audits   AuditStore
	Activity ActivityLog
	Pinger   Pinger
	Logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(p Params) (*Server, error) {
	if p.Queue == nil {
		return nil, errors.New("queue is required")
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	s := &Server{
		queue:    p.Queue,
		runner:   p.Runner,
		keywords: p.Keywords,
		clusters: p.Clusters,
		analyzer: p.Analyzer,
		scorer:   p.Scorer,
		adviser:  p.Adviser,
		injector: p.Injector,
		audits:   p.Audits,
		activity: p.Activity,
		pinger:   p.Pinger,
		logger:   p.Logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.enqueueJob)
			r.Get("/", s.listJobs)
			r.Get("/counts", s.jobCounts)
			r.Post("/run", s.runQueue)
			r.Get("/{job_id}", s.getJob)
		})
		r.Route("/keywords", func(r chi.Router) {
			r.Get("/candidates", s.listCandidates)
			r.Get("/clusters", s.listKeywordClusters)
		})
		r.Route("/clusters", func(r chi.Router) {
			r.Get("/", s.listClusters)
			r.Post("/", s.createCluster)
			r.Route("/{cluster_id}", func(r chi.Router) {
				r.Get("/", s.getCluster)
				r.Post("/pages", s.addClusterPage)
				r.Get("/analyze", s.analyzeCluster)
				r.Get("/score", s.scoreCluster)
				r.Get("/advise", s.adviseCluster)
				r.Post("/inject", s.injectClusterLinks)
			})
		})
		r.Route("/lighthouse", func(r chi.Router) {
			r.Get("/targets", s.listAuditTargets)
			r.Get("/issues", s.listAuditIssues)
		})
		r.Get("/logs", s.listActivity)
	})

	s.router = r
	return s, nil
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "database unavailable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	Type         string       `json:"type"`
	EntityType   string       `json:"entity_type"`
	EntityID     *int64       `json:"entity_id"`
	Payload      jobs.Payload `json:"payload"`
	DelaySeconds int          `json:"delay_seconds"`
}

func (s *Server) enqueueJob(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "job type is required")
		return
	}
	delay := time.Duration(req.DelaySeconds) * time.Second
	id, err := s.queue.Enqueue(r.Context(), req.Type, req.EntityType, req.EntityID, req.Payload, delay)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int64{"job_id": id})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	status := jobs.Status(r.URL.Query().Get("status"))
	list, err := s.queue.List(r.Context(), status, queryInt(r, "limit", 50))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

func (s *Server) jobCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.queue.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "job_id")
	if !ok {
		return
	}
	job, err := s.queue.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

// runQueue drains one batch immediately, bypassing the scheduled-run lock.
func (s *Server) runQueue(w http.ResponseWriter, r *http.Request) {
	if s.runner == nil {
		writeError(w, http.StatusServiceUnavailable, "worker not configured")
		return
	}
	processed, err := s.runner.RunOnce(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"processed": processed})
}

func (s *Server) listCandidates(w http.ResponseWriter, r *http.Request) {
	if s.keywords == nil {
		writeError(w, http.StatusServiceUnavailable, "keyword pipeline not configured")
		return
	}
	list, err := s.keywords.ListCandidates(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": list})
}

func (s *Server) listKeywordClusters(w http.ResponseWriter, r *http.Request) {
	if s.keywords == nil {
		writeError(w, http.StatusServiceUnavailable, "keyword pipeline not configured")
		return
	}
	list, err := s.keywords.ListClusters(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": list})
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	if s.clusters == nil {
		writeError(w, http.StatusServiceUnavailable, "clusters not configured")
		return
	}
	list, err := s.clusters.List(r.Context(), r.URL.Query().Get("status"), queryInt(r, "limit", 50), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"clusters": list})
}

type createClusterRequest struct {
	Name string `json:"name"`
}

func (s *Server) createCluster(w http.ResponseWriter, r *http.Request) {
	if s.clusters == nil {
		writeError(w, http.StatusServiceUnavailable, "clusters not configured")
		return
	}
	var req createClusterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "cluster name is required")
		return
	}
	c, err := s.clusters.Create(r.Context(), req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"cluster": c})
}

func (s *Server) getCluster(w http.ResponseWriter, r *http.Request) {
	if s.clusters == nil {
		writeError(w, http.StatusServiceUnavailable, "clusters not configured")
		return
	}
	id, ok := pathID(w, r, "cluster_id")
	if !ok {
		return
	}
	c, err := s.clusters.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, cluster.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cluster not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cluster": c})
}

type addPageRequest struct {
	PageID int64  `json:"page_id"`
	Role   string `json:"role"`
}

func (s *Server) addClusterPage(w http.ResponseWriter, r *http.Request) {
	if s.clusters == nil {
		writeError(w, http.StatusServiceUnavailable, "clusters not configured")
		return
	}
	id, ok := pathID(w, r, "cluster_id")
	if !ok {
		return
	}
	var req addPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PageID <= 0 {
		writeError(w, http.StatusBadRequest, "page_id is required")
		return
	}
	if req.Role == "" {
		req.Role = cluster.RoleSupport
	}
	if err := s.clusters.AddPage(r.Context(), id, req.PageID, req.Role); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) analyzeCluster(w http.ResponseWriter, r *http.Request) {
	if s.analyzer == nil {
		writeError(w, http.StatusServiceUnavailable, "linking analysis not configured")
		return
	}
	id, ok := pathID(w, r, "cluster_id")
	if !ok {
		return
	}
	analysis, err := s.analyzer.Analyze(r.Context(), id)
	if err != nil {
		if errors.Is(err, cluster.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cluster not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *Server) scoreCluster(w http.ResponseWriter, r *http.Request) {
	if s.scorer == nil {
		writeError(w, http.StatusServiceUnavailable, "scoring not configured")
		return
	}
	id, ok := pathID(w, r, "cluster_id")
	if !ok {
		return
	}
	score, err := s.scorer.Score(r.Context(), id)
	if err != nil {
		if errors.Is(err, cluster.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cluster not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) adviseCluster(w http.ResponseWriter, r *http.Request) {
	if s.adviser == nil {
		writeError(w, http.StatusServiceUnavailable, "advisor not configured")
		return
	}
	id, ok := pathID(w, r, "cluster_id")
	if !ok {
		return
	}
	advice, err := s.adviser.Advise(r.Context(), id)
	if err != nil {
		if errors.Is(err, cluster.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cluster not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, advice)
}

func (s *Server) injectClusterLinks(w http.ResponseWriter, r *http.Request) {
	if s.injector == nil {
		writeError(w, http.StatusServiceUnavailable, "injector not configured")
		return
	}
	id, ok := pathID(w, r, "cluster_id")
	if !ok {
		return
	}
	updated, err := s.injector.InjectMissingLinks(r.Context(), id)
	if err != nil {
		if errors.Is(err, cluster.ErrNotFound) {
			writeError(w, http.StatusNotFound, "cluster not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": updated})
}

func (s *Server) listAuditTargets(w http.ResponseWriter, r *http.Request) {
	if s.audits == nil {
		writeError(w, http.StatusServiceUnavailable, "lighthouse not configured")
		return
	}
	list, err := s.audits.ListWithLatest(r.Context(), r.URL.Query().Get("strategy"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"targets": list})
}

func (s *Server) listAuditIssues(w http.ResponseWriter, r *http.Request) {
	if s.audits == nil {
		writeError(w, http.StatusServiceUnavailable, "lighthouse not configured")
		return
	}
	issues, err := lighthouse.SystemicIssues(r.Context(), s.audits, r.URL.Query().Get("strategy"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"issues": issues})
}

func (s *Server) listActivity(w http.ResponseWriter, r *http.Request) {
	if s.activity == nil {
		writeError(w, http.StatusServiceUnavailable, "activity log not configured")
		return
	}
	entries, err := s.activity.Latest(r.Context(), r.URL.Query().Get("level"), queryInt(r, "limit", 100))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

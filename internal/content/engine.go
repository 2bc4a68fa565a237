package content

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/topicmesh/seo-engine/internal/clock"
	"github.com/topicmesh/seo-engine/internal/config"
	"github.com/topicmesh/seo-engine/internal/jobs"
	"github.com/topicmesh/seo-engine/internal/pages"
	"github.com/topicmesh/seo-engine/internal/services/openai"
)

// Page contexts driving prompt shape and target length.
const (
	ContextKeywordPage = "keyword_page"
	ContextVideoOrPost = "video_or_post"
)

// Generator is the AI text-generation collaborator. *openai.Client
// implements it.
type Generator interface {
	Configured() bool
	ChatJSON(ctx context.Context, messages []openai.Message, model string, opts openai.ChatOptions, out any) error
}

// Enqueuer hands follow-up jobs to the queue. *jobs.Store implements it.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType, entityType string, entityID *int64, payload jobs.Payload, delay time.Duration) (int64, error)
}

// Activity records durable audit entries. *logs.Store implements it.
type Activity interface {
	Add(ctx context.Context, level, logContext, message string, data map[string]any) error
}

// Engine runs optimize_post jobs: it generates SEO title, meta description,
// focus keyword, and body HTML for a page, writing the HTML into the
// engine-managed marker block.
type Engine struct {
	pages     pages.Store
	generator Generator
	queue     Enqueuer
	activity  Activity
	logger    *zap.Logger
	clock     clock.Clock
	openAI    config.OpenAIConfig
	safeMode  bool
	dryRun    bool
}

// EngineParams collects Engine dependencies.
type EngineParams struct {
	Pages     pages.Store
	Generator Generator
	Queue     Enqueuer
	Activity  Activity
	Logger    *zap.Logger
	Clock     clock.Clock
	OpenAI    config.OpenAIConfig
	SafeMode  bool
	DryRun    bool
}

// NewEngine wires up a content engine.
func NewEngine(p EngineParams) (*Engine, error) {
	if p.Pages == nil || p.Generator == nil || p.Queue == nil {
		return nil, fmt.Errorf("pages, generator, and queue are required")
	}
	if p.Clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pages:     p.Pages,
		generator: p.Generator,
		queue:     p.Queue,
		activity:  p.Activity,
		logger:    logger,
		clock:     p.Clock,
		openAI:    p.OpenAI,
		safeMode:  p.SafeMode,
		dryRun:    p.DryRun,
	}, nil
}

func (e *Engine) audit(ctx context.Context, level, message string, data map[string]any) {
	if e.activity == nil {
		return
	}
	if err := e.activity.Add(ctx, level, "content", message, data); err != nil {
		e.logger.Warn("activity log write failed", zap.Error(err))
	}
}

// EnqueueOnPublish queues optimization for a freshly published page, guarded
// by done/enqueued markers so each page is optimized exactly once.
func (e *Engine) EnqueueOnPublish(ctx context.Context, pageID int64) error {
	done, err := e.pages.GetMeta(ctx, pageID, pages.MetaOptimizeDone)
	if err != nil {
		return fmt.Errorf("read optimize markers: %w", err)
	}
	if done != "" {
		return nil
	}
	enqueued, err := e.pages.GetMeta(ctx, pageID, pages.MetaOptimizeEnqueued)
	if err != nil {
		return fmt.Errorf("read optimize markers: %w", err)
	}
	if enqueued != "" {
		return nil
	}

	if err := e.pages.SetMeta(ctx, pageID, pages.MetaOptimizeEnqueued, "1"); err != nil {
		return fmt.Errorf("set enqueued marker: %w", err)
	}
	if _, err := e.queue.Enqueue(ctx, jobs.TypeOptimizePost, "page", &pageID, jobs.Payload{
		"context": ContextVideoOrPost,
		"trigger": "publish",
	}, 0); err != nil {
		return fmt.Errorf("enqueue optimize_post: %w", err)
	}
	e.logger.Info("optimize enqueued on publish", zap.Int64("page_id", pageID))
	return nil
}

// generated is the strict JSON shape the AI provider must return.
type generated struct {
	SEOTitle        string `json:"seo_title"`
	MetaDescription string `json:"meta_description"`
	FocusKeyword    string `json:"focus_keyword"`
	ContentHTML     string `json:"content_html"`
}

// RunOptimize executes one optimize_post job. Data-level failures (missing
// page, provider errors, malformed AI output) are logged and swallowed so a
// single bad page never dead-letters the job.
func (e *Engine) RunOptimize(ctx context.Context, job jobs.Job) error {
	pageID := int64(0)
	if job.EntityID != nil {
		pageID = *job.EntityID
	}
	if pageID <= 0 {
		e.logger.Warn("optimize_post missing entity id", zap.Int64("job_id", job.ID))
		return nil
	}

	page, err := e.pages.Get(ctx, pageID)
	if err != nil {
		e.logger.Warn("page not found", zap.Int64("page_id", pageID), zap.Error(err))
		return nil
	}

	clearEnqueued := func() {
		if err := e.pages.DeleteMeta(ctx, pageID, pages.MetaOptimizeEnqueued); err != nil {
			e.logger.Warn("clear enqueued marker failed", zap.Int64("page_id", pageID), zap.Error(err))
		}
	}

	if e.safeMode {
		e.logger.Info("safe mode enabled, skipping generation", zap.Int64("page_id", pageID))
		clearEnqueued()
		if err := e.pages.SetMeta(ctx, pageID, pages.MetaOptimizeDone, "skipped_safe_mode"); err != nil {
			return fmt.Errorf("set done marker: %w", err)
		}
		return nil
	}

	if e.dryRun {
		if err := e.pages.UpdateContent(ctx, pageID, dryRunContent(page.Title)); err != nil {
			return fmt.Errorf("write dry run content: %w", err)
		}
		clearEnqueued()
		if err := e.pages.SetMeta(ctx, pageID, pages.MetaOptimizeDone, "dry_run"); err != nil {
			return fmt.Errorf("set done marker: %w", err)
		}
		e.logger.Info("dry run content generated", zap.Int64("page_id", pageID))
		return nil
	}

	if !e.generator.Configured() {
		e.logger.Warn("generator not configured, skipping", zap.Int64("page_id", pageID))
		clearEnqueued()
		return nil
	}

	pageContext := job.Payload.String("context")
	if pageContext == "" {
		pageContext = e.inferContext(ctx, pageID)
	}
	keyword := job.Payload.String("keyword")
	if keyword == "" {
		keyword, _ = e.pages.GetMeta(ctx, pageID, pages.MetaKeyword)
	}

	cleanTitle := ShortenTitle(FixTitle(page.Title), 70)
	model := e.openAI.ModelForQuality()

	var out generated
	err = e.generator.ChatJSON(ctx, buildPrompt(pageContext, cleanTitle, keyword), model, openai.ChatOptions{
		Temperature: 0.6,
		MaxTokens:   2200,
	}, &out)
	if err != nil {
		e.logger.Error("content generation failed", zap.Int64("page_id", pageID), zap.Error(err))
		e.audit(ctx, "error", "content generation failed", map[string]any{"page_id": pageID})
		clearEnqueued()
		return nil
	}

	seoTitle := ShortenTitle(strings.TrimSpace(out.SEOTitle), 60)
	metaDesc := strings.TrimSpace(out.MetaDescription)
	focusKW := strings.TrimSpace(out.FocusKeyword)
	html := strings.TrimSpace(out.ContentHTML)

	for key, value := range map[string]string{
		pages.MetaSEOTitle:     seoTitle,
		pages.MetaDescription:  metaDesc,
		pages.MetaFocusKeyword: focusKW,
	} {
		if value == "" {
			continue
		}
		if err := e.pages.SetMeta(ctx, pageID, key, value); err != nil {
			e.logger.Warn("set seo meta failed", zap.Int64("page_id", pageID), zap.String("key", key), zap.Error(err))
		}
	}

	newBody := UpsertBlock(page.Content, html)
	if newBody != page.Content {
		if err := e.pages.UpdateContent(ctx, pageID, newBody); err != nil {
			return fmt.Errorf("update page content: %w", err)
		}
	}

	clearEnqueued()
	if err := e.pages.SetMeta(ctx, pageID, pages.MetaOptimizeDone, e.clock.Now().UTC().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("set done marker: %w", err)
	}

	e.logger.Info("page optimized",
		zap.Int64("page_id", pageID),
		zap.String("context", pageContext),
		zap.String("model", model),
	)
	e.audit(ctx, "info", "page optimized", map[string]any{"page_id": pageID, "context": pageContext})
	return nil
}

func (e *Engine) inferContext(ctx context.Context, pageID int64) string {
	if gen, _ := e.pages.GetMeta(ctx, pageID, pages.MetaGenerated); gen != "" {
		return ContextKeywordPage
	}
	return ContextVideoOrPost
}

func buildPrompt(pageContext, cleanTitle, keyword string) []openai.Message {
	lengthHint := "250-400 words"
	if pageContext == ContextKeywordPage {
		lengthHint = "800-1000 words"
	}

	system := openai.Message{
		Role: "system",
		Content: "You are an SEO copywriter for an adult webcam directory.\n" +
			"Write informative, helpful content about adult webcam / live video chat.\n" +
			"Keep language non-explicit and safe: do NOT describe graphic sexual acts.\n" +
			"Focus on user intent (features, safety, privacy, etiquette, what to expect).\n" +
			"Output STRICT JSON with keys: seo_title, meta_description, focus_keyword, content_html.\n" +
			"seo_title <= 60 characters. meta_description 150-160 characters.\n" +
			"content_html must be valid HTML (p, h2, h3, ul, li).\n",
	}

	var b strings.Builder
	b.WriteString("PAGE CONTEXT\n")
	fmt.Fprintf(&b, "- Context: %s\n", pageContext)
	fmt.Fprintf(&b, "- Current title (cleaned): %s\n", cleanTitle)
	if keyword != "" {
		fmt.Fprintf(&b, "- Primary keyword: %s\n", keyword)
	}
	fmt.Fprintf(&b, "- Target length: %s\n", lengthHint)
	b.WriteString("\nWRITE:\n")
	b.WriteString("1) SEO title that matches the page and includes the keyword naturally.\n")
	b.WriteString("2) Meta description with a clear value proposition.\n")
	b.WriteString("3) One focus keyword (short).\n")
	b.WriteString("4) content_html with structured headings and an FAQ section (3-5 Q&As).\n")

	return []openai.Message{system, {Role: "user", Content: b.String()}}
}

func dryRunContent(title string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\n<h2>About %s</h2>\n", title)
	b.WriteString("<p>This is structured SEO placeholder content generated in dry run mode.</p>\n\n")
	fmt.Fprintf(&b, "<h2>Why Watch %s</h2>\n", title)
	b.WriteString("<p>Detailed keyword-rich description would appear here.</p>\n\n")
	b.WriteString("<h2>Related Models & Scenes</h2>\n")
	b.WriteString("<p>Internal linking structure placeholder.</p>\n\n")
	fmt.Fprintf(&b, "<p><strong>SEO Meta Description:</strong> Optimized preview for %s.</p>\n", title)
	return b.String()
}

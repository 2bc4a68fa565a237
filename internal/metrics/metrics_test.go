package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init() // second call must not re-register collectors

	ObserveJob("healthcheck", "success", 50*time.Millisecond)
	ObserveCandidate("inserted")
	ObservePageGenerated()
	ObserveLinkInjected()
	ObserveProviderRequest("dataforseo", "ok", time.Second)
	ObserveHTTPRequest(http.MethodGet, "/v1/jobs", http.StatusOK, 10*time.Millisecond)
	SetQueueDepth("queued", 3)
}

func TestHandlerServesMetrics(t *testing.T) {
	Init()
	ObserveJob("keyword_cycle", "success", time.Second)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "seoengine_jobs_total"), "expected job counter in output")
}

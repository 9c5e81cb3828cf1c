package webtool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

const duckFixture = `<html><body>
<div class="result">
  <a class="result__a" href="//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&amp;rut=abc">The Go Programming Language</a>
  <div class="result__snippet">Go is an open source language.</div>
</div>
<div class="result">
  <a class="result__a" href="https://go.dev/blog/">The Go Blog</a>
  <div class="result__snippet">News from the team.</div>
</div>
<div class="result">
  <a class="result__a" href="https://pkg.go.dev/">Package Index</a>
</div>
</body></html>`

// TestSearch_DuckDuckGo verifies the HTML engine posts the query, honors the
// freshness window, unwraps redirect links, and caps results.
func TestSearch_DuckDuckGo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.Header.Get("Content-Type"), "application/x-www-form-urlencoded")
		assert.Equal(t, "golang generics", r.PostFormValue("q"))
		assert.Equal(t, "w", r.PostFormValue("df"))
		fmt.Fprint(w, duckFixture)
	}))
	defer srv.Close()

	tool := newTestTool(SearchPolicy{})
	tool.engine.(*duckduckgoEngine).endpoint = srv.URL

	out := invoke(t, tool, map[string]any{
		"operation":   "search",
		"query":       "golang generics",
		"max_results": 2,
		"time_range":  "week",
	})
	res, ok := out.(SearchResponse)
	require.True(t, ok)

	assert.Equal(t, "duckduckgo", res.Engine)
	assert.Equal(t, "golang generics", res.Query)
	require.Equal(t, 2, res.Count)

	assert.Equal(t, "The Go Programming Language", res.Results[0].Title)
	assert.Equal(t, "https://go.dev/", res.Results[0].URL)
	assert.Equal(t, "Go is an open source language.", res.Results[0].Snippet)
	assert.Equal(t, "https://go.dev/blog/", res.Results[1].URL)
}

// TestSearch_Brave verifies the API engine sends the subscription token and
// freshness parameter and maps the JSON payload.
func TestSearch_Brave(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret-token", r.Header.Get("X-Subscription-Token"))
		assert.Equal(t, "golang", r.URL.Query().Get("q"))
		assert.Equal(t, "3", r.URL.Query().Get("count"))
		assert.Equal(t, "pw", r.URL.Query().Get("freshness"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"web":{"results":[
			{"title":"Result One","url":"https://one.test/","description":"First."},
			{"title":"Result Two","url":"https://two.test/","description":"Second."}
		]}}`)
	}))
	defer srv.Close()

	tool := newTestTool(SearchPolicy{Engine: "brave", APIKey: "secret-token"})
	tool.engine.(*braveEngine).endpoint = srv.URL

	out := invoke(t, tool, map[string]any{
		"operation":   "search",
		"query":       "golang",
		"max_results": 3,
		"time_range":  "week",
	})
	res := out.(SearchResponse)

	assert.Equal(t, "brave", res.Engine)
	require.Equal(t, 2, res.Count)
	assert.Equal(t, "Result One", res.Results[0].Title)
	assert.Equal(t, "https://two.test/", res.Results[1].URL)
	assert.Equal(t, "Second.", res.Results[1].Snippet)
}

// TestSearch_EmptyQuery verifies a missing query is rejected up front.
func TestSearch_EmptyQuery(t *testing.T) {
	tool := newTestTool(SearchPolicy{})
	assert.Equal(t, ports.KindInvalidArguments,
		invokeKind(t, tool, map[string]any{"operation": "search"}))
}

// TestSearch_CacheRoundTrip verifies an identical query is answered from
// cache without hitting the engine again.
func TestSearch_CacheRoundTrip(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, duckFixture)
	}))
	defer srv.Close()

	tool := newTestTool(SearchPolicy{})
	tool.engine.(*duckduckgoEngine).endpoint = srv.URL
	args := map[string]any{"operation": "search", "query": "golang", "max_results": 2}

	first := invoke(t, tool, args).(SearchResponse)
	assert.False(t, first.Cached)
	assert.Equal(t, int32(1), hits.Load())

	second := invoke(t, tool, args).(SearchResponse)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Results, second.Results)
	assert.Equal(t, int32(1), hits.Load())

	// A different window is a different query.
	invoke(t, tool, map[string]any{"operation": "search", "query": "golang", "max_results": 2, "time_range": "day"})
	assert.Equal(t, int32(2), hits.Load())
}

// TestSearch_EngineFailure verifies engine-side errors surface as
// engine_unavailable with the upstream status.
func TestSearch_EngineFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	tool := newTestTool(SearchPolicy{})
	tool.engine.(*duckduckgoEngine).endpoint = srv.URL

	_, err := tool.Invoke(context.Background(), map[string]any{"operation": "search", "query": "golang"})
	require.Error(t, err)
	var te *ports.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ports.KindEngineUnavailable, te.Kind)
	assert.Contains(t, te.Message, "status 429")
	assert.True(t, te.Retryable)
}

// TestSearch_Throttled verifies limiter exhaustion blocks the call before
// the engine is contacted.
func TestSearch_Throttled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, duckFixture)
	}))
	defer srv.Close()

	limiter := &stubLimiter{err: errors.New("bucket empty")}
	tool := New(SearchPolicy{}, newMemCache(), limiter, zerolog.New(zerolog.Nop()))
	tool.engine.(*duckduckgoEngine).endpoint = srv.URL

	_, err := tool.Invoke(context.Background(), map[string]any{"operation": "search", "query": "golang"})
	require.Error(t, err)
	var te *ports.ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ports.KindEngineUnavailable, te.Kind)
	assert.Contains(t, te.Message, "search engine throttled")
	assert.Zero(t, hits.Load())
	assert.Equal(t, []string{"engine:duckduckgo"}, limiter.acquired())
}

// TestSearch_MaxResultsClamped verifies requested result counts above the
// policy ceiling fall back to the configured maximum.
func TestSearch_MaxResultsClamped(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, duckFixture)
	}))
	defer srv.Close()

	tool := newTestTool(SearchPolicy{MaxResults: 1})
	tool.engine.(*duckduckgoEngine).endpoint = srv.URL

	res := invoke(t, tool, map[string]any{"operation": "search", "query": "golang", "max_results": 50}).(SearchResponse)
	assert.Equal(t, 1, res.Count)
}

// TestCleanDuckURL verifies redirect unwrapping keeps plain links intact.
func TestCleanDuckURL(t *testing.T) {
	assert.Equal(t, "https://go.dev/",
		cleanDuckURL("//duckduckgo.com/l/?uddg=https%3A%2F%2Fgo.dev%2F&rut=abc"))
	assert.Equal(t, "https://go.dev/blog/", cleanDuckURL("https://go.dev/blog/"))
	assert.Equal(t, "/relative", cleanDuckURL("/relative"))
}

// BenchmarkSearch_Cached measures cache-served search responses.
func BenchmarkSearch_Cached(b *testing.B) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, duckFixture)
	}))
	defer srv.Close()

	tool := newTestTool(SearchPolicy{})
	tool.engine.(*duckduckgoEngine).endpoint = srv.URL
	args := map[string]any{"operation": "search", "query": "golang"}
	if _, err := tool.Invoke(context.Background(), args); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := tool.Invoke(context.Background(), args); err != nil {
			b.Fatal(err)
		}
	}
}

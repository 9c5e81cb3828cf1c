package webtool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// SearchItem is one engine result, in engine order.
type SearchItem struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// SearchResponse is the payload returned by the search operation.
type SearchResponse struct {
	Query   string       `json:"query"`
	Engine  string       `json:"engine"`
	Results []SearchItem `json:"results"`
	Count   int          `json:"count"`
	Cached  bool         `json:"cached,omitempty"`
}

// searchEngine adapts one upstream search provider.
type searchEngine interface {
	name() string
	search(ctx context.Context, query string, maxResults int, timeRange string) ([]SearchItem, error)
}

func (t *WebSearchTool) opSearch(ctx context.Context, a callArgs) (any, error) {
	if a.Query == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "search requires query")
	}

	maxResults := a.MaxResults
	if maxResults <= 0 || maxResults > t.policy.MaxResults {
		maxResults = t.policy.MaxResults
	}

	cacheKey := fmt.Sprintf("search:%s:%s:%d:%s", t.engine.name(), a.Query, maxResults, a.TimeRange)
	if data, ok := t.cache.Get(ctx, cacheKey); ok {
		var cached SearchResponse
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Cached = true
			return cached, nil
		}
	}

	release, err := t.limiter.Acquire(ctx, "engine:"+t.engine.name())
	if err != nil {
		return nil, ports.Errf(ports.KindEngineUnavailable, "search engine throttled: %v", err)
	}
	defer release()

	results, err := t.engine.search(ctx, a.Query, maxResults, a.TimeRange)
	if err != nil {
		return nil, err
	}

	resp := SearchResponse{
		Query:   a.Query,
		Engine:  t.engine.name(),
		Results: results,
		Count:   len(results),
	}
	if data, err := json.Marshal(resp); err == nil {
		t.cache.Set(ctx, cacheKey, data)
	}

	t.logger.Debug().Str("query", a.Query).Int("results", len(results)).Msg("search")
	return resp, nil
}

// engineErr maps engine transport failures onto the taxonomy: timeouts stay
// timeouts, everything else means the engine is unavailable.
func engineErr(engine string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return ports.Errf(ports.KindTimeout, "%s timed out", engine)
	}
	var ue *url.Error
	if errors.As(err, &ue) && ue.Timeout() {
		return ports.Errf(ports.KindTimeout, "%s timed out", engine)
	}
	return ports.Errf(ports.KindEngineUnavailable, "%s unreachable: %v", engine, err)
}

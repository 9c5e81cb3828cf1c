package webtool

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// braveEndpoint is the Brave Search API web endpoint.
const braveEndpoint = "https://api.search.brave.com/res/v1/web/search"

// braveEngine queries the Brave Search API. Requires a subscription token.
type braveEngine struct {
	endpoint  string
	apiKey    string
	userAgent string
	client    *http.Client
}

func newBraveEngine(apiKey, userAgent string, client *http.Client) *braveEngine {
	return &braveEngine{
		endpoint:  braveEndpoint,
		apiKey:    apiKey,
		userAgent: userAgent,
		client:    client,
	}
}

func (e *braveEngine) name() string { return "brave" }

func (e *braveEngine) search(ctx context.Context, query string, maxResults int, timeRange string) ([]SearchItem, error) {
	u, err := url.Parse(e.endpoint)
	if err != nil {
		return nil, ports.Errf(ports.KindInternal, "bad engine endpoint: %v", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("count", strconv.Itoa(maxResults))
	if f := braveFreshness(timeRange); f != "" {
		q.Set("freshness", f)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ports.Errf(ports.KindInternal, "build request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Subscription-Token", e.apiKey)
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, engineErr("brave", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ports.Errf(ports.KindEngineUnavailable, "brave returned status %d", resp.StatusCode)
	}

	var payload struct {
		Web struct {
			Results []struct {
				Title       string `json:"title"`
				URL         string `json:"url"`
				Description string `json:"description"`
			} `json:"results"`
		} `json:"web"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, ports.Errf(ports.KindEngineUnavailable, "brave returned unparseable json: %v", err)
	}

	results := make([]SearchItem, 0, len(payload.Web.Results))
	for _, r := range payload.Web.Results {
		if len(results) >= maxResults {
			break
		}
		results = append(results, SearchItem{Title: r.Title, URL: r.URL, Snippet: r.Description})
	}
	return results, nil
}

func braveFreshness(timeRange string) string {
	switch timeRange {
	case "day":
		return "pd"
	case "week":
		return "pw"
	case "month":
		return "pm"
	case "year":
		return "py"
	default:
		return ""
	}
}

var _ searchEngine = (*braveEngine)(nil)

package webtool

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// duckduckgoEndpoint is the keyless HTML endpoint.
const duckduckgoEndpoint = "https://html.duckduckgo.com/html/"

// duckduckgoEngine scrapes the DuckDuckGo HTML endpoint. It needs no API
// key, which makes it the default engine.
type duckduckgoEngine struct {
	endpoint  string
	userAgent string
	client    *http.Client
}

func newDuckDuckGoEngine(userAgent string, client *http.Client) *duckduckgoEngine {
	return &duckduckgoEngine{
		endpoint:  duckduckgoEndpoint,
		userAgent: userAgent,
		client:    client,
	}
}

func (e *duckduckgoEngine) name() string { return "duckduckgo" }

func (e *duckduckgoEngine) search(ctx context.Context, query string, maxResults int, timeRange string) ([]SearchItem, error) {
	form := url.Values{}
	form.Set("q", query)
	if df := duckFreshness(timeRange); df != "" {
		form.Set("df", df)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, ports.Errf(ports.KindInternal, "build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, engineErr("duckduckgo", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ports.Errf(ports.KindEngineUnavailable, "duckduckgo returned status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, ports.Errf(ports.KindEngineUnavailable, "duckduckgo returned unparseable html: %v", err)
	}

	var results []SearchItem
	doc.Find(".result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		link := s.Find(".result__a").First()
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		results = append(results, SearchItem{
			Title:   strings.TrimSpace(link.Text()),
			URL:     cleanDuckURL(href),
			Snippet: strings.TrimSpace(s.Find(".result__snippet").First().Text()),
		})
		return len(results) < maxResults
	})

	return results, nil
}

// cleanDuckURL unwraps the redirect links the HTML endpoint emits, of the
// form //duckduckgo.com/l/?uddg=<target>&rut=...
func cleanDuckURL(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func duckFreshness(timeRange string) string {
	switch timeRange {
	case "day":
		return "d"
	case "week":
		return "w"
	case "month":
		return "m"
	case "year":
		return "y"
	default:
		return ""
	}
}

var _ searchEngine = (*duckduckgoEngine)(nil)

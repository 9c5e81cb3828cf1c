package webtool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/sourcegraph/conc/pool"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

const (
	extractTextCap  = 5000 // runes of visible text per page
	extractLinkCap  = 20
	pageInfoByteCap = 64 * 1024
	bulkURLCap      = 10
	bulkConcurrency = 4
)

// ExtractResult is the payload returned by the extract_content operation.
type ExtractResult struct {
	URL       string   `json:"url"`
	FinalURL  string   `json:"final_url"`
	Title     string   `json:"title,omitempty"`
	Text      string   `json:"text"`
	Links     []string `json:"links,omitempty"`
	Truncated bool     `json:"truncated"`
	Cached    bool     `json:"cached,omitempty"`
}

// ValidateResult is the payload returned by the validate_url operation.
// Unreachable targets are an answer, not an error.
type ValidateResult struct {
	URL        string            `json:"url"`
	Reachable  bool              `json:"reachable"`
	StatusCode int               `json:"status_code,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Reason     string            `json:"reason,omitempty"`
}

// PageInfoResult is the payload returned by the get_page_info operation.
type PageInfoResult struct {
	URL         string            `json:"url"`
	FinalURL    string            `json:"final_url"`
	Title       string            `json:"title,omitempty"`
	Description string            `json:"description,omitempty"`
	OpenGraph   map[string]string `json:"open_graph,omitempty"`
}

// BulkEntry is one per-URL outcome inside an extract_bulk result.
type BulkEntry struct {
	URL     string         `json:"url"`
	Success bool           `json:"success"`
	Result  *ExtractResult `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// BulkResult is the payload returned by the extract_bulk operation.
type BulkResult struct {
	Results []BulkEntry `json:"results"`
	Count   int         `json:"count"`
}

func (t *WebSearchTool) opExtractContent(ctx context.Context, a callArgs) (any, error) {
	if a.URL == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "extract_content requires url")
	}
	return t.extractContent(ctx, a.URL)
}

func (t *WebSearchTool) extractContent(ctx context.Context, raw string) (*ExtractResult, error) {
	u, err := t.checkURL(ctx, raw)
	if err != nil {
		return nil, err
	}

	cacheKey := "extract:" + u.String()
	if data, ok := t.cache.Get(ctx, cacheKey); ok {
		var cached ExtractResult
		if err := json.Unmarshal(data, &cached); err == nil {
			cached.Cached = true
			return &cached, nil
		}
	}

	release, err := t.limiter.Acquire(ctx, "fetch")
	if err != nil {
		return nil, ports.Errf(ports.KindEngineUnavailable, "outbound requests throttled: %v", err)
	}
	defer release()

	resp, body, bodyTruncated, err := t.fetchLimited(ctx, u.String(), t.policy.MaxContentBytes)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ports.Errf(ports.KindMalformed, "unparseable html from %s: %v", raw, err)
	}

	doc.Find("script, style, noscript, nav, header, footer, aside, iframe, form").Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	text := normalizeWhitespace(doc.Find("body").Text())
	textTruncated := false
	if runes := []rune(text); len(runes) > extractTextCap {
		text = string(runes[:extractTextCap]) + " [truncated]"
		textTruncated = true
	}

	result := &ExtractResult{
		URL:       raw,
		FinalURL:  resp.Request.URL.String(),
		Title:     title,
		Text:      text,
		Links:     collectLinks(doc, resp.Request.URL, extractLinkCap),
		Truncated: bodyTruncated || textTruncated,
	}

	if data, err := json.Marshal(result); err == nil {
		t.cache.Set(ctx, cacheKey, data)
	}
	return result, nil
}

func (t *WebSearchTool) opValidateURL(ctx context.Context, a callArgs) (any, error) {
	if a.URL == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "validate_url requires url")
	}
	u, err := t.checkURL(ctx, a.URL)
	if err != nil {
		return nil, err
	}

	release, err := t.limiter.Acquire(ctx, "fetch")
	if err != nil {
		return nil, ports.Errf(ports.KindEngineUnavailable, "outbound requests throttled: %v", err)
	}
	defer release()

	resp, err := t.doValidate(ctx, u.String(), http.MethodHead)
	if err == nil && (resp.StatusCode == http.StatusMethodNotAllowed || resp.StatusCode == http.StatusNotImplemented) {
		// Some servers reject HEAD outright; ask again properly.
		resp.Body.Close()
		resp, err = t.doValidate(ctx, u.String(), http.MethodGet)
	}
	if err != nil {
		cls := classifyFetchErr(err, a.URL)
		var te *ports.ToolError
		if errors.As(cls, &te) && (te.Kind == ports.KindDenied || te.Kind == ports.KindMalformed) {
			return nil, cls // a gated redirect is a denial, not unreachability
		}
		reason := err.Error()
		if te != nil {
			reason = te.Message
		}
		return ValidateResult{URL: a.URL, Reachable: false, Reason: reason}, nil
	}
	defer resp.Body.Close()

	headers := make(map[string]string)
	for _, name := range []string{"Content-Type", "Content-Length", "Server"} {
		if v := resp.Header.Get(name); v != "" {
			headers[strings.ToLower(name)] = v
		}
	}
	if len(headers) == 0 {
		headers = nil
	}

	return ValidateResult{
		URL:        a.URL,
		Reachable:  true,
		StatusCode: resp.StatusCode,
		Headers:    headers,
	}, nil
}

func (t *WebSearchTool) doValidate(ctx context.Context, rawURL, method string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if t.policy.UserAgent != "" {
		req.Header.Set("User-Agent", t.policy.UserAgent)
	}
	return t.client.Do(req)
}

func (t *WebSearchTool) opPageInfo(ctx context.Context, a callArgs) (any, error) {
	if a.URL == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "get_page_info requires url")
	}
	u, err := t.checkURL(ctx, a.URL)
	if err != nil {
		return nil, err
	}

	release, err := t.limiter.Acquire(ctx, "fetch")
	if err != nil {
		return nil, ports.Errf(ports.KindEngineUnavailable, "outbound requests throttled: %v", err)
	}
	defer release()

	resp, body, _, err := t.fetchLimited(ctx, u.String(), pageInfoByteCap)
	if err != nil {
		return nil, err
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, ports.Errf(ports.KindMalformed, "unparseable html from %s: %v", a.URL, err)
	}

	result := PageInfoResult{
		URL:      a.URL,
		FinalURL: resp.Request.URL.String(),
		Title:    strings.TrimSpace(doc.Find("title").First().Text()),
	}
	if desc, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		result.Description = strings.TrimSpace(desc)
	}

	og := make(map[string]string)
	doc.Find("meta[property]").Each(func(_ int, s *goquery.Selection) {
		prop, _ := s.Attr("property")
		if !strings.HasPrefix(prop, "og:") {
			return
		}
		if content, ok := s.Attr("content"); ok && content != "" {
			og[prop] = content
		}
	})
	if len(og) > 0 {
		result.OpenGraph = og
	}

	return result, nil
}

func (t *WebSearchTool) opExtractBulk(ctx context.Context, a callArgs) (any, error) {
	if len(a.URLs) == 0 {
		return nil, ports.Errf(ports.KindInvalidArguments, "extract_bulk requires urls")
	}
	if len(a.URLs) > bulkURLCap {
		return nil, ports.Errf(ports.KindInvalidArguments, "extract_bulk accepts at most %d urls", bulkURLCap)
	}

	entries := make([]BulkEntry, len(a.URLs))
	p := pool.New().WithMaxGoroutines(bulkConcurrency)
	for i, raw := range a.URLs {
		p.Go(func() {
			result, err := t.extractContent(ctx, raw)
			if err != nil {
				entries[i] = BulkEntry{URL: raw, Error: err.Error()}
				return
			}
			entries[i] = BulkEntry{URL: raw, Success: true, Result: result}
		})
	}
	p.Wait()

	return BulkResult{Results: entries, Count: len(entries)}, nil
}

// fetchLimited GETs the URL through the gated client, reading at most limit
// bytes of body. The boolean reports whether the body was cut off.
func (t *WebSearchTool) fetchLimited(ctx context.Context, rawURL string, limit int64) (*http.Response, []byte, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, false, ports.Errf(ports.KindMalformed, "invalid url: %v", err)
	}
	if t.policy.UserAgent != "" {
		req.Header.Set("User-Agent", t.policy.UserAgent)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, nil, false, classifyFetchErr(err, rawURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil, false, statusErr(resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, nil, false, classifyFetchErr(err, rawURL)
	}
	truncated := int64(len(body)) > limit
	if truncated {
		body = body[:limit]
	}
	return resp, body, truncated, nil
}

func normalizeWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// collectLinks gathers absolute http(s) links from the document, deduped,
// resolved against the final URL.
func collectLinks(doc *goquery.Document, base *url.URL, limit int) []string {
	var links []string
	seen := make(map[string]struct{})
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return true
		}
		ref, err := url.Parse(href)
		if err != nil {
			return true
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return true
		}
		abs.Fragment = ""
		link := abs.String()
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		links = append(links, link)
		return len(links) < limit
	})
	return links
}

package webtool

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

const feedItemCap = 20

// FeedItem is one entry of a parsed feed.
type FeedItem struct {
	Title     string `json:"title"`
	Link      string `json:"link,omitempty"`
	Published string `json:"published,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

// FeedResult is the payload returned by the parse_rss operation.
type FeedResult struct {
	URL   string     `json:"url"`
	Title string     `json:"title,omitempty"`
	Link  string     `json:"link,omitempty"`
	Items []FeedItem `json:"items"`
	Count int        `json:"count"`
}

func (t *WebSearchTool) opParseRSS(ctx context.Context, a callArgs) (any, error) {
	if a.URL == "" {
		return nil, ports.Errf(ports.KindInvalidArguments, "parse_rss requires url")
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

	parser := gofeed.NewParser()
	parser.UserAgent = t.policy.UserAgent
	// The gated client keeps feed redirects inside the URL policy.
	parser.Client = t.client

	feed, err := parser.ParseURLWithContext(u.String(), ctx)
	if err != nil {
		var he gofeed.HTTPError
		if errors.As(err, &he) {
			return nil, statusErr(he.StatusCode, a.URL)
		}
		if errors.Is(err, gofeed.ErrFeedTypeNotDetected) {
			return nil, ports.Errf(ports.KindMalformed, "%s is not a recognized feed", a.URL)
		}
		return nil, classifyFetchErr(err, a.URL)
	}

	items := make([]FeedItem, 0, min(len(feed.Items), feedItemCap))
	for _, item := range feed.Items {
		if len(items) >= feedItemCap {
			break
		}
		if item == nil {
			continue
		}
		items = append(items, FeedItem{
			Title:     strings.TrimSpace(item.Title),
			Link:      item.Link,
			Published: publishedOf(item),
			Summary:   normalizeWhitespace(item.Description),
		})
	}

	t.logger.Debug().Str("url", a.URL).Int("items", len(items)).Msg("feed parsed")

	return FeedResult{
		URL:   a.URL,
		Title: strings.TrimSpace(feed.Title),
		Link:  feed.Link,
		Items: items,
		Count: len(items),
	}, nil
}

func publishedOf(item *gofeed.Item) string {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC().Format(time.RFC3339)
	}
	return strings.TrimSpace(item.Published)
}

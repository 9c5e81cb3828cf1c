// Package webtool implements the outbound web tool: engine-backed search,
// page extraction, URL validation, and feed parsing. Every user-supplied URL
// passes the gate in urlgate.go before any network traffic, including each
// redirect hop.
package webtool

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	ports "github.com/toolbelt-ai/agent-toolbelt/toolbelt/harness/ports"
)

// SearchPolicy is the web tool's immutable configuration slice.
type SearchPolicy struct {
	Engine          string
	APIKey          string
	MaxResults      int
	MaxContentBytes int64
	Timeout         time.Duration
	AllowedDomains  []string
	DeniedDomains   []string
	UserAgent       string
	MaxRedirects    int

	// allowPrivateHosts drops the private-address gate so tests can point
	// the tool at local fixtures. Configuration cannot reach it.
	allowPrivateHosts bool
}

// WebSearchTool executes web operations. All state is fixed at construction;
// the cache and limiter are the only shared components.
type WebSearchTool struct {
	policy  SearchPolicy
	cache   ports.Cache
	limiter ports.RateLimiter
	logger  zerolog.Logger
	client  *http.Client
	engine  searchEngine
}

// New creates the web tool. The HTTP client enforces the policy timeout and
// re-gates every redirect hop.
func New(policy SearchPolicy, cache ports.Cache, limiter ports.RateLimiter, logger zerolog.Logger) *WebSearchTool {
	if policy.MaxResults <= 0 {
		policy.MaxResults = 10
	}
	if policy.MaxContentBytes <= 0 {
		policy.MaxContentBytes = 50000
	}
	if policy.Timeout <= 0 {
		policy.Timeout = 30 * time.Second
	}
	if policy.MaxRedirects <= 0 {
		policy.MaxRedirects = 10
	}

	t := &WebSearchTool{
		policy:  policy,
		cache:   cache,
		limiter: limiter,
		logger:  logger.With().Str("tool", "web_search").Logger(),
	}
	t.client = t.newGatedClient()

	// Engine endpoints are operator configuration, not model input, so the
	// engine client skips the URL gate and keeps only the timeout.
	engineClient := &http.Client{Timeout: policy.Timeout}
	switch policy.Engine {
	case "brave":
		t.engine = newBraveEngine(policy.APIKey, policy.UserAgent, engineClient)
	default:
		t.engine = newDuckDuckGoEngine(policy.UserAgent, engineClient)
	}

	return t
}

// Name returns the tool name.
func (t *WebSearchTool) Name() string {
	return "web_search"
}

// Spec returns the tool descriptor advertised to the model.
func (t *WebSearchTool) Spec() ports.ToolSpec {
	return ports.ToolSpec{
		Name:        "web_search",
		Description: "Search the web and fetch page content. Only public http(s) hosts are reachable; results and extracts are capped and cached.",
		Parameters: []ports.Parameter{
			{
				Name:        "operation",
				Type:        "string",
				Description: "The web operation to perform",
				Required:    true,
				Enum: []string{
					"search", "extract_content", "validate_url",
					"parse_rss", "get_page_info", "extract_bulk",
				},
			},
			{Name: "query", Type: "string", Description: "Search query for the search operation"},
			{Name: "url", Type: "string", Description: "Target URL for single-URL operations"},
			{Name: "urls", Type: "array", Description: "Target URLs for extract_bulk, at most 10"},
			{Name: "max_results", Type: "integer", Description: "Result cap for search, clamped to the configured maximum"},
			{Name: "time_range", Type: "string", Description: "Restrict search results by age", Enum: []string{"day", "week", "month", "year"}},
		},
	}
}

// Invoke routes the call to the requested operation.
func (t *WebSearchTool) Invoke(ctx context.Context, args map[string]any) (any, error) {
	var a callArgs
	if err := decodeArgs(args, &a); err != nil {
		return nil, ports.Errf(ports.KindInvalidArguments, "invalid arguments: %v", err)
	}

	switch a.Operation {
	case "search":
		return t.opSearch(ctx, a)
	case "extract_content":
		return t.opExtractContent(ctx, a)
	case "validate_url":
		return t.opValidateURL(ctx, a)
	case "parse_rss":
		return t.opParseRSS(ctx, a)
	case "get_page_info":
		return t.opPageInfo(ctx, a)
	case "extract_bulk":
		return t.opExtractBulk(ctx, a)
	default:
		return nil, ports.Errf(ports.KindInvalidArguments, "unsupported operation: %s", a.Operation)
	}
}

type callArgs struct {
	Operation  string   `json:"operation"`
	Query      string   `json:"query"`
	URL        string   `json:"url"`
	URLs       []string `json:"urls"`
	MaxResults int      `json:"max_results"`
	TimeRange  string   `json:"time_range"`
}

func decodeArgs(raw map[string]any, dst *callArgs) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}

// Ensure WebSearchTool implements the Tool interface.
var _ ports.Tool = (*WebSearchTool)(nil)

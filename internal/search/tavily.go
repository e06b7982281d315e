package search

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
)

const (
	defaultTavilyMCPURL = "https://mcp.tavily.com/mcp/"
	defaultTavilyTool   = "tavily-search"
)

// Tavily searches through the Tavily MCP server over streamable HTTP. The
// session is opened on first use and reused until Close.
type Tavily struct {
	endpoint string
	tool     string
	timeout  time.Duration

	mu     sync.Mutex
	client *client.Client
}

// NewTavily returns a searcher for the given MCP endpoint. apiKey is added to the
// endpoint query when the URL does not already carry one.
func NewTavily(endpoint, apiKey, tool string, timeout time.Duration) *Tavily {
	if tool == "" {
		tool = defaultTavilyTool
	}
	return &Tavily{endpoint: tavilyEndpoint(endpoint, apiKey), tool: tool, timeout: timeout}
}

func tavilyEndpoint(endpoint, apiKey string) string {
	if endpoint == "" {
		endpoint = defaultTavilyMCPURL
	}
	if apiKey == "" || strings.Contains(endpoint, "tavilyApiKey=") {
		return endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	q := u.Query()
	q.Set("tavilyApiKey", apiKey)
	u.RawQuery = q.Encode()
	return u.String()
}

func (t *Tavily) Discover(ctx context.Context, q string, k int) ([]Result, error) {
	if strings.TrimSpace(q) == "" {
		return nil, ErrEmptyQuery
	}
	k = limit(k)
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	c, err := t.connect(ctx)
	if err != nil {
		return nil, err
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = t.tool
	req.Params.Arguments = map[string]any{
		"query":        q,
		"max_results":  k,
		"search_depth": "basic",
	}
	res, err := c.CallTool(ctx, req)
	if err != nil {
		t.drop()
		return nil, fmt.Errorf("tavily %s: %w", t.tool, err)
	}
	text := toolText(res)
	if res.IsError {
		return nil, fmt.Errorf("tavily %s: %s", t.tool, strings.TrimSpace(text))
	}
	out := parseTavilyText(text)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Close ends the MCP session if one is open.
func (t *Tavily) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client == nil {
		return nil
	}
	err := t.client.Close()
	t.client = nil
	return err
}

func (t *Tavily) connect(ctx context.Context) (*client.Client, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.client != nil {
		return t.client, nil
	}
	c, err := client.NewStreamableHttpClient(t.endpoint)
	if err != nil {
		return nil, fmt.Errorf("tavily mcp client: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tavily mcp start: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "deepresearch", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("tavily mcp initialize: %w", err)
	}
	t.client = c
	return c, nil
}

func (t *Tavily) drop() {
	_ = t.Close()
}

func toolText(res *mcp.CallToolResult) string {
	if res == nil {
		return ""
	}
	var b strings.Builder
	for _, content := range res.Content {
		switch c := content.(type) {
		case mcp.TextContent:
			b.WriteString(c.Text)
			b.WriteString("\n")
		case *mcp.TextContent:
			b.WriteString(c.Text)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// parseTavilyText reads the "Title: / URL: / Content:" blocks the Tavily MCP
// tool returns. Lines following Content: belong to the same result until the
// next Title:.
func parseTavilyText(text string) []Result {
	var (
		out     []Result
		cur     *Result
		content []string
	)
	flush := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.TrimSpace(strings.Join(content, "\n"))
		cur.Snippet = firstLine(cur.Content, 300)
		if cur.URL != "" {
			out = append(out, *cur)
		}
		cur, content = nil, nil
	}
	inContent := false
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Title:"):
			flush()
			cur = &Result{Title: strings.TrimSpace(strings.TrimPrefix(trimmed, "Title:")), Source: string(TavilyProvider)}
			inContent = false
		case cur != nil && strings.HasPrefix(trimmed, "URL:"):
			cur.URL = strings.TrimSpace(strings.TrimPrefix(trimmed, "URL:"))
			inContent = false
		case cur != nil && strings.HasPrefix(trimmed, "Content:"):
			content = append(content, strings.TrimSpace(strings.TrimPrefix(trimmed, "Content:")))
			inContent = true
		case cur != nil && inContent:
			content = append(content, line)
		}
	}
	flush()
	return out
}

func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(helpers.Truncate(s, n))
}

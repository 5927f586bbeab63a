// Package ollama talks to an ollama server to locate the main subject of an image.
package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/focuspoint/pkg/types"
)

// DefaultTimeout bounds a request whose context carries no deadline. Vision
// models on CPU are slow.
const DefaultTimeout = 300 * time.Second

// Client wraps the Ollama API client
type Client struct {
	client *api.Client
}

// NewClient creates a client for the server at ollamaURL. Any path in the URL
// is ignored. A nil httpClient means http.DefaultClient.
func NewClient(ollamaURL string, httpClient *http.Client) (*Client, error) {
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL %q: scheme and host required", ollamaURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}

	return &Client{client: api.NewClient(baseURL, httpClient)}, nil
}

// LocateSubject sends a base64 encoded image with the prompt and parses the
// model answer. Answers that are not valid JSON yield a centered fallback
// result, not an error.
func (c *Client) LocateSubject(ctx context.Context, model, prompt, imgB64 string) (*types.AnalysisResult, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 image: %w", err)
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model: model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: prompt,
				Images:  []api.ImageData{api.ImageData(imgBytes)},
			},
		},
		Stream:  &streamFalse,
		Options: modelOptions(model),
	}

	var content strings.Builder
	err = c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat error: %w", err)
	}

	if content.Len() == 0 {
		return nil, fmt.Errorf("empty response from ollama")
	}

	return parseAnalysisResult(content.String()), nil
}

// modelOptions tunes sampling for models known to wander
func modelOptions(model string) map[string]any {
	options := map[string]any{}
	m := strings.ToLower(model)
	if strings.Contains(m, "minicpm-v4") || strings.Contains(m, "minicpm-v-4") || strings.Contains(m, "minicpmv4") {
		options["temperature"] = 0.7
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}
	return options
}

func fallback(label, description string, tags ...string) *types.AnalysisResult {
	return &types.AnalysisResult{
		Primary: types.Primary{
			Label:      label,
			Confidence: 0.1,
			Box:        types.Box{X: 0.25, Y: 0.25, W: 0.5, H: 0.5},
			Cx:         0.5,
			Cy:         0.5,
		},
		Description: description,
		Tags:        append(tags, "fallback"),
	}
}

// parseAnalysisResult parses the JSON answer of the vision model
func parseAnalysisResult(raw string) *types.AnalysisResult {
	raw = sanitizeModelJSON(raw)
	if !strings.HasPrefix(raw, "{") {
		return fallback("unclear image", "Model returned non-JSON response", "unclear", "non-json")
	}

	var result types.AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return fallback("parse error", "Failed to parse model response", "parse-error")
	}
	return &result
}

// sanitizeModelJSON removes code fences, comments and trailing commas and
// keeps the outermost object
func sanitizeModelJSON(raw string) string {
	raw = strings.TrimSpace(raw)

	if strings.HasPrefix(raw, "```") {
		if i := strings.Index(raw, "\n"); i >= 0 {
			raw = raw[i+1:]
		}
		if j := strings.LastIndex(raw, "```"); j >= 0 {
			raw = raw[:j]
		}
	}
	raw = strings.Trim(strings.TrimSpace(raw), "`")

	raw = stripJSONNoise(raw)

	if start := strings.Index(raw, "{"); start >= 0 {
		if end := strings.LastIndex(raw, "}"); end > start {
			raw = raw[start : end+1]
		}
	}
	return strings.TrimSpace(raw)
}

// stripJSONNoise drops // and /* */ comments and commas directly before a
// closing bracket. String literals are copied verbatim.
func stripJSONNoise(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}

		switch {
		case c == '"':
			inString = true
			b.WriteByte(c)
		case strings.HasPrefix(s[i:], "//"):
			// keep the newline
			if n := strings.IndexByte(s[i:], '\n'); n >= 0 {
				i += n - 1
			} else {
				i = len(s)
			}
		case strings.HasPrefix(s[i:], "/*"):
			if n := strings.Index(s[i+2:], "*/"); n >= 0 {
				i += n + 3
			} else {
				i = len(s)
			}
		case c == ',' && closesNext(s[i+1:]):
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// closesNext reports whether the next token in s, ignoring whitespace and
// comments, is a closing bracket
func closesNext(s string) bool {
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r':
		case strings.HasPrefix(s[i:], "//"):
			n := strings.IndexByte(s[i:], '\n')
			if n < 0 {
				return false
			}
			i += n
		case strings.HasPrefix(s[i:], "/*"):
			n := strings.Index(s[i+2:], "*/")
			if n < 0 {
				return false
			}
			i += n + 3
		default:
			return s[i] == '}' || s[i] == ']'
		}
	}
	return false
}

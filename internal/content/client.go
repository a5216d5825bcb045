package content

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dragon-marcel/mat-gwiazda/internal/domain"
	"github.com/hashicorp/go-cleanhttp"
)

const (
	DefaultEndpoint = "https://openrouter.ai/api/v1/chat/completions"
	DefaultModel    = "openai/gpt-4o-mini"
	DefaultTimeout  = 30 * time.Second
)

var (
	// ErrUnauthorized is returned when the provider rejects the API key.
	ErrUnauthorized = fmt.Errorf("%w: unauthorized", domain.ErrContentGeneration)
	// ErrTransport covers network failures and non-2xx responses.
	ErrTransport = fmt.Errorf("%w: transport", domain.ErrContentGeneration)
	// ErrMalformed is returned when the response cannot be turned into a task.
	ErrMalformed = fmt.Errorf("%w: malformed response", domain.ErrContentGeneration)
)

const systemPrompt = "You are a math problem generator for primary school students. " +
	"Create a new task every time as a JSON object with fields: `prompt` (a short question), " +
	"`options` (array of 4 strings), `correctIndex` (0-based integer), `explanation` (short text). " +
	"Only output valid JSON in Polish."

// Config configures an OpenRouter-compatible chat completions client.
type Config struct {
	Endpoint string
	Model    string
	APIKey   string
	Timeout  time.Duration
	// Referer and Title are sent as OpenRouter attribution headers when set.
	Referer string
	Title   string
}

// Client generates tasks through a chat completions API.
type Client struct {
	cfg  Config
	http *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	httpClient := cleanhttp.DefaultPooledClient()
	httpClient.Timeout = cfg.Timeout
	return &Client{cfg: cfg, http: httpClient}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Messages    []chatMessage `json:"messages"`
}

// Generate asks the model for one task seeded by req.Seed.
func (c *Client) Generate(ctx context.Context, req domain.ContentRequest) (domain.GeneratedTask, error) {
	seed := strings.TrimSpace(req.Seed)
	if seed == "" {
		return domain.GeneratedTask{}, fmt.Errorf("%w: seed must not be empty", domain.ErrContentGeneration)
	}
	if c.cfg.APIKey == "" {
		return domain.GeneratedTask{}, fmt.Errorf("%w: api key is not configured", ErrUnauthorized)
	}

	body, err := json.Marshal(chatRequest{
		Model:     c.cfg.Model,
		TopP:      0.8,
		MaxTokens: 400,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: fmt.Sprintf("seed: %s\nProduce the JSON exactly without extra commentary.", seed)},
		},
	})
	if err != nil {
		return domain.GeneratedTask{}, fmt.Errorf("encode request: %w", err)
	}

	raw, err := c.post(ctx, body)
	if err != nil {
		return domain.GeneratedTask{}, err
	}
	task, err := ParseCompletion(raw)
	if err != nil {
		return domain.GeneratedTask{}, fmt.Errorf("%w; response=%s", err, shorten(string(raw)))
	}
	return task, nil
}

func (c *Client) post(ctx context.Context, body []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if c.cfg.Referer != "" {
		httpReq.Header.Set("HTTP-Referer", c.cfg.Referer)
	}
	if c.cfg.Title != "" {
		httpReq.Header.Set("X-Title", c.cfg.Title)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrTransport, err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, fmt.Errorf("%w: %s", ErrUnauthorized, shorten(string(raw)))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, fmt.Errorf("%w: status %d: %s", ErrTransport, resp.StatusCode, shorten(string(raw)))
	}
	return raw, nil
}

const maxLoggedBody = 200

// shorten caps s at maxLoggedBody bytes without splitting a UTF-8 sequence.
func shorten(s string) string {
	if len(s) <= maxLoggedBody {
		return s
	}
	cut := maxLoggedBody
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "...[truncated]"
}

// Package inference wraps the external chat-completion endpoint.
//
// The wire format is the Ollama-style chat API: a POST with
// {model, messages, stream:false}, answered by {message:{content}}.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	logx "matchbot/pkg/logx"
)

type Config struct {
	URL     string
	Model   string
	Timeout time.Duration

	// MaxPerMinute caps outbound calls; 0 means unlimited.
	MaxPerMinute int
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Client is a synchronous chat-completion client with a bounded timeout.
type Client struct {
	http    *resty.Client
	url     string
	model   string
	limiter *rate.Limiter
	log     logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	var lim *rate.Limiter
	if cfg.MaxPerMinute > 0 {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxPerMinute)), 1)
	}

	return &Client{
		http:    resty.New().SetTimeout(timeout),
		url:     cfg.URL,
		model:   cfg.Model,
		limiter: lim,
		log:     log,
	}
}

func (c *Client) Model() string { return c.model }

// Chat sends one system+user exchange and returns the raw completion text.
// Any non-2xx status, transport error or timeout is returned as an error.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	req := chatRequest{
		Model: c.model,
		Messages: []Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Stream: false,
	}

	var out chatResponse
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(req).
		SetResult(&out).
		Post(c.url)
	if err != nil {
		return "", fmt.Errorf("inference request: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("inference endpoint returned status %d", resp.StatusCode())
	}

	c.log.Debug("inference reply",
		logx.String("model", c.model),
		logx.Int("chars", len(out.Message.Content)),
		logx.Duration("took", time.Since(start)))

	return out.Message.Content, nil
}

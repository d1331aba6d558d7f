// Package llm is a client for OpenAI-compatible chat completion endpoints.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrEmptyReply is returned when the first choice carries no text.
var ErrEmptyReply = errors.New("empty reply")

// Request is one chat completion call.
type Request struct {
	Model       string
	System      string
	User        string
	JSONMode    bool
	Temperature float64
}

// Usage is the provider's token accounting for a call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a completed call.
type Response struct {
	ID        string
	Text      string
	Usage     Usage
	Created   time.Time // zero when the provider omits it
	RateLimit map[string]string
}

// Translator performs chat completion calls.
type Translator interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// APIError is a non-2xx reply from the provider.
type APIError struct {
	Status     int
	Message    string
	RetryAfter string // Retry-After header, if any
}

func (e *APIError) Error() string {
	return fmt.Sprintf("llm: provider returned %d: %s", e.Status, e.Message)
}

// Terminal reports whether retrying the same request cannot succeed:
// malformed requests, bad credentials and unknown models.
func (e *APIError) Terminal() bool {
	switch e.Status {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	}
	return false
}

// Client calls {baseURL}/chat/completions with a bearer key.
type Client struct {
	baseURL string
	apiKey  string
	http    *resty.Client
}

// New creates a Client. Transport-level retries are disabled: retry policy
// belongs to the scheduler.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	h := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json")
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey, http: h}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Temperature    float64           `json:"temperature"`
	Stream         bool              `json:"stream"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// Complete sends req and returns the first choice.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	body := chatRequest{
		Model: req.Model,
		Messages: []chatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var out chatResponse
	r, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(c.apiKey).
		SetBody(body).
		SetResult(&out).
		Post(c.baseURL + "/chat/completions")
	if err != nil {
		return nil, fmt.Errorf("llm.Complete: %w", err)
	}
	if r.IsError() {
		return nil, &APIError{
			Status:     r.StatusCode(),
			Message:    errorMessage(r.Body()),
			RetryAfter: r.Header().Get("Retry-After"),
		}
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("llm.Complete: no choices returned")
	}
	if strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return nil, fmt.Errorf("llm.Complete: %w (finish_reason %q)", ErrEmptyReply, out.Choices[0].FinishReason)
	}

	resp := &Response{
		ID:        out.ID,
		Text:      out.Choices[0].Message.Content,
		Usage:     out.Usage,
		RateLimit: rateLimitHeaders(r.Header()),
	}
	if out.Created > 0 {
		resp.Created = time.Unix(out.Created, 0)
	}
	return resp, nil
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// errorMessage extracts error.message from an OpenAI-style error body. Some
// compatible gateways wrap it in a one-element array.
func errorMessage(raw []byte) string {
	var single errorBody
	if json.Unmarshal(raw, &single) == nil && single.Error.Message != "" {
		return single.Error.Message
	}
	var list []errorBody
	if json.Unmarshal(raw, &list) == nil && len(list) > 0 && list[0].Error.Message != "" {
		return list[0].Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if len(msg) > 500 {
		msg = msg[:500]
	}
	return msg
}

func rateLimitHeaders(h http.Header) map[string]string {
	out := map[string]string{}
	for k, v := range h {
		lk := strings.ToLower(k)
		if strings.HasPrefix(lk, "x-ratelimit-") || lk == "retry-after" {
			out[lk] = strings.Join(v, ",")
		}
	}
	return out
}

package forecast

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"golang.org/x/time/rate"
)

const DefaultLLMModel = "claude-sonnet-4-5"

var statusCodeRe = regexp.MustCompile(`status(?:\s+code)?[:=\s]+(\d{3})`)

type failureClass int

const (
	failureNone failureClass = iota
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
	failureCanceled
)

func (c failureClass) String() string {
	switch c {
	case failureTimeout:
		return "timeout"
	case failureRateLimit:
		return "rate_limit"
	case failureServer:
		return "server"
	case failureClient:
		return "client"
	case failureCanceled:
		return "canceled"
	default:
		return "none"
	}
}

func (c failureClass) retryable() bool {
	return c == failureTimeout || c == failureRateLimit || c == failureServer
}

// LLMCaller sends one prompt to a generative model and returns its raw text.
type LLMCaller interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
	ModelName() string
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicCaller struct {
	messages  AnthropicMessager
	model     string
	maxTokens int64
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	// Retries are owned by the Generator's backoff loop.
	c := anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCaller(apiKey, model string, maxTokens int64) (*AnthropicCaller, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key not configured")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		model = DefaultLLMModel
	}
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), model: model, maxTokens: maxTokens}, nil
}

func (a *AnthropicCaller) ModelName() string { return a.model }

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// RateLimitedCaller bounds the request rate of a caller shared by concurrent
// generations. Waiting for a token honors ctx.
type RateLimitedCaller struct {
	next    LLMCaller
	limiter *rate.Limiter
}

func NewRateLimitedCaller(next LLMCaller, perSecond float64, burst int) *RateLimitedCaller {
	if burst < 1 {
		burst = 1
	}
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &RateLimitedCaller{next: next, limiter: rate.NewLimiter(limit, burst)}
}

func (r *RateLimitedCaller) ModelName() string { return r.next.ModelName() }

func (r *RateLimitedCaller) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.GenerateJSON(ctx, system, prompt)
}

func classifyTransportError(err error) failureClass {
	if err == nil {
		return failureNone
	}
	if errors.Is(err, context.Canceled) {
		return failureCanceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode != 0 {
		return classifyStatus(apiErr.StatusCode)
	}
	msg := strings.ToLower(err.Error())
	if m := statusCodeRe.FindStringSubmatch(msg); len(m) == 2 {
		switch {
		case m[1] == "429":
			return failureRateLimit
		case m[1] == "408":
			return failureTimeout
		case strings.HasPrefix(m[1], "5"):
			return failureServer
		case strings.HasPrefix(m[1], "4"):
			return failureClient
		}
	}
	switch {
	case strings.Contains(msg, "rate limit"):
		return failureRateLimit
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return failureTimeout
	default:
		return failureServer
	}
}

func classifyStatus(code int) failureClass {
	switch {
	case code == 429:
		return failureRateLimit
	case code == 408:
		return failureTimeout
	case code >= 500:
		return failureServer
	case code >= 400:
		return failureClient
	default:
		return failureServer
	}
}

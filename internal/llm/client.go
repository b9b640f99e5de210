// Package llm wraps calls to the Anthropic API with retry, response caching,
// tolerant parsing, and cost accounting. All pipeline components go through
// the Client here rather than touching the SDK directly.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"feedbackd/internal/cache"
	"feedbackd/internal/cost"
)

// Operation tags, used for cache keys and usage records.
const (
	OpAnalyze      = "analyze"
	OpProposeTopic = "propose_topic"
	OpSummarize    = "summarize"
)

const defaultModel = "claude-sonnet-4-5-20250929"

type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// caller issues one raw model call. The production implementation wraps the
// Anthropic SDK; tests substitute fakes.
type caller interface {
	complete(ctx context.Context, system, user string) (string, Usage, error)
}

type Options struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
	MaxRetries      int           // retries after the first attempt
	CallTimeout     time.Duration // per-attempt timeout
	CacheTTL        time.Duration
}

type Client struct {
	caller caller
	cache  cache.Cache
	ledger *cost.Ledger
	opts   Options

	backoffBase time.Duration                              // first retry delay, doubles per attempt
	sleep       func(ctx context.Context, d time.Duration) error // test hook
}

func NewClient(apiKey string, opts Options, c cache.Cache, ledger *cost.Ledger) *Client {
	if opts.Model == "" {
		opts.Model = defaultModel
	}
	if opts.MaxOutputTokens == 0 {
		opts.MaxOutputTokens = 2048
	}
	if opts.CallTimeout == 0 {
		opts.CallTimeout = 90 * time.Second
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 24 * time.Hour
	}
	return &Client{
		caller: &anthropicCaller{
			client:      anthropic.NewClient(option.WithAPIKey(apiKey)),
			model:       opts.Model,
			temperature: opts.Temperature,
			maxTokens:   int64(opts.MaxOutputTokens),
		},
		cache:       c,
		ledger:      ledger,
		opts:        opts,
		backoffBase: 2 * time.Second,
		sleep:       sleepCtx,
	}
}

type anthropicCaller struct {
	client      anthropic.Client
	model       string
	temperature float64
	maxTokens   int64
}

func (a *anthropicCaller) complete(ctx context.Context, system, user string) (string, Usage, error) {
	message, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   a.maxTokens,
		Temperature: anthropic.Float(a.temperature),
		System: []anthropic.TextBlockParam{
			{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
	})
	if err != nil {
		return "", Usage{}, fmt.Errorf("Anthropic API error: %w", err)
	}
	usage := Usage{
		InputTokens:  message.Usage.InputTokens,
		OutputTokens: message.Usage.OutputTokens,
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm response size=%d tokens_in=%d tokens_out=%d", len(block.Text), usage.InputTokens, usage.OutputTokens)
			return block.Text, usage, nil
		}
	}
	return "", usage, fmt.Errorf("no text content in Anthropic response")
}

// call runs one operation through retry and the cost ledger. Cache lookups
// happen in the operation wrappers, which cache the parsed result rather than
// the raw text.
func (c *Client) call(ctx context.Context, operation, system, user string) (string, error) {
	text, usage, err := c.completeWithRetry(ctx, operation, system, user)
	if err != nil {
		return "", err
	}

	if usage.InputTokens == 0 && usage.OutputTokens == 0 {
		// Provider omitted usage metadata; fall back to the size heuristic.
		usage.InputTokens = estimateTokens(system + user)
		usage.OutputTokens = estimateTokens(text)
	}
	if err := c.ledger.Record(operation, usage.InputTokens, usage.OutputTokens, ""); err != nil {
		log.Printf("llm %s usage record error: %v", operation, err)
	}

	return text, nil
}

func (c *Client) completeWithRetry(ctx context.Context, operation, system, user string) (string, Usage, error) {
	var lastErr error
	attempts := c.opts.MaxRetries + 1

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			// 2s, 4s, 8s between attempts.
			backoff := c.backoffBase << (attempt - 1)
			log.Printf("llm %s retrying in %v (attempt %d/%d): %v", operation, backoff, attempt+1, attempts, lastErr)
			if err := c.sleep(ctx, backoff); err != nil {
				return "", Usage{}, err
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
		text, usage, err := c.caller.complete(attemptCtx, system, user)
		cancel()

		if err == nil {
			return text, usage, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return "", Usage{}, fmt.Errorf("%s canceled: %w", operation, ctx.Err())
		}
		if !isTransient(err) {
			return "", Usage{}, fmt.Errorf("%s failed: %w", operation, err)
		}
	}
	return "", Usage{}, fmt.Errorf("%s failed after %d attempts: %w", operation, attempts, lastErr)
}

// isTransient reports whether an error is worth retrying: timeouts, rate
// limits, server errors, and network failures. Malformed requests and auth
// failures are not.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "429") || strings.Contains(errStr, "rate limit") {
		return true
	}
	if strings.Contains(errStr, "500") || strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") || strings.Contains(errStr, "504") ||
		strings.Contains(errStr, "internal server error") ||
		strings.Contains(errStr, "bad gateway") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "overloaded") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "network") {
		return true
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// estimateTokens approximates token counts at four characters per token.
func estimateTokens(text string) int64 {
	n := int64(len(text)) / 4
	if n < 1 {
		n = 1
	}
	return n
}

func marshalForCache(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

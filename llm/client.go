package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

var (
	// ErrEmptyResponse is returned when the model answers with blank content.
	ErrEmptyResponse = errors.New("llm: empty response")

	// ErrCompletionFailed is returned after every attempt of a completion failed.
	ErrCompletionFailed = errors.New("llm: completion failed")
)

// Completer is the single capability the extraction pipeline needs from a
// language model: a text completion for a prompt.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Sampling holds generation hyperparameters.
type Sampling struct {
	Temperature float64 `json:"temperature" yaml:"temperature"`
	TopP        float64 `json:"top_p" yaml:"top_p"`
	MaxTokens   int     `json:"max_tokens" yaml:"max_tokens"`
}

// DefaultSampling returns the hyperparameters used when nothing overrides them.
func DefaultSampling() Sampling {
	return Sampling{Temperature: 0.2, TopP: 0.9, MaxTokens: 1024}
}

// Observer receives one notification per provider call.
type Observer interface {
	ObserveCompletion(d time.Duration, err error)
}

// ClientConfig configures a Client.
type ClientConfig struct {
	Model string
	// Sampling is the default applied to every completion. Zero means
	// DefaultSampling.
	Sampling Sampling
	// CallTimeout bounds each provider call. Zero disables the bound.
	CallTimeout time.Duration
	// MaxAttempts is how many times a failed or timed-out call is tried.
	MaxAttempts int
	// ExtractionOnly is copied from the provider Config.
	ExtractionOnly bool
	Observer       Observer
}

// Client wraps a Provider with default sampling, a per-call deadline and
// bounded retries. It is safe for concurrent use.
type Client struct {
	provider Provider
	cfg      ClientConfig

	calls atomic.Int64
}

// NewClient creates a Client for p.
func NewClient(p Provider, cfg ClientConfig) *Client {
	if cfg.Sampling == (Sampling{}) {
		cfg.Sampling = DefaultSampling()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Client{provider: p, cfg: cfg}
}

// Sampling returns the default hyperparameters. Per-call temperature
// overrides go through WithTemperature and never change them.
func (c *Client) Sampling() Sampling { return c.cfg.Sampling }

// ExtractionOnly reports whether the model is an extraction-only variant.
func (c *Client) ExtractionOnly() bool { return c.cfg.ExtractionOnly }

// Calls returns the number of provider calls made so far, retries included.
func (c *Client) Calls() int64 { return c.calls.Load() }

type temperatureKey struct{}

// WithTemperature returns a context whose completions use temperature t
// instead of the client default. The override is scoped to calls made with
// the returned context, so it cannot leak into unrelated calls.
func WithTemperature(ctx context.Context, t float64) context.Context {
	return context.WithValue(ctx, temperatureKey{}, t)
}

type counterKey struct{}

// WithCallCounter returns a context whose provider calls, retries included,
// are added to n. It lets a caller count the calls of one request on a
// shared Client.
func WithCallCounter(ctx context.Context, n *atomic.Int64) context.Context {
	return context.WithValue(ctx, counterKey{}, n)
}

func temperatureFrom(ctx context.Context) (float64, bool) {
	t, ok := ctx.Value(temperatureKey{}).(float64)
	return t, ok
}

// Complete sends prompt as a single user message and returns the reply text.
// Timeouts and temporary provider errors are retried up to MaxAttempts.
// Cancellation of ctx and permanent API errors are returned immediately.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	s := c.Sampling()
	if t, ok := temperatureFrom(ctx); ok {
		s.Temperature = t
	}
	req := ChatRequest{
		Model:       c.cfg.Model,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: s.Temperature,
		TopP:        s.TopP,
		MaxTokens:   s.MaxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		content, err := c.call(ctx, req)
		if err == nil {
			return content, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if IsPermanent(err) {
			return "", fmt.Errorf("%w: %w", ErrCompletionFailed, err)
		}
		lastErr = err
		slog.Warn("llm: completion attempt failed",
			"attempt", attempt,
			"max_attempts", c.cfg.MaxAttempts,
			"temperature", s.Temperature,
			"error", err,
		)
	}
	return "", fmt.Errorf("%w: %v", ErrCompletionFailed, lastErr)
}

func (c *Client) call(ctx context.Context, req ChatRequest) (string, error) {
	if c.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.provider.Chat(ctx, req)
	c.calls.Add(1)
	if n, ok := ctx.Value(counterKey{}).(*atomic.Int64); ok {
		n.Add(1)
	}
	if err == nil && strings.TrimSpace(resp.Content) == "" {
		err = ErrEmptyResponse
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveCompletion(time.Since(start), err)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("completion timed out after %s: %w", c.cfg.CallTimeout, err)
		}
		return "", err
	}

	slog.Debug("llm: completion",
		"prompt_chars", len(req.Messages[0].Content),
		"completion_tokens", resp.CompletionTokens,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return resp.Content, nil
}

// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"
	"unicode"

	"github.com/brunobiangulo/goextract/llm"
)

// Provider answers chat requests with a caller-supplied function and embeds
// texts with a deterministic letter-frequency vector.
type Provider struct {
	respond func(req llm.ChatRequest) (string, error)

	mu       sync.Mutex
	requests []llm.ChatRequest
	embedErr error
	embedded int
}

// New returns a Provider that answers every prompt with respond(prompt).
func New(respond func(prompt string) string) *Provider {
	return &Provider{respond: func(req llm.ChatRequest) (string, error) {
		return respond(lastUserMessage(req)), nil
	}}
}

// NewWithRequest returns a Provider that sees the whole request, including
// sampling parameters, and may fail.
func NewWithRequest(respond func(req llm.ChatRequest) (string, error)) *Provider {
	return &Provider{respond: respond}
}

// Static returns a Provider that always answers content.
func Static(content string) *Provider {
	return New(func(string) string { return content })
}

// FailEmbeddings makes every subsequent Embed call return err.
func (p *Provider) FailEmbeddings(err error) {
	p.mu.Lock()
	p.embedErr = err
	p.mu.Unlock()
}

// Chat implements llm.Provider.
func (p *Provider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()

	content, err := p.respond(req)
	if err != nil {
		return nil, err
	}
	return &llm.ChatResponse{Content: content, Model: req.Model, FinishReason: "stop"}, nil
}

// Embed implements llm.Provider.
func (p *Provider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	err := p.embedErr
	p.embedded += len(texts)
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = LetterVector(t)
	}
	return out, nil
}

// Calls returns the number of chat requests received.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Embedded returns the number of texts embedded so far.
func (p *Provider) Embedded() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedded
}

// Requests returns a copy of every chat request received.
func (p *Provider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

// Prompts returns the user message of every chat request received.
func (p *Provider) Prompts() []string {
	reqs := p.Requests()
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = lastUserMessage(r)
	}
	return out
}

// LetterVector counts a-z and digits, giving identical texts identical
// vectors and unrelated texts low cosine similarity.
func LetterVector(s string) []float32 {
	v := make([]float32, 36)
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z':
			v[r-'a']++
		case unicode.IsDigit(r) && r <= '9':
			v[26+r-'0']++
		}
	}
	return v
}

func lastUserMessage(req llm.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Content
		}
	}
	return ""
}

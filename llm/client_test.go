package llm_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brunobiangulo/goextract/llm"
	"github.com/brunobiangulo/goextract/llm/llmtest"
)

func TestClientDefaultsAndTemperatureOverride(t *testing.T) {
	p := llmtest.Static("ok")
	c := llm.NewClient(p, llm.ClientConfig{Model: "m"})

	if _, err := c.Complete(context.Background(), "a"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := c.Complete(llm.WithTemperature(context.Background(), 1.0), "b"); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if _, err := c.Complete(context.Background(), "c"); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	reqs := p.Requests()
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	want := []float64{0.2, 1.0, 0.2}
	for i, r := range reqs {
		if r.Temperature != want[i] {
			t.Errorf("request %d temperature = %v, want %v", i, r.Temperature, want[i])
		}
		if r.TopP != 0.9 || r.MaxTokens != 1024 {
			t.Errorf("request %d sampling = %v/%d", i, r.TopP, r.MaxTokens)
		}
	}
}

func TestClientSamplingDefaults(t *testing.T) {
	if got := llm.NewClient(llmtest.Static("ok"), llm.ClientConfig{}).Sampling(); got != llm.DefaultSampling() {
		t.Errorf("zero config sampling = %+v", got)
	}
	custom := llm.Sampling{Temperature: 0.7, TopP: 1, MaxTokens: 10}
	c := llm.NewClient(llmtest.Static("ok"), llm.ClientConfig{Sampling: custom})
	if _, err := c.Complete(llm.WithTemperature(context.Background(), 1.0), "x"); err != nil {
		t.Fatal(err)
	}
	if got := c.Sampling(); got != custom {
		t.Errorf("sampling = %+v, want %+v", got, custom)
	}
}

func TestClientRetriesThenFails(t *testing.T) {
	attempts := 0
	p := llmtest.NewWithRequest(func(llm.ChatRequest) (string, error) {
		attempts++
		return "", errors.New("boom")
	})
	c := llm.NewClient(p, llm.ClientConfig{MaxAttempts: 3})

	_, err := c.Complete(context.Background(), "x")
	if !errors.Is(err, llm.ErrCompletionFailed) {
		t.Fatalf("err = %v, want ErrCompletionFailed", err)
	}
	if attempts != 3 || c.Calls() != 3 {
		t.Errorf("attempts = %d, calls = %d, want 3", attempts, c.Calls())
	}
}

func TestClientStopsOnPermanentError(t *testing.T) {
	attempts := 0
	p := llmtest.NewWithRequest(func(llm.ChatRequest) (string, error) {
		attempts++
		return "", &llm.APIError{StatusCode: 401, Body: "invalid api key"}
	})
	c := llm.NewClient(p, llm.ClientConfig{MaxAttempts: 3})

	_, err := c.Complete(context.Background(), "x")
	if !errors.Is(err, llm.ErrCompletionFailed) || !llm.IsPermanent(err) {
		t.Fatalf("err = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
}

func TestClientRetriesEmptyResponse(t *testing.T) {
	n := 0
	p := llmtest.NewWithRequest(func(llm.ChatRequest) (string, error) {
		n++
		if n == 1 {
			return "  ", nil
		}
		return "second", nil
	})
	c := llm.NewClient(p, llm.ClientConfig{MaxAttempts: 2})
	got, err := c.Complete(context.Background(), "x")
	if err != nil || got != "second" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
}

func TestClientCallTimeoutIsRetryable(t *testing.T) {
	n := 0
	p := llmtest.NewWithRequest(func(req llm.ChatRequest) (string, error) {
		n++
		if n == 1 {
			return "", context.DeadlineExceeded
		}
		return "done", nil
	})
	c := llm.NewClient(p, llm.ClientConfig{MaxAttempts: 2, CallTimeout: time.Second})
	got, err := c.Complete(context.Background(), "x")
	if err != nil || got != "done" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
}

func TestClientCancelledContext(t *testing.T) {
	c := llm.NewClient(llmtest.Static("ok"), llm.ClientConfig{MaxAttempts: 5})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, "x")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if c.Calls() != 1 {
		t.Errorf("calls = %d, want 1", c.Calls())
	}
}

type countingObserver struct {
	n, failed int
}

func (o *countingObserver) ObserveCompletion(_ time.Duration, err error) {
	o.n++
	if err != nil {
		o.failed++
	}
}

func TestClientObserver(t *testing.T) {
	obs := &countingObserver{}
	p := llmtest.New(func(prompt string) string { return strings.ToUpper(prompt) })
	c := llm.NewClient(p, llm.ClientConfig{Observer: obs})
	got, err := c.Complete(context.Background(), "hi")
	if err != nil || got != "HI" {
		t.Fatalf("Complete = %q, %v", got, err)
	}
	if obs.n != 1 || obs.failed != 0 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestClientCallCounterIsPerContext(t *testing.T) {
	c := llm.NewClient(llmtest.Static("ok"), llm.ClientConfig{})
	var a, b atomic.Int64
	ctxA := llm.WithCallCounter(context.Background(), &a)
	ctxB := llm.WithCallCounter(context.Background(), &b)

	for i := 0; i < 2; i++ {
		if _, err := c.Complete(ctxA, "a"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := c.Complete(llm.WithTemperature(ctxB, 1.0), "b"); err != nil {
		t.Fatal(err)
	}
	if a.Load() != 2 || b.Load() != 1 || c.Calls() != 3 {
		t.Errorf("a = %d, b = %d, total = %d", a.Load(), b.Load(), c.Calls())
	}
}

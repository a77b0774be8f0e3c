// Package embedding provides a pluggable interface for text embedding providers
// and the timeout/fallback policy the insert pipeline embeds through.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Embedder generates one embedding vector per input text, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Model() string
	Dimension() int
}

// Path records how a batch of vectors was produced.
type Path string

const (
	PathProvider Path = "provider"
	PathFallback Path = "fallback"
	PathFake     Path = "fake"
)

// DefaultTimeout bounds a whole embedding call.
const DefaultTimeout = 20 * time.Second

var (
	// ErrTimeout is returned when the provider does not answer in time.
	ErrTimeout = errors.New("embedding timed out")
	// ErrNoProvider is returned when no embedder is configured.
	ErrNoProvider = errors.New("no embedding provider configured")
	// ErrShortResult is returned when the provider returns fewer vectors than texts.
	ErrShortResult = errors.New("embedding provider returned too few vectors")
	// ErrDimensionMismatch is returned when provider vectors do not have the
	// policy dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Policy controls EmbedWithFallback.
type Policy struct {
	Dimension int
	Timeout   time.Duration
	Fake      bool
}

// Result is the outcome of EmbedWithFallback. Err holds the provider
// failure that caused a fallback, if any.
type Result struct {
	Vectors [][]float32
	Path    Path
	Err     error
}

// EmbedWithFallback embeds texts with a hard wall-clock limit. Any provider
// error, timeout or short result yields placeholder vectors instead; it
// never fails.
func EmbedWithFallback(ctx context.Context, e Embedder, texts []string, p Policy) Result {
	if p.Fake {
		return Result{Vectors: Placeholder(len(texts), p.Dimension), Path: PathFake}
	}
	vectors, err := embedWithTimeout(ctx, e, texts, p.Timeout)
	if err == nil && len(vectors) < len(texts) {
		err = fmt.Errorf("%w: got %d, want %d", ErrShortResult, len(vectors), len(texts))
	}
	if err == nil && p.Dimension > 0 {
		for i := range texts {
			if len(vectors[i]) != p.Dimension {
				err = fmt.Errorf("%w: vector %d has %d values, want %d", ErrDimensionMismatch, i, len(vectors[i]), p.Dimension)
				break
			}
		}
	}
	if err != nil {
		return Result{Vectors: Placeholder(len(texts), p.Dimension), Path: PathFallback, Err: err}
	}
	return Result{Vectors: vectors[:len(texts)], Path: PathProvider}
}

type embedResult struct {
	vectors [][]float32
	err     error
}

// embedWithTimeout runs the provider call on its own goroutine so that the
// deadline holds even when the client ignores context cancellation.
func embedWithTimeout(ctx context.Context, e Embedder, texts []string, timeout time.Duration) ([][]float32, error) {
	if e == nil {
		return nil, ErrNoProvider
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan embedResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- embedResult{err: fmt.Errorf("embedding provider panicked: %v", r)}
			}
		}()
		v, err := e.Embed(ctx, texts)
		done <- embedResult{vectors: v, err: err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.vectors, res.err
	case <-timer.C:
		return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Placeholder returns n deterministic vectors of length dim. Vector i is
// filled with 0.001*(i+1).
func Placeholder(n, dim int) [][]float32 {
	if n <= 0 {
		return nil
	}
	if dim <= 0 {
		dim = 1
	}
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		val := float32(0.001 * float64(i+1))
		for j := range v {
			v[j] = val
		}
		out[i] = v
	}
	return out
}

// ResolveDimension returns the dimension e produces, or configured when
// there is no provider or it does not know its own size.
func ResolveDimension(e Embedder, configured int) int {
	if e != nil {
		if d := e.Dimension(); d > 0 {
			return d
		}
	}
	return configured
}

// Config selects and configures a provider.
type Config struct {
	Provider   string // "openai" or "ollama"
	Model      string
	Dimension  int
	APIKey     string
	BaseURL    string
	OllamaHost string
}

// New builds the configured embedder. An OpenAI provider without an API key
// yields (nil, nil): inserts then run on placeholder vectors.
func New(cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", "openai":
		if cfg.APIKey == "" {
			return nil, nil
		}
		return NewOpenAIEmbedder(cfg.APIKey,
			WithModel(cfg.Model),
			WithDimension(cfg.Dimension),
			WithBaseURL(cfg.BaseURL),
		), nil
	case "ollama":
		return NewOllamaEmbedder(cfg.OllamaHost, cfg.Model, cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

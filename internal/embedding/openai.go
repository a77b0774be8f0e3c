package embedding

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	DefaultOpenAIModel     = "text-embedding-3-small"
	DefaultOpenAIDimension = 1536

	// MaxBatchSize is the largest input list one embeddings request accepts.
	MaxBatchSize = 100
)

// OpenAIEmbedder uses the OpenAI embeddings API.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dimension int
}

type openAIOptions struct {
	model     string
	dimension int
	baseURL   string
	retries   int
}

// OpenAIOption configures an OpenAIEmbedder.
type OpenAIOption func(*openAIOptions)

func WithModel(model string) OpenAIOption {
	return func(o *openAIOptions) {
		if model != "" {
			o.model = model
		}
	}
}

func WithDimension(dimension int) OpenAIOption {
	return func(o *openAIOptions) {
		if dimension > 0 {
			o.dimension = dimension
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(o *openAIOptions) {
		o.baseURL = url
	}
}

// WithMaxRetries overrides the client's retry count.
func WithMaxRetries(n int) OpenAIOption {
	return func(o *openAIOptions) {
		o.retries = n
	}
}

func NewOpenAIEmbedder(apiKey string, opts ...OpenAIOption) *OpenAIEmbedder {
	options := openAIOptions{
		model:     DefaultOpenAIModel,
		dimension: DefaultOpenAIDimension,
		retries:   -1,
	}
	for _, opt := range opts {
		opt(&options)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if options.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(options.baseURL))
	}
	if options.retries >= 0 {
		reqOpts = append(reqOpts, option.WithMaxRetries(options.retries))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(reqOpts...),
		model:     options.model,
		dimension: options.dimension,
	}
}

// Embed sends texts in batches of MaxBatchSize and returns vectors in input order.
func (e *OpenAIEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(texts))
		batch, err := e.batchEmbed(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (e *OpenAIEmbedder) batchEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	resp, err := e.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrShortResult, len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || int(data.Index) >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", data.Index)
		}
		vector := make([]float32, len(data.Embedding))
		for i, v := range data.Embedding {
			vector[i] = float32(v)
		}
		embeddings[data.Index] = vector
	}
	return embeddings, nil
}

func (e *OpenAIEmbedder) Model() string { return e.model }

func (e *OpenAIEmbedder) Dimension() int { return e.dimension }

var _ Embedder = (*OpenAIEmbedder)(nil)

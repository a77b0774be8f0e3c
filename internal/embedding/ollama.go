package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	baseURL string
	model   string
	dims    int
	client  *http.Client
}

type ollamaRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// DefaultOllamaModel replaces an empty or OpenAI model name.
const DefaultOllamaModel = "nomic-embed-text"

// ollamaDims lists output sizes of common Ollama embedding models.
var ollamaDims = map[string]int{
	"nomic-embed-text":  768,
	"all-minilm":        384,
	"mxbai-embed-large": 1024,
}

// NewOllamaEmbedder creates an embedder using Ollama's /api/embed endpoint.
// An empty or OpenAI model name is replaced by DefaultOllamaModel. Models in
// ollamaDims always report their fixed size; dims applies to other models.
func NewOllamaEmbedder(baseURL, model string, dims int) *OllamaEmbedder {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" || strings.HasPrefix(model, "text-embedding-") {
		model = DefaultOllamaModel
	}
	if known, ok := ollamaDims[strings.SplitN(model, ":", 2)[0]]; ok {
		dims = known
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		dims:    dims,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	body, err := json.Marshal(ollamaRequest{Model: e.model, Input: texts})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("ollama error %d: %s", resp.StatusCode, string(b))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return result.Embeddings, nil
}

func (e *OllamaEmbedder) Model() string { return e.model }

func (e *OllamaEmbedder) Dimension() int { return e.dims }

var _ Embedder = (*OllamaEmbedder)(nil)

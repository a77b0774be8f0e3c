package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionBody(content string) map[string]any {
	choices := []map[string]any{}
	if content != "" {
		choices = append(choices, map[string]any{
			"index":         0,
			"finish_reason": "stop",
			"logprobs":      nil,
			"message":       map[string]any{"role": "assistant", "content": content, "refusal": nil},
		})
	}
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1,
		"model":   "gpt-4o-mini",
		"choices": choices,
		"usage":   map[string]any{"prompt_tokens": 1, "completion_tokens": 1, "total_tokens": 2},
	}
}

func TestClient_Complete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gpt-4o-mini", req["model"])
		assert.InDelta(t, 0.2, req["temperature"], 1e-9)
		assert.EqualValues(t, 300, req["max_tokens"])
		msgs := req["messages"].([]any)
		assert.Len(t, msgs, 2)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody("  mood: calm\n"))
	}))
	defer srv.Close()

	c := NewClient("sk-test", "", srv.URL, time.Second)
	got, err := c.Complete(context.Background(), CompletionRequest{
		System:      "summarize",
		Prompt:      "texts",
		Temperature: 0.2,
		MaxTokens:   300,
	})
	require.NoError(t, err)
	assert.Equal(t, "mood: calm", got)
}

func TestClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(completionBody(""))
	}))
	defer srv.Close()

	c := NewClient("sk-test", "", srv.URL, time.Second)
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	assert.ErrorIs(t, err, ErrNoChoices)
}

func TestClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient("sk-test", "", srv.URL, 50*time.Millisecond)
	start := time.Now()
	_, err := c.Complete(context.Background(), CompletionRequest{Prompt: "x"})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

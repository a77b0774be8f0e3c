package vectorstore

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/avatar-memory/internal/logger"
	"github.com/rcliao/avatar-memory/internal/model"
)

// fakePinecone serves the subset of the control and data plane the store uses.
type fakePinecone struct {
	t   *testing.T
	srv *httptest.Server

	mu            sync.Mutex
	indexes       map[string]bool // name -> ready
	describeCalls int
	readyAfter    int
	rejectRegion  string
	created       []createIndexRequest
	upserts       []upsertRequest
	deletes       []deleteRequest
	stored        map[string]model.Vector
}

func newFakePinecone(t *testing.T) *fakePinecone {
	f := &fakePinecone{t: t, indexes: map[string]bool{}, stored: map[string]model.Vector{}}
	f.srv = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakePinecone) handle(w http.ResponseWriter, r *http.Request) {
	assert.Equal(f.t, "pk-test", r.Header.Get("Api-Key"))
	assert.NotEmpty(f.t, r.Header.Get("X-Pinecone-Api-Version"))

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/indexes/"):
		name := strings.TrimPrefix(r.URL.Path, "/indexes/")
		ready, ok := f.indexes[name]
		if !ok {
			http.Error(w, `{"error":{"code":"NOT_FOUND"}}`, http.StatusNotFound)
			return
		}
		f.describeCalls++
		if !ready && f.describeCalls > f.readyAfter {
			f.indexes[name] = true
			ready = true
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":   name,
			"host":   f.srv.URL,
			"status": map[string]any{"ready": ready, "state": "Ready"},
		})
	case r.Method == http.MethodPost && r.URL.Path == "/indexes":
		var req createIndexRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.created = append(f.created, req)
		if req.Spec.Serverless.Region == f.rejectRegion {
			http.Error(w, `{"error":{"message":"invalid region"}}`, http.StatusBadRequest)
			return
		}
		f.indexes[req.Name] = false
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{}`))
	case r.URL.Path == "/vectors/upsert":
		var req upsertRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.upserts = append(f.upserts, req)
		for _, v := range req.Vectors {
			f.stored[v.ID] = v
		}
		_, _ = w.Write([]byte(`{"upsertedCount":1}`))
	case r.URL.Path == "/vectors/delete":
		var req deleteRequest
		require.NoError(f.t, json.NewDecoder(r.Body).Decode(&req))
		f.deletes = append(f.deletes, req)
		if req.Namespace == "missing" {
			http.Error(w, `{"message":"Namespace not found"}`, http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	case r.URL.Path == "/vectors/fetch":
		out := fetchResponse{Vectors: map[string]model.Vector{}}
		for _, id := range r.URL.Query()["ids"] {
			if v, ok := f.stored[id]; ok {
				out.Vectors[id] = v
			}
		}
		_ = json.NewEncoder(w).Encode(out)
	default:
		http.NotFound(w, r)
	}
}

func newTestPinecone(t *testing.T, f *fakePinecone) *PineconeStore {
	t.Helper()
	s, err := NewPineconeStore(logger.Nop(), PineconeConfig{
		APIKey:        "pk-test",
		BaseURL:       f.srv.URL,
		ReadyTimeout:  time.Second,
		ReadyInterval: 5 * time.Millisecond,
	})
	require.NoError(t, err)
	return s
}

func TestPinecone_EnsureIndexCreatesAndWaits(t *testing.T) {
	f := newFakePinecone(t)
	f.readyAfter = 2
	s := newTestPinecone(t, f)

	err := s.EnsureIndex(context.Background(), IndexSpec{Name: "mem-u-a", Dimension: 4, Region: Region{"gcp", "us-central1"}})
	require.NoError(t, err)

	require.Len(t, f.created, 1)
	assert.Equal(t, "cosine", f.created[0].Metric)
	assert.Equal(t, "gcp", f.created[0].Spec.Serverless.Cloud)
	assert.True(t, f.indexes["mem-u-a"])

	// Second call is a no-op describe.
	require.NoError(t, s.EnsureIndex(context.Background(), IndexSpec{Name: "mem-u-a", Dimension: 4}))
	assert.Len(t, f.created, 1)
}

func TestPinecone_EnsureIndexRegionRetry(t *testing.T) {
	f := newFakePinecone(t)
	f.rejectRegion = "mars-1"
	s := newTestPinecone(t, f)

	err := s.EnsureIndex(context.Background(), IndexSpec{Name: "idx", Dimension: 4, Region: Region{"aws", "mars-1"}})
	require.NoError(t, err)

	require.Len(t, f.created, 2)
	assert.Equal(t, DefaultRegion, f.created[1].Spec.Serverless)
}

func TestPinecone_EnsureIndexNotReady(t *testing.T) {
	f := newFakePinecone(t)
	f.readyAfter = 1 << 30
	s := newTestPinecone(t, f)
	s.cfg.ReadyTimeout = 30 * time.Millisecond

	err := s.EnsureIndex(context.Background(), IndexSpec{Name: "slow", Dimension: 4})
	assert.ErrorIs(t, err, ErrIndexNotReady)
}

func TestPinecone_UpsertBatchesAndFetch(t *testing.T) {
	f := newFakePinecone(t)
	f.indexes["idx"] = true
	s := newTestPinecone(t, f)
	ctx := context.Background()

	vectors := make([]model.Vector, 250)
	for i := range vectors {
		vectors[i] = model.Vector{ID: "v" + string(rune('a'+i%26)) + strings.Repeat("x", i/26), Values: []float32{1, 2}}
	}
	require.NoError(t, s.Upsert(ctx, "idx", "u_a", vectors))
	require.Len(t, f.upserts, 3)
	assert.Len(t, f.upserts[0].Vectors, 100)
	assert.Len(t, f.upserts[2].Vectors, 50)
	assert.Equal(t, "u_a", f.upserts[0].Namespace)

	got, err := s.Fetch(ctx, "idx", "u_a", []string{vectors[1].ID, "unknown", vectors[0].ID})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, vectors[1].ID, got[0].ID)
}

func TestPinecone_DeleteByFilter(t *testing.T) {
	f := newFakePinecone(t)
	f.indexes["idx"] = true
	s := newTestPinecone(t, f)
	ctx := context.Background()

	require.NoError(t, s.DeleteByFilter(ctx, "idx", "u_a", Filter{"file_name": "notes.txt"}))
	require.Len(t, f.deletes, 1)
	assert.Equal(t, map[string]any{"file_name": map[string]any{"$eq": "notes.txt"}}, f.deletes[0].Filter)

	err := s.DeleteByFilter(ctx, "idx", "missing", Filter{"file_name": "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	err = s.DeleteByFilter(ctx, "nope", "u_a", Filter{"file_name": "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, s.DeleteByFilter(ctx, "idx", "u_a", Filter{"bad field": "x"}))
}

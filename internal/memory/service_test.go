package memory

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hack-pad/hackpadfs/mem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/avatar-memory/internal/chunker"
	"github.com/rcliao/avatar-memory/internal/config"
	"github.com/rcliao/avatar-memory/internal/embedding"
	"github.com/rcliao/avatar-memory/internal/llm"
	"github.com/rcliao/avatar-memory/internal/logger"
	"github.com/rcliao/avatar-memory/internal/model"
	"github.com/rcliao/avatar-memory/internal/rolling"
	"github.com/rcliao/avatar-memory/internal/trace"
	"github.com/rcliao/avatar-memory/internal/vectorstore"
)

const testDim = 4

type failingEmbedder struct{ delay time.Duration }

func (f failingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return nil, errors.New("provider unavailable")
}
func (failingEmbedder) Model() string  { return "text-embedding-3-small" }
func (failingEmbedder) Dimension() int { return testDim }

type constEmbedder struct{}

func (constEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{1, 0, 0, float32(i)}
	}
	return out, nil
}
func (constEmbedder) Model() string  { return "const" }
func (constEmbedder) Dimension() int { return testDim }

// sizedEmbedder returns dim-length vectors, reporting reported as its size.
type sizedEmbedder struct {
	model    string
	dim      int
	reported int
}

func (e sizedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, e.dim)
		out[i][0] = float32(i + 1)
	}
	return out, nil
}
func (e sizedEmbedder) Model() string  { return e.model }
func (e sizedEmbedder) Dimension() int { return e.reported }

// flakyStore fails every call against the listed indexes.
type flakyStore struct {
	vectorstore.Store
	failing map[string]bool
	calls   []string
	specs   []vectorstore.IndexSpec
}

func (f *flakyStore) EnsureIndex(ctx context.Context, spec vectorstore.IndexSpec) error {
	f.calls = append(f.calls, "ensure:"+spec.Name)
	f.specs = append(f.specs, spec)
	return f.Store.EnsureIndex(ctx, spec)
}

func (f *flakyStore) DeleteByFilter(ctx context.Context, index, ns string, filter vectorstore.Filter) error {
	f.calls = append(f.calls, "delete:"+index)
	return f.Store.DeleteByFilter(ctx, index, ns, filter)
}

func (f *flakyStore) Upsert(ctx context.Context, index, ns string, vectors []model.Vector) error {
	f.calls = append(f.calls, "upsert:"+index)
	if f.failing[index] {
		return errors.New("write rejected")
	}
	return f.Store.Upsert(ctx, index, ns, vectors)
}

type recordingRunner struct{ jobs []rolling.Job }

func (r *recordingRunner) Submit(_ context.Context, job rolling.Job) bool {
	r.jobs = append(r.jobs, job)
	return true
}

func newStore(t *testing.T) *vectorstore.SQLiteStore {
	t.Helper()
	s, err := vectorstore.NewSQLiteStore(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newService(store vectorstore.Store, e embedding.Embedder, runner Submitter, rec trace.Recorder, cfg Config) *Service {
	if cfg.Dimension == 0 {
		cfg.Dimension = testDim
	}
	if cfg.EmbedTimeout == 0 {
		cfg.EmbedTimeout = time.Second
	}
	return New(logger.Nop(), chunker.New(nil, chunker.DefaultOptions()), e, store, runner, rec, cfg)
}

func digits(n int) string {
	return strings.Repeat("0123456789", n/10)
}

func intPtr(n int) *int { return &n }

func TestInsert_FallbackVectorsStillSucceed(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newService(store, failingEmbedder{}, nil, nil, Config{EmbedModel: "text-embedding-3-small"})

	// 10000 chars at target 500 gives 5 character windows.
	res, err := svc.Insert(ctx, InsertRequest{UserID: "u1", AvatarID: "a1", FullText: digits(10000), TargetTokens: 500, Overlap: intPtr(50)})
	require.NoError(t, err)

	assert.Equal(t, "u1_a1", res.Namespace)
	assert.Equal(t, 5, res.Inserted)
	assert.Equal(t, "avatar-memories", res.IndexName)
	assert.Equal(t, "text-embedding-3-small", res.Model)
	assert.Equal(t, string(embedding.PathFallback), res.EmbeddingPath)
	assert.False(t, res.FellBack)

	ids := []string{}
	for i := 0; i < res.Inserted; i++ {
		ids = append(ids, "a1-"+res.DocID+"-"+string(rune('0'+i)))
	}
	got, err := store.Fetch(ctx, "avatar-memories", "u1_a1", ids)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, v := range got {
		require.Len(t, v.Values, testDim)
		assert.InDelta(t, 0.001*float64(i+1), float64(v.Values[0]), 1e-6)
		assert.EqualValues(t, i, v.Metadata[model.MetaChunkIndex])
		assert.Equal(t, res.DocID, v.Metadata[model.MetaDocID])
		assert.Equal(t, model.DefaultSource, v.Metadata[model.MetaSource])
		assert.NotContains(t, v.Metadata, model.MetaFileURL)
		assert.NotContains(t, v.Metadata, model.MetaFilePath)
		assert.NotContains(t, v.Metadata, model.MetaFileName)
	}
	assert.Equal(t, got[0].Metadata[model.MetaCreatedAt], got[4].Metadata[model.MetaCreatedAt])
}

func TestInsert_IndexSizedToProviderVectors(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: newStore(t)}
	e := sizedEmbedder{model: "nomic-embed-text", dim: 6, reported: 6}
	svc := newService(store, e, nil, nil, Config{EmbedModel: "text-embedding-3-small", Dimension: 1536})

	res, err := svc.Insert(ctx, InsertRequest{UserID: "u1", AvatarID: "a1", FullText: "a short note"})
	require.NoError(t, err)

	assert.Equal(t, "nomic-embed-text", res.Model)
	assert.Equal(t, string(embedding.PathProvider), res.EmbeddingPath)
	require.NotEmpty(t, store.specs)
	assert.Equal(t, 6, store.specs[0].Dimension)
	assert.Equal(t, 6, svc.EmbeddingPolicy().Dimension)

	got, err := store.Fetch(ctx, "avatar-memories", "u1_a1", []string{"a1-" + res.DocID + "-0"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Values, 6)
}

func TestInsert_WrongLengthVectorsFallBack(t *testing.T) {
	ctx := context.Background()
	store := &flakyStore{Store: newStore(t)}
	e := sizedEmbedder{model: "mislabelled", dim: 3, reported: testDim}
	svc := newService(store, e, nil, nil, Config{})

	res, err := svc.Insert(ctx, InsertRequest{UserID: "u1", AvatarID: "a1", FullText: "a short note"})
	require.NoError(t, err)

	assert.Equal(t, string(embedding.PathFallback), res.EmbeddingPath)
	assert.Equal(t, testDim, store.specs[0].Dimension)
	got, err := store.Fetch(ctx, "avatar-memories", "u1_a1", []string{"a1-" + res.DocID + "-0"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Len(t, got[0].Values, testDim)
}

func TestInsert_ExplicitZeroOverlap(t *testing.T) {
	ctx := context.Background()
	svc := newService(newStore(t), constEmbedder{}, nil, nil, Config{})

	// 8000 chars at target 500: stride 2000 without overlap, 1600 with the default.
	res, err := svc.Insert(ctx, InsertRequest{UserID: "u1", AvatarID: "a1", FullText: digits(8000), TargetTokens: 500, Overlap: intPtr(0)})
	require.NoError(t, err)
	assert.Equal(t, 4, res.Inserted)

	res, err = svc.Insert(ctx, InsertRequest{UserID: "u1", AvatarID: "a2", FullText: digits(8000), TargetTokens: 500})
	require.NoError(t, err)
	assert.Equal(t, 5, res.Inserted)
}

func TestInsertRequest_OverlapJSON(t *testing.T) {
	var req InsertRequest
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u","avatar_id":"a","full_text":"x","overlap":0}`), &req))
	require.NotNil(t, req.Overlap)
	assert.Equal(t, 0, *req.Overlap)

	req = InsertRequest{}
	require.NoError(t, json.Unmarshal([]byte(`{"user_id":"u","avatar_id":"a","full_text":"x"}`), &req))
	assert.Nil(t, req.Overlap)
}

func TestInsert_EmbeddingTimeoutBounded(t *testing.T) {
	svc := newService(newStore(t), failingEmbedder{delay: 2 * time.Second}, nil, nil, Config{EmbedTimeout: 50 * time.Millisecond})

	start := time.Now()
	res, err := svc.Insert(context.Background(), InsertRequest{UserID: "u", AvatarID: "a", FullText: "short memory"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, string(embedding.PathFallback), res.EmbeddingPath)
	assert.Equal(t, 1, res.Inserted)
}

func TestInsert_ClientErrors(t *testing.T) {
	svc := newService(newStore(t), constEmbedder{}, nil, nil, Config{})
	ctx := context.Background()

	_, err := svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: "   \n\t"})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.True(t, IsClientError(err))

	_, err = svc.Insert(ctx, InsertRequest{UserID: "u", FullText: "hello"})
	assert.ErrorIs(t, err, ErrMissingIdentifiers)
	assert.True(t, IsClientError(err))
}

func TestInsert_ReplacesPriorVectorsForSameFile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newService(store, constEmbedder{}, nil, nil, Config{})

	first, err := svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: "version one", FilePath: "/notes/diary.txt"})
	require.NoError(t, err)
	other, err := svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: "unrelated", FilePath: "/notes/other.txt"})
	require.NoError(t, err)
	second, err := svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: "version two", FilePath: "/notes/diary.txt"})
	require.NoError(t, err)

	records, err := store.List(ctx, vectorstore.ListParams{Namespace: "u_a", Limit: 100})
	require.NoError(t, err)
	require.Len(t, records, 2)

	docs := map[string]bool{}
	for _, r := range records {
		docs[r.Vector.Metadata[model.MetaDocID].(string)] = true
	}
	assert.False(t, docs[first.DocID], "first upload must be superseded")
	assert.True(t, docs[second.DocID])
	assert.True(t, docs[other.DocID])
}

func TestInsert_FileNameDerivedFromURL(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newService(store, constEmbedder{}, nil, nil, Config{})

	_, err := svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: "one", FileURL: "https://cdn.example.com/up/My%20Notes.txt?sig=1"})
	require.NoError(t, err)
	res, err := svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: "two", FileURL: "https://cdn.example.com/other/My%20Notes.txt"})
	require.NoError(t, err)

	records, err := store.List(ctx, vectorstore.ListParams{Namespace: "u_a"})
	require.NoError(t, err)
	require.Len(t, records, 1)
	meta := records[0].Vector.Metadata
	assert.Equal(t, res.DocID, meta[model.MetaDocID])
	assert.Equal(t, "My Notes.txt", meta[model.MetaFileName])
	assert.Equal(t, "https://cdn.example.com/other/My%20Notes.txt", meta[model.MetaFileURL])
}

func TestInsert_PerAvatarFallsBackToDefaultIndex(t *testing.T) {
	ctx := context.Background()
	perAvatar := PerAvatarIndexName("mem", "u", "a")
	store := &flakyStore{Store: newStore(t), failing: map[string]bool{perAvatar: true}}
	runner := &recordingRunner{}
	fs, err := mem.NewFS()
	require.NoError(t, err)
	rec := trace.NewFileRecorder(fs, "")
	svc := newService(store, constEmbedder{}, runner, rec, Config{IndexMode: config.IndexModePerAvatar})

	res, err := svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: "hello", FileName: "f.txt"})
	require.NoError(t, err)
	assert.True(t, res.FellBack)
	assert.Equal(t, "avatar-memories", res.IndexName)
	assert.Equal(t, []string{
		"ensure:" + perAvatar, "delete:" + perAvatar, "upsert:" + perAvatar,
		"ensure:avatar-memories", "delete:avatar-memories", "upsert:avatar-memories",
	}, store.calls)

	require.Len(t, runner.jobs, 1)
	assert.Equal(t, "avatar-memories", runner.jobs[0].IndexName)
	assert.Equal(t, []string{"hello"}, runner.jobs[0].Texts)

	snap, err := rec.Last(ctx)
	require.NoError(t, err)
	assert.Equal(t, trace.StageDone, snap.Stage)
	assert.Equal(t, "avatar-memories", snap.IndexName)
	assert.Equal(t, res.DocID, snap.DocID)
}

func TestInsert_StoreWriteError(t *testing.T) {
	store := &flakyStore{Store: newStore(t), failing: map[string]bool{"avatar-memories": true}}
	svc := newService(store, constEmbedder{}, nil, nil, Config{})

	_, err := svc.Insert(context.Background(), InsertRequest{UserID: "u", AvatarID: "a", FullText: "hello"})
	var swe *StoreWriteError
	require.ErrorAs(t, err, &swe)
	assert.Equal(t, "avatar-memories", swe.Index)
	assert.False(t, IsClientError(err))
}

func TestInsert_RollingSummaryAfterThreeInserts(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	states := rolling.NewMemoryStore()
	completer := &staticCompleter{out: "Mood/Emotion: content"}
	compactor := rolling.NewCompactor(logger.Nop(), states, completer, nil, store, rolling.Config{
		Every:     3,
		Embedding: embedding.Policy{Dimension: testDim, Fake: true},
	})
	runner := rolling.NewRunner(logger.Nop(), compactor, rolling.RunnerConfig{Enabled: true, Synchronous: true})
	svc := newService(store, constEmbedder{}, runner, nil, Config{})

	for _, text := range []string{"woke up early", "walked the dog", "felt anxious before the call"} {
		_, err := svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: text})
		require.NoError(t, err)
	}

	metas, err := store.Fetch(ctx, "avatar-memories", "u_a", []string{"a-meta-0", "a-meta-1"})
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, model.TypeMetaSummary, metas[0].Metadata[model.MetaType])

	st, err := states.Load(ctx, "u_a")
	require.NoError(t, err)
	assert.Empty(t, st.RecentTexts)
	assert.Equal(t, 1, st.SummarySeq)
}

type staticCompleter struct{ out string }

func (s *staticCompleter) Complete(context.Context, llm.CompletionRequest) (string, error) {
	return s.out, nil
}

func TestDeleteByFile(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	svc := newService(store, constEmbedder{}, nil, nil, Config{})

	_, err := svc.DeleteByFile(ctx, DeleteRequest{UserID: "u", AvatarID: "a", FileName: "never-stored.txt"})
	require.NoError(t, err, "missing index is not an error")

	_, err = svc.Insert(ctx, InsertRequest{UserID: "u", AvatarID: "a", FullText: "hello", FileURL: "https://x.test/a/b/report.pdf"})
	require.NoError(t, err)

	res, err := svc.DeleteByFile(ctx, DeleteRequest{UserID: "u", AvatarID: "a", FileURL: "https://x.test/elsewhere/report.pdf"})
	require.NoError(t, err)
	assert.Equal(t, DeleteResult{Namespace: "u_a", IndexName: "avatar-memories", Field: "file_name", Value: "report.pdf"}, *res)

	records, _ := store.List(ctx, vectorstore.ListParams{Namespace: "u_a"})
	assert.Empty(t, records)

	_, err = svc.DeleteByFile(ctx, DeleteRequest{UserID: "u", AvatarID: "a"})
	assert.ErrorIs(t, err, ErrNoFileReference)
}

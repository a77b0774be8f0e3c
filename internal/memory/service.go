// Package memory orchestrates the insert pipeline: chunk, embed, route to
// an index, replace prior vectors for the same file, upsert, and hand the
// new texts to rolling compaction.
package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/rcliao/avatar-memory/internal/chunker"
	"github.com/rcliao/avatar-memory/internal/config"
	"github.com/rcliao/avatar-memory/internal/embedding"
	"github.com/rcliao/avatar-memory/internal/logger"
	"github.com/rcliao/avatar-memory/internal/model"
	"github.com/rcliao/avatar-memory/internal/rolling"
	"github.com/rcliao/avatar-memory/internal/trace"
	"github.com/rcliao/avatar-memory/internal/vectorstore"
)

const tracerName = "github.com/rcliao/avatar-memory/internal/memory"

// Config holds routing and embedding settings.
type Config struct {
	IndexMode      string
	DefaultIndex   string
	IndexPrefix    string
	Region         vectorstore.Region
	EmbedModel     string
	Dimension      int
	EmbedTimeout   time.Duration
	FakeEmbeddings bool
}

// ConfigFrom maps process configuration onto Config.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		IndexMode:      cfg.Index.Mode,
		DefaultIndex:   cfg.Index.Default,
		IndexPrefix:    cfg.Index.Prefix,
		Region:         vectorstore.Region{Cloud: cfg.Vector.PineconeCloud, Region: cfg.Vector.PineconeRegion},
		EmbedModel:     cfg.Embedding.Model,
		Dimension:      cfg.Embedding.Dimension,
		EmbedTimeout:   cfg.Embedding.Timeout,
		FakeEmbeddings: cfg.Embedding.Fake,
	}
}

// Submitter accepts background compaction jobs.
type Submitter interface {
	Submit(ctx context.Context, job rolling.Job) bool
}

// InsertRequest is one memory to store. Zero chunking fields use defaults.
type InsertRequest struct {
	UserID         string `json:"user_id"`
	AvatarID       string `json:"avatar_id"`
	FullText       string `json:"full_text"`
	Source         string `json:"source,omitempty"`
	FileURL        string `json:"file_url,omitempty"`
	FileName       string `json:"file_name,omitempty"`
	FilePath       string `json:"file_path,omitempty"`
	TargetTokens   int    `json:"target_tokens,omitempty"`
	Overlap        *int   `json:"overlap,omitempty"`
	MinChunkTokens int    `json:"min_chunk_tokens,omitempty"`
}

// InsertResult reports where the vectors went.
type InsertResult struct {
	Namespace     string `json:"namespace"`
	Inserted      int    `json:"inserted"`
	IndexName     string `json:"index_name"`
	Model         string `json:"model"`
	EmbeddingPath string `json:"embedding_path"`
	FellBack      bool   `json:"fell_back"`
	DocID         string `json:"doc_id"`
}

// DeleteRequest identifies a file within a user/avatar namespace.
type DeleteRequest struct {
	UserID   string `json:"user_id"`
	AvatarID string `json:"avatar_id"`
	FileURL  string `json:"file_url,omitempty"`
	FileName string `json:"file_name,omitempty"`
	FilePath string `json:"file_path,omitempty"`
}

type DeleteResult struct {
	Namespace string `json:"namespace"`
	IndexName string `json:"index_name"`
	Field     string `json:"field"`
	Value     string `json:"value"`
}

// Service runs inserts and deletes against a vector store.
type Service struct {
	log      *logger.Logger
	chunker  *chunker.Chunker
	embedder embedding.Embedder
	store    vectorstore.Store
	runner   Submitter
	recorder trace.Recorder
	cfg      Config
	tracer   oteltrace.Tracer
	now      func() time.Time
}

// New builds a Service. embedder, runner and recorder may be nil.
func New(log *logger.Logger, ch *chunker.Chunker, embedder embedding.Embedder, store vectorstore.Store, runner Submitter, recorder trace.Recorder, cfg Config) *Service {
	if recorder == nil {
		recorder = trace.Nop{}
	}
	if cfg.DefaultIndex == "" {
		cfg.DefaultIndex = "avatar-memories"
	}
	if cfg.IndexPrefix == "" {
		cfg.IndexPrefix = "mem"
	}
	cfg.Dimension = embedding.ResolveDimension(embedder, cfg.Dimension)
	if cfg.Dimension <= 0 {
		cfg.Dimension = embedding.DefaultOpenAIDimension
	}
	if embedder != nil && embedder.Model() != "" {
		cfg.EmbedModel = embedder.Model()
	}
	return &Service{
		log:      log.With("service", "MemoryService"),
		chunker:  ch,
		embedder: embedder,
		store:    store,
		runner:   runner,
		recorder: recorder,
		cfg:      cfg,
		tracer:   otel.Tracer(tracerName),
		now:      time.Now,
	}
}

func identifiers(userID, avatarID string) (string, string, error) {
	userID, avatarID = strings.TrimSpace(userID), strings.TrimSpace(avatarID)
	if userID == "" || avatarID == "" {
		return "", "", ErrMissingIdentifiers
	}
	return userID, avatarID, nil
}

// Insert chunks, embeds and stores one memory.
func (s *Service) Insert(ctx context.Context, req InsertRequest) (*InsertResult, error) {
	ctx, span := s.tracer.Start(ctx, "memory.Insert")
	defer span.End()

	userID, avatarID, err := identifiers(req.UserID, req.AvatarID)
	if err != nil {
		return nil, fail(span, err)
	}
	ns := model.Namespace(userID, avatarID)
	index := s.IndexName(userID, avatarID)
	span.SetAttributes(attribute.String("memory.namespace", ns), attribute.String("memory.index", index))

	snap := trace.Snapshot{Namespace: ns, IndexName: index}
	s.record(ctx, &snap, trace.StageStart, nil)

	chunks := s.chunk(ctx, req)
	if len(chunks) == 0 {
		s.record(ctx, &snap, trace.StageFailed, ErrEmptyInput)
		return nil, fail(span, ErrEmptyInput)
	}
	snap.Chunks = len(chunks)
	s.record(ctx, &snap, trace.StageChunked, nil)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	emb := s.embed(ctx, texts)
	snap.EmbeddingPath = string(emb.Path)
	if emb.Err != nil {
		s.log.Warn("embedding fell back to placeholder vectors",
			"namespace", ns,
			"chunks", len(texts),
			"error", emb.Err,
		)
		snap.Details = map[string]any{"embedding_error": emb.Err.Error()}
	}
	s.record(ctx, &snap, trace.StageEmbedded, nil)

	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = FileNameFromURL(req.FileURL)
	}
	field, value := fileReference(req.FilePath, fileName)

	docID := ulid.Make().String()
	snap.DocID = docID
	createdAt := s.now().UnixMilli()
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = model.DefaultSource
	}

	vectors := make([]model.Vector, len(chunks))
	for i, c := range chunks {
		meta := model.MetadataBuilder{}
		meta.Set(model.MetaUserID, userID).
			Set(model.MetaAvatarID, avatarID).
			Set(model.MetaChunkIndex, c.Index).
			Set(model.MetaDocID, docID).
			Set(model.MetaCreatedAt, createdAt).
			Set(model.MetaSource, source).
			Set(model.MetaFileURL, strings.TrimSpace(req.FileURL)).
			Set(model.MetaFilePath, strings.TrimSpace(req.FilePath)).
			Set(model.MetaFileName, fileName).
			Set(model.MetaText, c.Text)
		vectors[i] = model.Vector{
			ID:       fmt.Sprintf("%s-%s-%d", avatarID, docID, c.Index),
			Values:   emb.Vectors[i],
			Metadata: meta.Map(),
		}
	}

	used, fellBack, err := s.write(ctx, &snap, index, ns, field, value, vectors)
	if err != nil {
		s.record(ctx, &snap, trace.StageFailed, err)
		return nil, fail(span, err)
	}

	if s.runner != nil {
		s.runner.Submit(ctx, rolling.Job{
			IndexName: used,
			Namespace: ns,
			UserID:    userID,
			AvatarID:  avatarID,
			Texts:     texts,
		})
	}

	s.record(ctx, &snap, trace.StageDone, nil)
	span.SetAttributes(
		attribute.Int("memory.inserted", len(vectors)),
		attribute.String("memory.embedding_path", string(emb.Path)),
		attribute.Bool("memory.fell_back", fellBack),
	)
	s.log.Info("memory inserted",
		"namespace", ns,
		"index", used,
		"chunks", len(vectors),
		"doc_id", docID,
		"embedding_path", emb.Path,
		"fell_back", fellBack,
	)

	return &InsertResult{
		Namespace:     ns,
		Inserted:      len(vectors),
		IndexName:     used,
		Model:         s.cfg.EmbedModel,
		EmbeddingPath: string(emb.Path),
		FellBack:      fellBack,
		DocID:         docID,
	}, nil
}

func (s *Service) chunk(ctx context.Context, req InsertRequest) []model.Chunk {
	_, span := s.tracer.Start(ctx, "memory.chunk")
	defer span.End()
	opts := chunker.Options{
		TargetTokens:   req.TargetTokens,
		MinChunkTokens: req.MinChunkTokens,
	}
	if req.Overlap != nil {
		opts.OverlapTokens = *req.Overlap
		opts.OverlapSet = true
	}
	chunks := s.chunker.Chunk(req.FullText, opts)
	span.SetAttributes(attribute.Int("memory.chunks", len(chunks)), attribute.Bool("memory.token_mode", s.chunker.TokenMode()))
	return chunks
}

func (s *Service) embed(ctx context.Context, texts []string) embedding.Result {
	ctx, span := s.tracer.Start(ctx, "memory.embed")
	defer span.End()
	res := embedding.EmbedWithFallback(ctx, s.embedder, texts, s.embeddingPolicy())
	span.SetAttributes(attribute.String("memory.embedding_path", string(res.Path)))
	if res.Err != nil {
		span.RecordError(res.Err)
	}
	return res
}

func (s *Service) embeddingPolicy() embedding.Policy {
	return embedding.Policy{
		Dimension: s.cfg.Dimension,
		Timeout:   s.cfg.EmbedTimeout,
		Fake:      s.cfg.FakeEmbeddings,
	}
}

// EmbeddingPolicy exposes the policy so compaction embeds the same way.
func (s *Service) EmbeddingPolicy() embedding.Policy {
	return s.embeddingPolicy()
}

// write stores vectors in index, falling back once to the default index.
// It returns the index that received the data.
func (s *Service) write(ctx context.Context, snap *trace.Snapshot, index, ns, field, value string, vectors []model.Vector) (string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "memory.write")
	defer span.End()

	err := s.writeTo(ctx, snap, index, ns, field, value, vectors)
	if err == nil {
		return index, false, nil
	}
	if index == s.cfg.DefaultIndex {
		return "", false, &StoreWriteError{Index: index, Err: err}
	}

	s.log.Warn("per-avatar index write failed, falling back to default index",
		"namespace", ns,
		"index", index,
		"fallback_index", s.cfg.DefaultIndex,
		"error", err,
	)
	snap.IndexName = s.cfg.DefaultIndex
	s.record(ctx, snap, trace.StageFallbackIndex, err)

	if ferr := s.writeTo(ctx, snap, s.cfg.DefaultIndex, ns, field, value, vectors); ferr != nil {
		return "", true, &StoreWriteError{Index: s.cfg.DefaultIndex, Err: errors.Join(err, ferr)}
	}
	return s.cfg.DefaultIndex, true, nil
}

func (s *Service) writeTo(ctx context.Context, snap *trace.Snapshot, index, ns, field, value string, vectors []model.Vector) error {
	dim := s.cfg.Dimension
	if len(vectors) > 0 && len(vectors[0].Values) > 0 {
		dim = len(vectors[0].Values)
	}
	if err := s.store.EnsureIndex(ctx, vectorstore.IndexSpec{
		Name:      index,
		Dimension: dim,
		Metric:    vectorstore.MetricCosine,
		Region:    s.cfg.Region,
	}); err != nil {
		return fmt.Errorf("ensure index: %w", err)
	}
	s.record(ctx, snap, trace.StageIndexReady, nil)

	if field != "" {
		if err := s.deletePrior(ctx, index, ns, field, value); err != nil {
			return err
		}
		s.record(ctx, snap, trace.StagePriorDeleted, nil)
	}

	if err := s.store.Upsert(ctx, index, ns, vectors); err != nil {
		return fmt.Errorf("upsert: %w", err)
	}
	s.record(ctx, snap, trace.StageUpserted, nil)
	return nil
}

func (s *Service) deletePrior(ctx context.Context, index, ns, field, value string) error {
	err := s.store.DeleteByFilter(ctx, index, ns, vectorstore.Filter{field: value})
	if errors.Is(err, vectorstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete prior %s=%s: %w", field, value, err)
	}
	return nil
}

// DeleteByFile removes every vector stored for one file in the caller's namespace.
func (s *Service) DeleteByFile(ctx context.Context, req DeleteRequest) (*DeleteResult, error) {
	ctx, span := s.tracer.Start(ctx, "memory.DeleteByFile")
	defer span.End()

	userID, avatarID, err := identifiers(req.UserID, req.AvatarID)
	if err != nil {
		return nil, fail(span, err)
	}
	fileName := strings.TrimSpace(req.FileName)
	if fileName == "" {
		fileName = FileNameFromURL(req.FileURL)
	}
	field, value := fileReference(req.FilePath, fileName)
	if field == "" {
		return nil, fail(span, ErrNoFileReference)
	}

	ns := model.Namespace(userID, avatarID)
	index := s.IndexName(userID, avatarID)
	if err := s.deletePrior(ctx, index, ns, field, value); err != nil {
		return nil, fail(span, err)
	}
	s.log.Info("deleted vectors by file", "namespace", ns, "index", index, "field", field, "value", value)

	return &DeleteResult{Namespace: ns, IndexName: index, Field: field, Value: value}, nil
}

// Fetch returns stored vectors by id from the pair's index.
func (s *Service) Fetch(ctx context.Context, userID, avatarID string, ids []string) ([]model.Vector, error) {
	userID, avatarID, err := identifiers(userID, avatarID)
	if err != nil {
		return nil, err
	}
	return s.store.Fetch(ctx, s.IndexName(userID, avatarID), model.Namespace(userID, avatarID), ids)
}

func (s *Service) record(ctx context.Context, snap *trace.Snapshot, stage string, err error) {
	snap.Stage = stage
	snap.At = s.now().UTC()
	snap.Error = ""
	if err != nil {
		snap.Error = err.Error()
	}
	if rerr := s.recorder.Record(ctx, *snap); rerr != nil {
		s.log.Warn("failed to record insert trace", "stage", stage, "error", rerr)
	}
}

func fail(span oteltrace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

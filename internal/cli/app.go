package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rcliao/avatar-memory/internal/chunker"
	"github.com/rcliao/avatar-memory/internal/config"
	"github.com/rcliao/avatar-memory/internal/embedding"
	"github.com/rcliao/avatar-memory/internal/llm"
	"github.com/rcliao/avatar-memory/internal/localfs"
	"github.com/rcliao/avatar-memory/internal/logger"
	"github.com/rcliao/avatar-memory/internal/memory"
	"github.com/rcliao/avatar-memory/internal/rolling"
	"github.com/rcliao/avatar-memory/internal/trace"
	"github.com/rcliao/avatar-memory/internal/vectorstore"
)

// appOptions selects how much of the pipeline a command needs.
type appOptions struct {
	// synchronous runs compaction inline so short-lived commands finish it
	// before exiting.
	synchronous bool
}

// app holds every dependency of the memory service.
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	tok      *chunker.Tokenizer
	chunker  *chunker.Chunker
	store    vectorstore.Store
	states   rolling.StateStore
	runner   *rolling.Runner
	recorder trace.Recorder
	svc      *memory.Service
	rdb      redis.UniversalClient

	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	a.tok = chunker.NewTokenizer()
	if !a.tok.Available() {
		log.Warn("tokenizer unavailable, chunking by characters", "encoding", chunker.Encoding)
	}
	a.chunker = chunker.New(a.tok.Encoder(), chunkerDefaults(cfg))

	embedder, err := embedding.New(embedding.Config{
		Provider:   cfg.Embedding.Provider,
		Model:      cfg.Embedding.Model,
		Dimension:  cfg.Embedding.Dimension,
		APIKey:     cfg.OpenAI.APIKey,
		OllamaHost: cfg.Embedding.OllamaHost,
	})
	if err != nil {
		return nil, err
	}
	if embedder == nil && !cfg.Embedding.Fake {
		log.Warn("no embedding provider configured, inserts will use placeholder vectors")
	}

	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DialTimeout: 5 * time.Second})
		a.closers = append(a.closers, a.rdb.Close)
	}

	store, closeStore, err := openVectorStore(ctx, cfg, log)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, closeStore)
	a.store = vectorstore.WithTimeout(store, cfg.Vector.Timeout)

	states, closeStates, err := openStateStore(cfg, a.rdb)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.closers = append(a.closers, closeStates)
	a.states = states

	a.recorder, err = openRecorder(cfg.Trace.Path)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	svcCfg := memory.ConfigFrom(cfg)
	svcCfg.Dimension = embedding.ResolveDimension(embedder, svcCfg.Dimension)

	rollingEnabled := cfg.Rolling.Enabled
	if rollingEnabled && cfg.OpenAI.APIKey == "" {
		log.Warn("rolling summaries disabled: OPENAI_API_KEY is not set")
		rollingEnabled = false
	}
	var completer llm.Completer
	if rollingEnabled {
		completer = llm.NewClient(cfg.OpenAI.APIKey, cfg.Rolling.Model, "", cfg.Rolling.Timeout)
	}
	compactor := rolling.NewCompactor(log, a.states, completer, embedder, a.store, rolling.Config{
		Every:   cfg.Rolling.Every,
		Window:  cfg.Rolling.Window,
		Model:   cfg.Rolling.Model,
		Timeout: cfg.Rolling.Timeout,
		Embedding: embedding.Policy{
			Dimension: svcCfg.Dimension,
			Timeout:   svcCfg.EmbedTimeout,
			Fake:      svcCfg.FakeEmbeddings,
		},
	})
	a.runner = rolling.NewRunner(log, compactor, rolling.RunnerConfig{
		Enabled:     rollingEnabled,
		QueueSize:   cfg.Rolling.QueueSize,
		Synchronous: opts.synchronous,
	})

	a.svc = memory.New(log, a.chunker, embedder, a.store, a.runner, a.recorder, svcCfg)
	return a, nil
}

// Close drains the compaction runner and releases every client.
func (a *app) Close(ctx context.Context) {
	if a.runner != nil {
		if err := a.runner.Close(ctx); err != nil {
			a.log.Warn("rolling runner did not drain", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
	a.log.Sync()
}

func chunkerDefaults(cfg *config.Config) chunker.Options {
	return chunker.Options{
		TargetTokens:   cfg.Chunking.TargetTokens,
		OverlapTokens:  cfg.Chunking.OverlapTokens,
		MinChunkTokens: cfg.Chunking.MinChunkTokens,
		OverlapSet:     true,
	}
}

func openVectorStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (vectorstore.Store, func() error, error) {
	switch cfg.Vector.Backend {
	case "", "sqlite":
		s, err := vectorstore.NewSQLiteStore(cfg.Vector.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite vector store: %w", err)
		}
		return s, s.Close, nil
	case "pinecone":
		s, err := vectorstore.NewPineconeStore(log, vectorstore.PineconeConfig{
			APIKey:  cfg.Vector.PineconeAPIKey,
			Timeout: cfg.Vector.Timeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open pinecone vector store: %w", err)
		}
		return s, func() error { return nil }, nil
	case "pgvector":
		if cfg.Vector.PostgresURL == "" {
			return nil, nil, errors.New("DATABASE_URL is required for the pgvector backend")
		}
		s, err := vectorstore.NewPGVectorStore(ctx, cfg.Vector.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open pgvector store: %w", err)
		}
		return s, func() error { s.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown VECTOR_BACKEND %q", cfg.Vector.Backend)
	}
}

func openStateStore(cfg *config.Config, rdb redis.UniversalClient) (rolling.StateStore, func() error, error) {
	noop := func() error { return nil }
	switch cfg.State.Backend {
	case "", "file":
		fsys, err := localfs.OpenDir(cfg.State.Dir)
		if err != nil {
			return nil, nil, fmt.Errorf("open state dir: %w", err)
		}
		return rolling.NewFileStore(fsys), noop, nil
	case "sqlite":
		s, err := rolling.NewSQLiteStore(filepath.Join(cfg.State.Dir, "rolling.db"))
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite state store: %w", err)
		}
		return s, s.Close, nil
	case "redis":
		if rdb == nil {
			return nil, nil, errors.New("REDIS_ADDR is required for the redis state backend")
		}
		return rolling.NewRedisStore(rdb, cfg.Redis.StatePrefix), noop, nil
	case "memory":
		return rolling.NewMemoryStore(), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown STATE_BACKEND %q", cfg.State.Backend)
	}
}

func openRecorder(path string) (trace.Recorder, error) {
	if path == "" {
		return trace.Nop{}, nil
	}
	fsys, err := localfs.OpenDir(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("open trace dir: %w", err)
	}
	return trace.NewFileRecorder(fsys, filepath.Base(path)), nil
}

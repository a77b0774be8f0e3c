// Package rolling accumulates recent memory texts per namespace and
// periodically compacts them into a meta-summary vector.
package rolling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"sync"
	"time"

	"github.com/hack-pad/hackpadfs"
	"github.com/redis/go-redis/v9"

	"github.com/rcliao/avatar-memory/internal/model"
)

// StateStore persists one RollingState per namespace. Load returns a fresh
// empty state when none is stored. Writers are not coordinated; concurrent
// saves for the same namespace are last-write-wins.
type StateStore interface {
	Load(ctx context.Context, namespace string) (*model.RollingState, error)
	Save(ctx context.Context, namespace string, st *model.RollingState) error
}

func decodeState(b []byte) (*model.RollingState, error) {
	var st model.RollingState
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("decode rolling state: %w", err)
	}
	return &st, nil
}

// --- File ---

// FileStore keeps one JSON file per namespace.
type FileStore struct {
	fs hackpadfs.FS
}

func NewFileStore(fsys hackpadfs.FS) *FileStore {
	return &FileStore{fs: fsys}
}

func stateFileName(namespace string) string {
	return url.QueryEscape(namespace) + ".json"
}

func (s *FileStore) Load(_ context.Context, namespace string) (*model.RollingState, error) {
	b, err := hackpadfs.ReadFile(s.fs, stateFileName(namespace))
	if errors.Is(err, fs.ErrNotExist) {
		return &model.RollingState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read rolling state %s: %w", namespace, err)
	}
	return decodeState(b)
}

func (s *FileStore) Save(_ context.Context, namespace string, st *model.RollingState) error {
	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	if err := hackpadfs.WriteFullFile(s.fs, stateFileName(namespace), b, 0o644); err != nil {
		return fmt.Errorf("write rolling state %s: %w", namespace, err)
	}
	return nil
}

// --- Redis ---

// RedisStore keeps each state under "{prefix}:{namespace}".
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisStore(rdb redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "rolling"
	}
	return &RedisStore{rdb: rdb, prefix: prefix}
}

func (s *RedisStore) key(namespace string) string {
	return s.prefix + ":" + namespace
}

func (s *RedisStore) Load(ctx context.Context, namespace string) (*model.RollingState, error) {
	b, err := s.rdb.Get(ctx, s.key(namespace)).Bytes()
	if errors.Is(err, redis.Nil) {
		return &model.RollingState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", s.key(namespace), err)
	}
	return decodeState(b)
}

func (s *RedisStore) Save(ctx context.Context, namespace string, st *model.RollingState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, s.key(namespace), b, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", s.key(namespace), err)
	}
	return nil
}

// --- Memory ---

// MemoryStore is an in-process StateStore.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]model.RollingState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]model.RollingState{}}
}

func (s *MemoryStore) Load(_ context.Context, namespace string) (*model.RollingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[namespace]
	if !ok {
		return &model.RollingState{}, nil
	}
	st.RecentTexts = append([]string(nil), st.RecentTexts...)
	return &st, nil
}

func (s *MemoryStore) Save(_ context.Context, namespace string, st *model.RollingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	cp.RecentTexts = append([]string(nil), st.RecentTexts...)
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.states[namespace] = cp
	return nil
}

var (
	_ StateStore = (*FileStore)(nil)
	_ StateStore = (*RedisStore)(nil)
	_ StateStore = (*MemoryStore)(nil)
	_ StateStore = (*SQLiteStore)(nil)
)

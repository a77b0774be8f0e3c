// Package trace keeps a single-slot record of the most recent insert for
// postmortem debugging.
package trace

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/hack-pad/hackpadfs"
)

// Insert stages, in order.
const (
	StageStart         = "start"
	StageChunked       = "chunked"
	StageEmbedded      = "embedded"
	StageIndexReady    = "index_ready"
	StagePriorDeleted  = "prior_deleted"
	StageUpserted      = "upserted"
	StageFallbackIndex = "fallback_index"
	StageDone          = "done"
	StageFailed        = "failed"
)

// ErrNoTrace is returned by Last when nothing has been recorded yet.
var ErrNoTrace = errors.New("no insert trace recorded")

// Snapshot is the state of the last insert at its latest stage.
type Snapshot struct {
	Stage         string         `json:"stage"`
	Namespace     string         `json:"namespace"`
	IndexName     string         `json:"index_name,omitempty"`
	DocID         string         `json:"doc_id,omitempty"`
	Chunks        int            `json:"chunks"`
	EmbeddingPath string         `json:"embedding_path,omitempty"`
	Error         string         `json:"error,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	At            time.Time      `json:"at"`
}

// Recorder stores snapshots. Implementations overwrite the previous one.
type Recorder interface {
	Record(ctx context.Context, snap Snapshot) error
	Last(ctx context.Context) (*Snapshot, error)
}

// FileRecorder writes each snapshot as one JSON file.
type FileRecorder struct {
	fs   hackpadfs.FS
	name string
	mu   sync.Mutex
}

func NewFileRecorder(fsys hackpadfs.FS, name string) *FileRecorder {
	if name == "" {
		name = "last_insert.json"
	}
	return &FileRecorder{fs: fsys, name: name}
}

func (r *FileRecorder) Record(_ context.Context, snap Snapshot) error {
	if snap.At.IsZero() {
		snap.At = time.Now().UTC()
	}
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := hackpadfs.WriteFullFile(r.fs, r.name, b, 0o644); err != nil {
		return fmt.Errorf("write trace: %w", err)
	}
	return nil
}

func (r *FileRecorder) Last(_ context.Context) (*Snapshot, error) {
	r.mu.Lock()
	b, err := hackpadfs.ReadFile(r.fs, r.name)
	r.mu.Unlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoTrace
	}
	if err != nil {
		return nil, fmt.Errorf("read trace: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, fmt.Errorf("decode trace: %w", err)
	}
	return &snap, nil
}

// Nop discards snapshots.
type Nop struct{}

func (Nop) Record(context.Context, Snapshot) error { return nil }

func (Nop) Last(context.Context) (*Snapshot, error) { return nil, ErrNoTrace }

var (
	_ Recorder = (*FileRecorder)(nil)
	_ Recorder = Nop{}
)

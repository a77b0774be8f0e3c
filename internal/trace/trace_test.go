package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/hack-pad/hackpadfs/mem"
)

func TestFileRecorder(t *testing.T) {
	fs, err := mem.NewFS()
	if err != nil {
		t.Fatal(err)
	}
	r := NewFileRecorder(fs, "")
	ctx := context.Background()

	if _, err := r.Last(ctx); !errors.Is(err, ErrNoTrace) {
		t.Fatalf("expected ErrNoTrace, got %v", err)
	}

	if err := r.Record(ctx, Snapshot{Stage: StageChunked, Namespace: "u_a", Chunks: 3}); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := r.Record(ctx, Snapshot{Stage: StageDone, Namespace: "u_a", Chunks: 3, IndexName: "idx", EmbeddingPath: "fallback"}); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := r.Last(ctx)
	if err != nil {
		t.Fatalf("last: %v", err)
	}
	if got.Stage != StageDone || got.IndexName != "idx" || got.EmbeddingPath != "fallback" {
		t.Errorf("unexpected snapshot %+v", got)
	}
	if got.At.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	if err := r.Record(context.Background(), Snapshot{Stage: StageStart}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Last(context.Background()); !errors.Is(err, ErrNoTrace) {
		t.Errorf("expected ErrNoTrace, got %v", err)
	}
}

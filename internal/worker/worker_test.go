package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/avatar-memory/internal/logger"
	"github.com/rcliao/avatar-memory/internal/memory"
)

type fakeService struct {
	inserts []memory.InsertRequest
	deletes []memory.DeleteRequest
	err     error
	done    chan struct{}
}

func (f *fakeService) Insert(_ context.Context, req memory.InsertRequest) (*memory.InsertResult, error) {
	f.inserts = append(f.inserts, req)
	if f.done != nil {
		defer close(f.done)
	}
	if f.err != nil {
		return nil, f.err
	}
	return &memory.InsertResult{Namespace: req.UserID + "_" + req.AvatarID, Inserted: 1}, nil
}

func (f *fakeService) DeleteByFile(_ context.Context, req memory.DeleteRequest) (*memory.DeleteResult, error) {
	f.deletes = append(f.deletes, req)
	if f.err != nil {
		return nil, f.err
	}
	return &memory.DeleteResult{Namespace: req.UserID + "_" + req.AvatarID}, nil
}

func TestHandle_Insert(t *testing.T) {
	svc := &fakeService{}
	w := New(logger.Nop(), svc, nil, Config{})

	err := w.Handle(context.Background(), []byte(`{"op":"insert","user_id":"u1","avatar_id":"a1","full_text":"hi","target_tokens":300}`))
	require.NoError(t, err)
	require.Len(t, svc.inserts, 1)
	assert.Equal(t, "u1", svc.inserts[0].UserID)
	assert.Equal(t, "hi", svc.inserts[0].FullText)
	assert.Equal(t, 300, svc.inserts[0].TargetTokens)
}

func TestHandle_DeleteByFile(t *testing.T) {
	svc := &fakeService{}
	w := New(logger.Nop(), svc, nil, Config{})

	err := w.Handle(context.Background(), []byte(`{"op":"delete_by_file","user_id":"u1","avatar_id":"a1","file_path":"docs/a.md"}`))
	require.NoError(t, err)
	require.Len(t, svc.deletes, 1)
	assert.Equal(t, "docs/a.md", svc.deletes[0].FilePath)
}

func TestHandle_BadPayloads(t *testing.T) {
	w := New(logger.Nop(), &fakeService{}, nil, Config{})
	for _, raw := range []string{`not json`, `{"op":"upsert"}`, `{"op":"insert","full_text":5}`} {
		err := w.Handle(context.Background(), []byte(raw))
		assert.ErrorIs(t, err, ErrBadPayload, raw)
	}
}

func TestHandle_ClientErrorIsBadPayload(t *testing.T) {
	w := New(logger.Nop(), &fakeService{err: memory.ErrEmptyInput}, nil, Config{})
	err := w.Handle(context.Background(), []byte(`{"op":"insert","user_id":"u1","avatar_id":"a1"}`))
	assert.ErrorIs(t, err, ErrBadPayload)
	assert.ErrorIs(t, err, memory.ErrEmptyInput)
}

func TestHandle_ServiceErrorPropagates(t *testing.T) {
	storeErr := &memory.StoreWriteError{Index: "avatar-memories", Err: errors.New("down")}
	w := New(logger.Nop(), &fakeService{err: storeErr}, nil, Config{})
	err := w.Handle(context.Background(), []byte(`{"op":"insert","user_id":"u1","avatar_id":"a1","full_text":"x"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrBadPayload)
	var werr *memory.StoreWriteError
	assert.True(t, errors.As(err, &werr))
}

func TestEncodeTask(t *testing.T) {
	raw, err := encodeTask(OpDeleteByFile, memory.DeleteRequest{UserID: "u1", AvatarID: "a1", FileName: "a.pdf"})
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal(raw, &got))
	assert.Equal(t, OpDeleteByFile, got["op"])
	assert.Equal(t, "a.pdf", got["file_name"])

	_, err = encodeTask(OpInsert, "plain string")
	assert.ErrorIs(t, err, ErrBadPayload)
}

func TestRun_ConsumesQueue(t *testing.T) {
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { rdb.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	queue := "test:memory:" + t.Name()
	require.NoError(t, rdb.Del(ctx, queue).Err())

	svc := &fakeService{done: make(chan struct{})}
	w := New(logger.Nop(), svc, rdb, Config{Queue: queue, Concurrency: 1, PopTimeout: 200 * time.Millisecond})
	require.NoError(t, w.Enqueue(ctx, OpInsert, memory.InsertRequest{UserID: "u1", AvatarID: "a1", FullText: "hello"}))

	runCtx, stop := context.WithCancel(ctx)
	errc := make(chan error, 1)
	go func() { errc <- w.Run(runCtx) }()

	select {
	case <-svc.done:
	case <-ctx.Done():
		t.Fatal("task was not consumed")
	}
	stop()
	require.NoError(t, <-errc)
	require.Len(t, svc.inserts, 1)
	assert.Equal(t, "hello", svc.inserts[0].FullText)
}

// Package worker consumes memory tasks from a Redis list.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/avatar-memory/internal/logger"
	"github.com/rcliao/avatar-memory/internal/memory"
)

// Task operations.
const (
	OpInsert       = "insert"
	OpDeleteByFile = "delete_by_file"
)

const defaultPopTimeout = 5 * time.Second

// ErrBadPayload marks tasks that can never succeed and are dropped.
var ErrBadPayload = errors.New("bad task payload")

// Service is the subset of memory.Service a worker drives.
type Service interface {
	Insert(ctx context.Context, req memory.InsertRequest) (*memory.InsertResult, error)
	DeleteByFile(ctx context.Context, req memory.DeleteRequest) (*memory.DeleteResult, error)
}

type Config struct {
	Queue       string
	Concurrency int
	PopTimeout  time.Duration
}

type Worker struct {
	log *logger.Logger
	svc Service
	rdb redis.UniversalClient
	cfg Config
}

func New(log *logger.Logger, svc Service, rdb redis.UniversalClient, cfg Config) *Worker {
	if cfg.Queue == "" {
		cfg.Queue = "memory:insert"
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = defaultPopTimeout
	}
	return &Worker{log: log.With("service", "MemoryWorker"), svc: svc, rdb: rdb, cfg: cfg}
}

// Enqueue pushes a task for the consumers. payload is an InsertRequest or
// a DeleteRequest.
func (w *Worker) Enqueue(ctx context.Context, op string, payload any) error {
	raw, err := encodeTask(op, payload)
	if err != nil {
		return err
	}
	return w.rdb.LPush(ctx, w.cfg.Queue, raw).Err()
}

func encodeTask(op string, payload any) ([]byte, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return nil, fmt.Errorf("%w: payload must be an object", ErrBadPayload)
	}
	opRaw, _ := json.Marshal(op)
	fields["op"] = opRaw
	return json.Marshal(fields)
}

// Run blocks until ctx is cancelled, consuming with Concurrency goroutines.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("worker started", "queue", w.cfg.Queue, "concurrency", w.cfg.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < w.cfg.Concurrency; i++ {
		id := i
		g.Go(func() error { return w.consume(gctx, id) })
	}
	err := g.Wait()
	w.log.Info("worker stopped", "queue", w.cfg.Queue)
	return err
}

func (w *Worker) consume(ctx context.Context, id int) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		res, err := w.rdb.BRPop(ctx, w.cfg.PopTimeout, w.cfg.Queue).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.log.Warn("queue pop failed", "consumer", id, "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		// BRPOP replies with [key, value].
		if len(res) != 2 {
			continue
		}
		if err := w.Handle(ctx, []byte(res[1])); err != nil {
			if errors.Is(err, ErrBadPayload) {
				w.log.Warn("dropping bad task", "consumer", id, "error", err)
				continue
			}
			w.log.Error("task failed", "consumer", id, "error", err)
		}
	}
}

// Handle decodes and runs one task.
func (w *Worker) Handle(ctx context.Context, raw []byte) error {
	var head struct {
		Op string `json:"op"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}

	switch head.Op {
	case OpInsert:
		var req memory.InsertRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		res, err := w.svc.Insert(ctx, req)
		if err != nil {
			return taskError(head.Op, err)
		}
		w.log.Debug("insert task done", "namespace", res.Namespace, "index", res.IndexName, "inserted", res.Inserted)
		return nil
	case OpDeleteByFile:
		var req memory.DeleteRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return fmt.Errorf("%w: %v", ErrBadPayload, err)
		}
		res, err := w.svc.DeleteByFile(ctx, req)
		if err != nil {
			return taskError(head.Op, err)
		}
		w.log.Debug("delete task done", "namespace", res.Namespace, "field", res.Field, "value", res.Value)
		return nil
	default:
		return fmt.Errorf("%w: unknown op %q", ErrBadPayload, head.Op)
	}
}

// taskError classifies client errors as bad payloads.
func taskError(op string, err error) error {
	if memory.IsClientError(err) {
		return fmt.Errorf("%w: %s: %w", ErrBadPayload, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

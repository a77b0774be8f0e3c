package vectorstore

import (
	"context"
	"time"

	"github.com/rcliao/avatar-memory/internal/model"
)

// DefaultTimeout bounds a single store call.
const DefaultTimeout = 30 * time.Second

type timeoutStore struct {
	next    Store
	timeout time.Duration
}

// WithTimeout wraps s so that every call runs under its own deadline.
// EnsureIndex also gets the readiness wait on top of d.
func WithTimeout(s Store, d time.Duration) Store {
	if d <= 0 {
		d = DefaultTimeout
	}
	return &timeoutStore{next: s, timeout: d}
}

func (t *timeoutStore) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	ctx, cancel := context.WithTimeout(ctx, DefaultReadyTimeout+t.timeout)
	defer cancel()
	return t.next.EnsureIndex(ctx, spec)
}

func (t *timeoutStore) Upsert(ctx context.Context, index, namespace string, vectors []model.Vector) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Upsert(ctx, index, namespace, vectors)
}

func (t *timeoutStore) DeleteByFilter(ctx context.Context, index, namespace string, filter Filter) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.DeleteByFilter(ctx, index, namespace, filter)
}

func (t *timeoutStore) Fetch(ctx context.Context, index, namespace string, ids []string) ([]model.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.next.Fetch(ctx, index, namespace, ids)
}

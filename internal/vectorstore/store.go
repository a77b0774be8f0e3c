// Package vectorstore provides the vector storage interface and its Pinecone,
// pgvector and SQLite implementations.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rcliao/avatar-memory/internal/model"
)

// MetricCosine is the only distance metric the pipeline creates indexes with.
const MetricCosine = "cosine"

var (
	// ErrNotFound reports a missing index, namespace or table.
	ErrNotFound = errors.New("vector store: not found")
	// ErrRegionRejected reports that the provider refused the requested
	// cloud/region for a new index.
	ErrRegionRejected = errors.New("vector store: cloud/region rejected")
	// ErrIndexNotReady is returned when an index does not become ready in time.
	ErrIndexNotReady = errors.New("vector store: index not ready")
)

// Region is where a serverless index lives.
type Region struct {
	Cloud  string `json:"cloud"`
	Region string `json:"region"`
}

// DefaultRegion is used when the configured region is rejected.
var DefaultRegion = Region{Cloud: "aws", Region: "us-east-1"}

// IndexSpec describes an index to create if missing.
type IndexSpec struct {
	Name      string
	Dimension int
	Metric    string
	Region    Region
}

// Filter is an equality filter over metadata fields.
type Filter map[string]string

// Store defines the vector storage interface.
type Store interface {
	// EnsureIndex creates the index when missing and waits until it is ready.
	EnsureIndex(ctx context.Context, spec IndexSpec) error

	// Upsert writes vectors into index/namespace, replacing equal IDs.
	Upsert(ctx context.Context, index, namespace string, vectors []model.Vector) error

	// DeleteByFilter removes every vector whose metadata matches filter.
	// Returns ErrNotFound when the index or namespace does not exist.
	DeleteByFilter(ctx context.Context, index, namespace string, filter Filter) error

	// Fetch returns the stored vectors for ids; unknown ids are skipped.
	Fetch(ctx context.Context, index, namespace string, ids []string) ([]model.Vector, error)
}

var fieldPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func (f Filter) validate() error {
	if len(f) == 0 {
		return fmt.Errorf("empty filter")
	}
	for k := range f {
		if !fieldPattern.MatchString(k) {
			return fmt.Errorf("invalid filter field %q", k)
		}
	}
	return nil
}

func (s IndexSpec) withDefaults() IndexSpec {
	if s.Metric == "" {
		s.Metric = MetricCosine
	}
	if s.Region.Cloud == "" || s.Region.Region == "" {
		s.Region = DefaultRegion
	}
	return s
}

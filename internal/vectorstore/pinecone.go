package vectorstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rcliao/avatar-memory/internal/logger"
	"github.com/rcliao/avatar-memory/internal/model"
)

const (
	DefaultReadyTimeout  = 60 * time.Second
	DefaultReadyInterval = 2 * time.Second

	// pineconeBatchSize is the documented per-request upsert limit.
	pineconeBatchSize = 100
)

// PineconeConfig configures PineconeStore.
type PineconeConfig struct {
	APIKey     string
	APIVersion string
	BaseURL    string
	Timeout    time.Duration

	ReadyTimeout  time.Duration
	ReadyInterval time.Duration
}

// PineconeStore talks to the Pinecone control and data plane REST APIs.
type PineconeStore struct {
	log  *logger.Logger
	cfg  PineconeConfig
	http *http.Client

	mu    sync.RWMutex
	hosts map[string]string
}

func NewPineconeStore(log *logger.Logger, cfg PineconeConfig) (*PineconeStore, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing Pinecone API key")
	}
	if strings.TrimSpace(cfg.APIVersion) == "" {
		cfg.APIVersion = "2025-10"
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		cfg.BaseURL = "https://api.pinecone.io"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	if cfg.ReadyInterval <= 0 {
		cfg.ReadyInterval = DefaultReadyInterval
	}
	return &PineconeStore{
		log:   log.With("service", "PineconeStore"),
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		hosts: map[string]string{},
	}, nil
}

// -------------------- Control plane --------------------

type indexDescription struct {
	Name      string `json:"name"`
	Host      string `json:"host"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Status    struct {
		Ready bool   `json:"ready"`
		State string `json:"state"`
	} `json:"status"`
}

type createIndexRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension"`
	Metric    string `json:"metric"`
	Spec      struct {
		Serverless Region `json:"serverless"`
	} `json:"spec"`
}

func (s *PineconeStore) EnsureIndex(ctx context.Context, spec IndexSpec) error {
	spec = spec.withDefaults()

	desc, err := s.describeIndex(ctx, spec.Name)
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		err = s.createIndex(ctx, spec)
		if errors.Is(err, ErrRegionRejected) && spec.Region != DefaultRegion {
			s.log.Warn("index region rejected, retrying with default region",
				"index", spec.Name,
				"cloud", spec.Region.Cloud,
				"region", spec.Region.Region,
			)
			spec.Region = DefaultRegion
			err = s.createIndex(ctx, spec)
		}
		if err != nil {
			return err
		}
		s.log.Info("created index", "index", spec.Name, "dimension", spec.Dimension, "region", spec.Region.Region)
	default:
		return err
	}

	if desc != nil && desc.Status.Ready {
		s.rememberHost(spec.Name, desc.Host)
		return nil
	}
	return s.waitReady(ctx, spec.Name)
}

func (s *PineconeStore) waitReady(ctx context.Context, name string) error {
	deadline := time.Now().Add(s.cfg.ReadyTimeout)
	for {
		desc, err := s.describeIndex(ctx, name)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if err == nil && desc.Status.Ready {
			s.rememberHost(name, desc.Host)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s after %s", ErrIndexNotReady, name, s.cfg.ReadyTimeout)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.ReadyInterval):
		}
	}
}

func (s *PineconeStore) describeIndex(ctx context.Context, name string) (*indexDescription, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("index name required")
	}
	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/indexes/" + url.PathEscape(name)
	out, err := doJSON[indexDescription](s, ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("describe index %s: %w", name, err)
	}
	return out, nil
}

func (s *PineconeStore) createIndex(ctx context.Context, spec IndexSpec) error {
	req := createIndexRequest{Name: spec.Name, Dimension: spec.Dimension, Metric: spec.Metric}
	req.Spec.Serverless = spec.Region

	u := strings.TrimRight(s.cfg.BaseURL, "/") + "/indexes"
	_, err := doJSON[indexDescription](s, ctx, http.MethodPost, u, req)

	var he *httpError
	if errors.As(err, &he) {
		switch {
		case he.Status == http.StatusConflict:
			return nil
		case he.Status == http.StatusBadRequest || he.Status == http.StatusUnprocessableEntity:
			return fmt.Errorf("create index %s: %w: %s", spec.Name, ErrRegionRejected, he.Body)
		}
	}
	if err != nil {
		return fmt.Errorf("create index %s: %w", spec.Name, err)
	}
	return nil
}

func (s *PineconeStore) rememberHost(name, host string) {
	s.mu.Lock()
	s.hosts[name] = host
	s.mu.Unlock()
}

func (s *PineconeStore) host(ctx context.Context, name string) (string, error) {
	s.mu.RLock()
	h, ok := s.hosts[name]
	s.mu.RUnlock()
	if ok && h != "" {
		return h, nil
	}
	desc, err := s.describeIndex(ctx, name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(desc.Host) == "" {
		return "", fmt.Errorf("describe index %s returned empty host", name)
	}
	s.rememberHost(name, desc.Host)
	return desc.Host, nil
}

// -------------------- Data plane --------------------

type upsertRequest struct {
	Vectors   []model.Vector `json:"vectors"`
	Namespace string         `json:"namespace,omitempty"`
}

type upsertResponse struct {
	UpsertedCount int64 `json:"upsertedCount"`
}

type deleteRequest struct {
	Filter    map[string]any `json:"filter"`
	Namespace string         `json:"namespace,omitempty"`
}

type fetchResponse struct {
	Vectors map[string]model.Vector `json:"vectors"`
}

func (s *PineconeStore) Upsert(ctx context.Context, index, namespace string, vectors []model.Vector) error {
	if len(vectors) == 0 {
		return nil
	}
	host, err := s.host(ctx, index)
	if err != nil {
		return err
	}
	u := dataURL(host, "/vectors/upsert")
	for start := 0; start < len(vectors); start += pineconeBatchSize {
		end := min(start+pineconeBatchSize, len(vectors))
		if _, err := doJSON[upsertResponse](s, ctx, http.MethodPost, u, upsertRequest{
			Vectors:   vectors[start:end],
			Namespace: namespace,
		}); err != nil {
			return fmt.Errorf("upsert %s/%s: %w", index, namespace, err)
		}
	}
	return nil
}

func (s *PineconeStore) DeleteByFilter(ctx context.Context, index, namespace string, filter Filter) error {
	if err := filter.validate(); err != nil {
		return err
	}
	host, err := s.host(ctx, index)
	if err != nil {
		return err
	}
	f := make(map[string]any, len(filter))
	for k, v := range filter {
		f[k] = map[string]any{"$eq": v}
	}
	if _, err := doJSON[map[string]any](s, ctx, http.MethodPost, dataURL(host, "/vectors/delete"), deleteRequest{
		Filter:    f,
		Namespace: namespace,
	}); err != nil {
		return fmt.Errorf("delete %s/%s: %w", index, namespace, err)
	}
	return nil
}

func (s *PineconeStore) Fetch(ctx context.Context, index, namespace string, ids []string) ([]model.Vector, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	host, err := s.host(ctx, index)
	if err != nil {
		return nil, err
	}
	q := url.Values{}
	for _, id := range ids {
		q.Add("ids", id)
	}
	if namespace != "" {
		q.Set("namespace", namespace)
	}
	out, err := doJSON[fetchResponse](s, ctx, http.MethodGet, dataURL(host, "/vectors/fetch")+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch %s/%s: %w", index, namespace, err)
	}
	vectors := make([]model.Vector, 0, len(out.Vectors))
	for _, id := range ids {
		if v, ok := out.Vectors[id]; ok {
			if v.ID == "" {
				v.ID = id
			}
			vectors = append(vectors, v)
		}
	}
	return vectors, nil
}

// -------------------- helpers --------------------

type httpError struct {
	Status int
	Body   string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("pinecone http %d: %s", e.Status, e.Body)
}

func (e *httpError) Unwrap() error {
	if e.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return nil
}

func doJSON[T any](s *PineconeStore, ctx context.Context, method, u string, body any) (*T, error) {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u, &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Api-Key", s.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Pinecone-Api-Version", s.cfg.APIVersion)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpError{Status: resp.StatusCode, Body: string(raw)}
	}

	var out T
	if len(bytes.TrimSpace(raw)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("pinecone decode error: %w; raw=%s", err, string(raw))
	}
	return &out, nil
}

// dataURL accepts hosts with or without a scheme.
func dataURL(host, path string) string {
	host = strings.TrimRight(strings.TrimSpace(host), "/")
	if !strings.Contains(host, "://") {
		host = "https://" + host
	}
	return host + path
}

var _ Store = (*PineconeStore)(nil)

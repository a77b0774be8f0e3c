// Package model defines the core memory data types.
package model

import (
	"strings"
	"time"
)

// Metadata keys written on every memory vector.
const (
	MetaUserID     = "user_id"
	MetaAvatarID   = "avatar_id"
	MetaChunkIndex = "chunk_index"
	MetaDocID      = "doc_id"
	MetaCreatedAt  = "created_at"
	MetaSource     = "source"
	MetaFileURL    = "file_url"
	MetaFilePath   = "file_path"
	MetaFileName   = "file_name"
	MetaText       = "text"
	MetaType       = "type"
	MetaSummarySeq = "summary_seq"
	MetaWindowSize = "window_size"
)

// TypeMetaSummary tags synthetic vectors produced by rolling summaries.
const TypeMetaSummary = "meta_summary"

// DefaultSource is used when an insert does not name its source.
const DefaultSource = "text"

// Chunk is one segment of input text. Index is 0-based and contiguous.
type Chunk struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Vector is the unit persisted to a vector store.
type Vector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// RollingState accumulates recent texts for one namespace.
type RollingState struct {
	RecentTexts []string  `json:"recent_texts"`
	SummarySeq  int       `json:"summary_seq"`
	UpdatedAt   time.Time `json:"updated_at,omitempty"`
}

// Namespace returns the partition key for a user/avatar pair.
func Namespace(userID, avatarID string) string {
	return userID + "_" + avatarID
}

// MetadataBuilder assembles vector metadata, dropping empty optional values.
type MetadataBuilder map[string]any

// Set stores v under key. Empty strings and nil are skipped.
func (b MetadataBuilder) Set(key string, v any) MetadataBuilder {
	switch t := v.(type) {
	case nil:
		return b
	case string:
		if strings.TrimSpace(t) == "" {
			return b
		}
	}
	b[key] = v
	return b
}

// Map returns a copy safe to hand to a store.
func (b MetadataBuilder) Map() map[string]any {
	out := make(map[string]any, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

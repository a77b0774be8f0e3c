// Package chunker splits text into overlapping token windows for embedding.
package chunker

import (
	"strings"

	"github.com/rcliao/avatar-memory/internal/model"
)

const (
	DefaultTargetTokens  = 900
	DefaultOverlapTokens = 100

	// MinChunkPercent derives the minimum chunk size from the target when no
	// minimum is configured.
	MinChunkPercent = 70

	// MinCharWindow is the smallest character window in character mode.
	MinCharWindow = 2000
)

// Options configures one chunking call. Zero fields fall back to the
// chunker's defaults. A negative OverlapTokens disables overlap.
type Options struct {
	TargetTokens   int
	OverlapTokens  int
	MinChunkTokens int

	// OverlapSet marks OverlapTokens as explicit, so zero disables overlap.
	OverlapSet bool
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		TargetTokens:  DefaultTargetTokens,
		OverlapTokens: DefaultOverlapTokens,
	}
}

// Chunker produces chunk sequences. With a nil Encoder it works on runes.
type Chunker struct {
	enc      Encoder
	defaults Options
}

// New returns a chunker. enc may be nil.
func New(enc Encoder, defaults Options) *Chunker {
	if defaults.TargetTokens <= 0 {
		defaults.TargetTokens = DefaultTargetTokens
	}
	if defaults.OverlapTokens == 0 && !defaults.OverlapSet {
		defaults.OverlapTokens = DefaultOverlapTokens
	}
	return &Chunker{enc: enc, defaults: defaults}
}

// TokenMode reports whether exact token windows are used.
func (c *Chunker) TokenMode() bool {
	return c.enc != nil
}

// Resolve fills zero fields of opts from the chunker defaults and computes
// the effective minimum.
func (c *Chunker) Resolve(opts Options) Options {
	if opts.TargetTokens <= 0 {
		opts.TargetTokens = c.defaults.TargetTokens
	}
	if opts.OverlapTokens == 0 && !opts.OverlapSet {
		opts.OverlapTokens = c.defaults.OverlapTokens
	}
	if opts.OverlapTokens < 0 {
		opts.OverlapTokens = 0
	}
	if opts.MinChunkTokens <= 0 {
		opts.MinChunkTokens = c.defaults.MinChunkTokens
	}
	if opts.MinChunkTokens <= 0 {
		opts.MinChunkTokens = opts.TargetTokens * MinChunkPercent / 100
	}
	return opts
}

// Chunk splits text into windows, then merges an undersized tail backward
// until the last chunk meets the minimum. Whitespace-only input yields nil.
func (c *Chunker) Chunk(text string, opts Options) []model.Chunk {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	opts = c.Resolve(opts)

	var pieces []string
	if c.enc != nil {
		pieces = c.tokenWindows(text, opts)
	}
	count := c.Count
	// An encoder that yields nothing is treated like no encoder at all.
	if len(pieces) == 0 {
		pieces = charWindows(text, opts)
		count = ApproxTokens
	}

	pieces = mergeTail(pieces, opts.MinChunkTokens, count)

	chunks := make([]model.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = model.Chunk{Index: i, Text: p}
	}
	return chunks
}

// Count returns the size of text in the chunker's unit.
func (c *Chunker) Count(text string) (n int) {
	if c.enc == nil {
		return ApproxTokens(text)
	}
	defer func() {
		if recover() != nil {
			n = ApproxTokens(text)
		}
	}()
	return c.enc.Count(text)
}

func (c *Chunker) tokenWindows(text string, opts Options) (out []string) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()

	tokens := c.enc.Encode(text)
	total := len(tokens)
	if total == 0 {
		return nil
	}
	stride := max(1, opts.TargetTokens-opts.OverlapTokens)
	for start := 0; start < total; start += stride {
		end := min(total, start+opts.TargetTokens)
		if piece := strings.TrimSpace(c.enc.Decode(tokens[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end >= total {
			break
		}
	}
	return out
}

func charWindows(text string, opts Options) []string {
	runes := []rune(text)
	total := len(runes)

	window := max(opts.TargetTokens*CharsPerToken, MinCharWindow)
	overlap := min(opts.OverlapTokens*CharsPerToken, total, window-1)
	stride := max(1, window-overlap)

	var out []string
	for start := 0; start < total; start += stride {
		end := min(total, start+window)
		if piece := strings.TrimSpace(string(runes[start:end])); piece != "" {
			out = append(out, piece)
		}
		if end >= total {
			break
		}
	}
	return out
}

// mergeTail folds the last piece into its predecessor while count reports it
// below minTokens. A single piece is always kept.
func mergeTail(pieces []string, minTokens int, count func(string) int) []string {
	for len(pieces) >= 2 {
		last := pieces[len(pieces)-1]
		if count(last) >= minTokens {
			break
		}
		prev := pieces[len(pieces)-2]
		pieces[len(pieces)-2] = strings.TrimSpace(prev + "\n\n" + last)
		pieces = pieces[:len(pieces)-1]
	}
	return pieces
}

package chunker

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// Encoding is the tiktoken encoding used process-wide.
const Encoding = "cl100k_base"

// CharsPerToken is the approximation used when no tokenizer is loaded.
const CharsPerToken = 4

// Encoder converts between text and token ids.
type Encoder interface {
	Encode(text string) []int
	Decode(tokens []int) string
	Count(text string) int
}

// Tokenizer wraps tiktoken. A Tokenizer whose encoding failed to load is
// still usable; every count degrades to ApproxTokens.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer loads the cl100k_base encoding. Loading can fail when the BPE
// ranks cannot be fetched; check Available to tell.
func NewTokenizer() *Tokenizer {
	enc, err := tiktoken.GetEncoding(Encoding)
	if err != nil {
		return &Tokenizer{}
	}
	return &Tokenizer{enc: enc}
}

// Available reports whether exact token counts are in effect.
func (t *Tokenizer) Available() bool {
	return t != nil && t.enc != nil
}

// Encoder returns t as an Encoder, or nil when no encoding is loaded so the
// chunker switches to character windows.
func (t *Tokenizer) Encoder() Encoder {
	if !t.Available() {
		return nil
	}
	return t
}

func (t *Tokenizer) Encode(text string) []int {
	if !t.Available() {
		return nil
	}
	return t.enc.Encode(text, nil, nil)
}

func (t *Tokenizer) Decode(tokens []int) string {
	if !t.Available() {
		return ""
	}
	return t.enc.Decode(tokens)
}

// Count returns the exact token count, or the approximation.
func (t *Tokenizer) Count(text string) int {
	if !t.Available() {
		return ApproxTokens(text)
	}
	return len(t.enc.Encode(text, nil, nil))
}

// ApproxTokens is max(1, runes/4).
func ApproxTokens(text string) int {
	n := utf8.RuneCountInString(text) / CharsPerToken
	if n < 1 {
		return 1
	}
	return n
}

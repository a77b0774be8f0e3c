package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/avatar-memory/internal/chunker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "chunk [text]",
		Short: "Show how text would be chunked",
		Long:  "Dry-run chunking with the configured tokenizer. Nothing is embedded or stored.",
		Run:   runChunk,
	}

	cmd.Flags().Int("target-tokens", 0, "Target chunk size in tokens")
	cmd.Flags().Int("overlap", 0, "Chunk overlap in tokens")
	cmd.Flags().Int("min-chunk-tokens", 0, "Minimum chunk size in tokens")
	cmd.Flags().Bool("counts-only", false, "Omit chunk text")

	RootCmd.AddCommand(cmd)
}

type chunkReport struct {
	TokenMode      bool         `json:"token_mode"`
	TargetTokens   int          `json:"target_tokens"`
	OverlapTokens  int          `json:"overlap_tokens"`
	MinChunkTokens int          `json:"min_chunk_tokens"`
	Chunks         []chunkEntry `json:"chunks"`
}

type chunkEntry struct {
	Index  int    `json:"index"`
	Tokens int    `json:"tokens"`
	Runes  int    `json:"runes"`
	Text   string `json:"text,omitempty"`
}

func runChunk(cmd *cobra.Command, args []string) {
	target, _ := cmd.Flags().GetInt("target-tokens")
	overlap, _ := cmd.Flags().GetInt("overlap")
	minTokens, _ := cmd.Flags().GetInt("min-chunk-tokens")
	countsOnly, _ := cmd.Flags().GetBool("counts-only")

	content, err := readContent(args, cmd.InOrStdin())
	if err != nil {
		exitErr("read stdin", err)
	}
	if strings.TrimSpace(content) == "" {
		exitErr("chunk", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	cfg := mustConfig()
	tok := chunker.NewTokenizer()
	c := chunker.New(tok.Encoder(), chunkerDefaults(cfg))
	printJSON(cmd, buildChunkReport(c, content, chunker.Options{
		TargetTokens:   target,
		OverlapTokens:  overlap,
		MinChunkTokens: minTokens,
		OverlapSet:     cmd.Flags().Changed("overlap"),
	}, countsOnly))
}

func buildChunkReport(c *chunker.Chunker, text string, opts chunker.Options, countsOnly bool) chunkReport {
	resolved := c.Resolve(opts)
	report := chunkReport{
		TokenMode:      c.TokenMode(),
		TargetTokens:   resolved.TargetTokens,
		OverlapTokens:  resolved.OverlapTokens,
		MinChunkTokens: resolved.MinChunkTokens,
		Chunks:         []chunkEntry{},
	}
	for _, ch := range c.Chunk(text, opts) {
		e := chunkEntry{
			Index:  ch.Index,
			Tokens: c.Count(ch.Text),
			Runes:  len([]rune(ch.Text)),
		}
		if !countsOnly {
			e.Text = ch.Text
		}
		report.Chunks = append(report.Chunks, e)
	}
	return report
}

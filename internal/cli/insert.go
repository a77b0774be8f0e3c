package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/avatar-memory/internal/memory"
	"github.com/rcliao/avatar-memory/internal/worker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "insert [text]",
		Short: "Store a memory",
		Long:  "Chunk, embed and store a memory. Text can be a positional arg or piped via stdin.",
		Run:   runInsert,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.Flags().StringP("avatar", "a", "", "Avatar id (required)")
	cmd.Flags().String("source", "", "Source label (default: text)")
	cmd.Flags().String("file-url", "", "Originating file URL")
	cmd.Flags().String("file-name", "", "Originating file name")
	cmd.Flags().String("file-path", "", "Originating file path")
	cmd.Flags().Int("target-tokens", 0, "Target chunk size in tokens")
	cmd.Flags().Int("overlap", 0, "Chunk overlap in tokens")
	cmd.Flags().Int("min-chunk-tokens", 0, "Minimum chunk size in tokens")
	cmd.Flags().Bool("enqueue", false, "Push to the Redis queue instead of inserting inline")

	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("avatar")

	RootCmd.AddCommand(cmd)
}

func runInsert(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	avatar, _ := cmd.Flags().GetString("avatar")
	source, _ := cmd.Flags().GetString("source")
	fileURL, _ := cmd.Flags().GetString("file-url")
	fileName, _ := cmd.Flags().GetString("file-name")
	filePath, _ := cmd.Flags().GetString("file-path")
	target, _ := cmd.Flags().GetInt("target-tokens")
	overlap, _ := cmd.Flags().GetInt("overlap")
	minTokens, _ := cmd.Flags().GetInt("min-chunk-tokens")
	enqueue, _ := cmd.Flags().GetBool("enqueue")

	content, err := readContent(args, cmd.InOrStdin())
	if err != nil {
		exitErr("read stdin", err)
	}
	if strings.TrimSpace(content) == "" {
		exitErr("insert", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	req := memory.InsertRequest{
		UserID:         user,
		AvatarID:       avatar,
		FullText:       content,
		Source:         source,
		FileURL:        fileURL,
		FileName:       fileName,
		FilePath:       filePath,
		TargetTokens:   target,
		MinChunkTokens: minTokens,
	}
	if cmd.Flags().Changed("overlap") {
		req.Overlap = &overlap
	}

	a, err := newApp(cmd.Context(), mustConfig(), appOptions{synchronous: true})
	if err != nil {
		exitErr("init", err)
	}
	defer closeApp(a)

	if enqueue {
		enqueueTask(cmd, a, worker.OpInsert, req)
		return
	}

	res, err := a.svc.Insert(cmd.Context(), req)
	if err != nil {
		closeApp(a)
		exitErr("insert", err)
	}
	printJSON(cmd, res)
}

func enqueueTask(cmd *cobra.Command, a *app, op string, payload any) {
	if a.rdb == nil {
		closeApp(a)
		exitErr("enqueue", fmt.Errorf("REDIS_ADDR is required"))
	}
	if err := newQueue(a).Enqueue(cmd.Context(), op, payload); err != nil {
		closeApp(a)
		exitErr("enqueue", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"queued":%q,"queue":%q}`+"\n", op, a.cfg.Redis.InsertQueue)
}

// closeApp drains compaction before the process exits.
func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a.Close(ctx)
}

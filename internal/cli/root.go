// Package cli implements the avatar-memory CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/avatar-memory/internal/config"
	"github.com/rcliao/avatar-memory/internal/vectorstore"
)

var (
	envFile string
	dbPath  string
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "avatar-memory",
	Short: "Token-aware memory ingestion for avatars",
	Long:  "Chunks, embeds and stores avatar memories in a vector index, with rolling summaries per user/avatar pair.",
}

func init() {
	RootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "Optional .env file to load")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "SQLite vector database path (default: $VECTOR_DB or ~/.avatar-memory/vectors.db)")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Vector.SQLitePath = dbPath
	}
	return cfg, nil
}

func mustConfig() *config.Config {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

// openSQLite opens the local vector database for inspection commands.
func openSQLite() (*vectorstore.SQLiteStore, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return vectorstore.NewSQLiteStore(cfg.Vector.SQLitePath)
}

// readContent joins positional args, or reads piped stdin when there are none.
func readContent(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if f, ok := stdin.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
			return "", nil
		}
	}
	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func printJSON(cmd *cobra.Command, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Fprintln(cmd.OutOrStdout(), string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rcliao/avatar-memory/internal/vectorstore"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import vectors from JSON",
		Long:  "Import vectors from stdin into the configured VECTOR_BACKEND. Expects the format produced by export.",
		Run:   runImport,
	}

	RootCmd.AddCommand(cmd)
}

func runImport(cmd *cobra.Command, args []string) {
	data, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		exitErr("read stdin", err)
	}

	var records []vectorstore.Record
	if err := json.Unmarshal(data, &records); err != nil {
		exitErr("parse json", err)
	}

	cfg := mustConfig()
	a, err := newApp(cmd.Context(), cfg, appOptions{synchronous: true})
	if err != nil {
		exitErr("init", err)
	}
	defer closeApp(a)

	region := vectorstore.Region{Cloud: cfg.Vector.PineconeCloud, Region: cfg.Vector.PineconeRegion}
	imported, err := vectorstore.Import(cmd.Context(), a.store, records, region)
	if err != nil {
		closeApp(a)
		exitErr("import", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"imported":%d}`+"\n", imported)
}

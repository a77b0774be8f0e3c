package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/avatar-memory/internal/vectorstore"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List vectors in the local SQLite store",
		Run:   runList,
	}

	cmd.Flags().StringP("index", "i", "", "Filter by index")
	cmd.Flags().StringP("ns", "n", "", "Filter by namespace")
	cmd.Flags().IntP("limit", "l", 20, "Max results")
	cmd.Flags().Bool("ids-only", false, "Only output index/namespace/id triples")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	index, _ := cmd.Flags().GetString("index")
	ns, _ := cmd.Flags().GetString("ns")
	limit, _ := cmd.Flags().GetInt("limit")
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	s, err := openSQLite()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := s.List(cmd.Context(), vectorstore.ListParams{
		Index:     index,
		Namespace: ns,
		Limit:     limit,
	})
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, r := range records {
			fmt.Fprintf(cmd.OutOrStdout(), "%s/%s/%s\n", r.Index, r.Namespace, r.Vector.ID)
		}
		return
	}

	// Embedding values are noise in a listing.
	for i := range records {
		records[i].Vector.Values = nil
	}
	printJSON(cmd, records)
}

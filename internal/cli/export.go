package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export vectors from the local SQLite store as JSON",
		Long:  "Export vectors as a JSON array. Filter by index with -i and namespace with -n.",
		Run:   runExport,
	}

	cmd.Flags().StringP("index", "i", "", "Filter by index")
	cmd.Flags().StringP("ns", "n", "", "Filter by namespace")

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	index, _ := cmd.Flags().GetString("index")
	ns, _ := cmd.Flags().GetString("ns")

	s, err := openSQLite()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	records, err := s.ExportAll(cmd.Context(), index, ns)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(cmd, records)
}

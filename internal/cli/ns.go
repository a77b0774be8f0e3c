package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	nsCmd := &cobra.Command{
		Use:   "ns",
		Short: "Namespace inspection",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all namespaces in the local SQLite store",
		Run:   runNSList,
	}

	nsCmd.AddCommand(listCmd)
	RootCmd.AddCommand(nsCmd)
}

func runNSList(cmd *cobra.Command, args []string) {
	s, err := openSQLite()
	if err != nil {
		exitErr("open store", err)
	}
	defer s.Close()

	rows, err := s.Namespaces(cmd.Context())
	if err != nil {
		exitErr("list namespaces", err)
	}
	printJSON(cmd, rows)
}

package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the last insert trace",
		Run:   runTrace,
	}

	RootCmd.AddCommand(cmd)
}

func runTrace(cmd *cobra.Command, args []string) {
	cfg := mustConfig()
	rec, err := openRecorder(cfg.Trace.Path)
	if err != nil {
		exitErr("open trace", err)
	}
	snap, err := rec.Last(cmd.Context())
	if err != nil {
		exitErr("trace", err)
	}
	printJSON(cmd, snap)
}

package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id...]",
		Short: "Fetch stored vectors by id",
		Args:  cobra.MinimumNArgs(1),
		Run:   runGet,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.Flags().StringP("avatar", "a", "", "Avatar id (required)")
	cmd.Flags().Bool("values", false, "Include embedding values")

	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("avatar")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	avatar, _ := cmd.Flags().GetString("avatar")
	values, _ := cmd.Flags().GetBool("values")

	a, err := newApp(cmd.Context(), mustConfig(), appOptions{synchronous: true})
	if err != nil {
		exitErr("init", err)
	}
	defer closeApp(a)

	vectors, err := a.svc.Fetch(cmd.Context(), user, avatar, args)
	if err != nil {
		closeApp(a)
		exitErr("get", err)
	}
	if !values {
		for i := range vectors {
			vectors[i].Values = nil
		}
	}
	printJSON(cmd, vectors)
}

package cli

import (
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/rcliao/avatar-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Show the rolling-summary state of a user/avatar pair",
		Run:   runState,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.Flags().StringP("avatar", "a", "", "Avatar id (required)")

	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("avatar")

	RootCmd.AddCommand(cmd)
}

func runState(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	avatar, _ := cmd.Flags().GetString("avatar")

	cfg := mustConfig()
	var rdb redis.UniversalClient
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer client.Close()
		rdb = client
	}
	states, closeStates, err := openStateStore(cfg, rdb)
	if err != nil {
		exitErr("open state store", err)
	}
	defer closeStates()

	ns := model.Namespace(user, avatar)
	st, err := states.Load(cmd.Context(), ns)
	if err != nil {
		exitErr("state", err)
	}
	printJSON(cmd, struct {
		Namespace string `json:"namespace"`
		*model.RollingState
	}{ns, st})
}

package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/avatar-memory/internal/memory"
	"github.com/rcliao/avatar-memory/internal/worker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "rm",
		Short: "Delete every chunk stored for a file",
		Long:  "Delete vectors by file reference. file-path wins over file-name, which wins over the name derived from file-url.",
		Run:   runRm,
	}

	cmd.Flags().StringP("user", "u", "", "User id (required)")
	cmd.Flags().StringP("avatar", "a", "", "Avatar id (required)")
	cmd.Flags().String("file-url", "", "File URL")
	cmd.Flags().String("file-name", "", "File name")
	cmd.Flags().String("file-path", "", "File path")
	cmd.Flags().Bool("enqueue", false, "Push to the Redis queue instead of deleting inline")

	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("avatar")

	RootCmd.AddCommand(cmd)
}

func runRm(cmd *cobra.Command, args []string) {
	user, _ := cmd.Flags().GetString("user")
	avatar, _ := cmd.Flags().GetString("avatar")
	fileURL, _ := cmd.Flags().GetString("file-url")
	fileName, _ := cmd.Flags().GetString("file-name")
	filePath, _ := cmd.Flags().GetString("file-path")
	enqueue, _ := cmd.Flags().GetBool("enqueue")

	req := memory.DeleteRequest{
		UserID:   user,
		AvatarID: avatar,
		FileURL:  fileURL,
		FileName: fileName,
		FilePath: filePath,
	}

	a, err := newApp(cmd.Context(), mustConfig(), appOptions{synchronous: true})
	if err != nil {
		exitErr("init", err)
	}
	defer closeApp(a)

	if enqueue {
		enqueueTask(cmd, a, worker.OpDeleteByFile, req)
		return
	}

	res, err := a.svc.DeleteByFile(cmd.Context(), req)
	if err != nil {
		closeApp(a)
		exitErr("rm", err)
	}
	printJSON(cmd, struct {
		OK bool `json:"ok"`
		*memory.DeleteResult
	}{true, res})
}

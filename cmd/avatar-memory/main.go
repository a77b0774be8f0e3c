package main

import (
	"os"

	"github.com/rcliao/avatar-memory/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

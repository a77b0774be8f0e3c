package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rcliao/avatar-memory/internal/observability"
	"github.com/rcliao/avatar-memory/internal/worker"
)

func init() {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume insert and delete tasks from the Redis queue",
		Run:   runWorker,
	}

	cmd.Flags().IntP("concurrency", "c", 0, "Concurrent consumers (default: $WORKER_CONCURRENCY)")

	RootCmd.AddCommand(cmd)
}

func runWorker(cmd *cobra.Command, args []string) {
	cfg := mustConfig()
	if c, _ := cmd.Flags().GetInt("concurrency"); c > 0 {
		cfg.Worker.Concurrency = c
	}
	if cfg.Redis.Addr == "" {
		exitErr("worker", errors.New("REDIS_ADDR is required"))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		exitErr("init", err)
	}
	shutdownOTel := observability.InitOTel(ctx, a.log, observability.OtelConfig{
		ServiceName: "avatar-memory-worker",
		Stdout:      cfg.Telemetry.Stdout,
	})

	w := newQueue(a)
	err = w.Run(ctx)

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Close(sctx)
	_ = shutdownOTel(sctx)
	if err != nil {
		exitErr("worker", err)
	}
}

func newQueue(a *app) *worker.Worker {
	return worker.New(a.log, a.svc, a.rdb, worker.Config{
		Queue:       a.cfg.Redis.InsertQueue,
		Concurrency: a.cfg.Worker.Concurrency,
	})
}

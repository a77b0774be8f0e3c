package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rcliao/avatar-memory/internal/httpapi"
	"github.com/rcliao/avatar-memory/internal/observability"
)

const shutdownTimeout = 15 * time.Second

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (default: $HTTP_ADDR or :8080)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := mustConfig()
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.HTTP.Addr = addr
	}
	if cfg.Log.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		exitErr("init", err)
	}
	shutdownOTel := observability.InitOTel(ctx, a.log, observability.OtelConfig{
		ServiceName: "avatar-memory",
		Stdout:      cfg.Telemetry.Stdout,
	})

	router := httpapi.NewRouter(httpapi.RouterConfig{
		Log:           a.log,
		CORSOrigins:   cfg.HTTP.CORSOrigins,
		MemoryHandler: httpapi.NewMemoryHandler(a.svc, a.states, a.recorder),
	})
	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.log.Info("http server listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.log.Info("shutting down http server")
		return srv.Shutdown(sctx)
	})
	err = g.Wait()

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Close(sctx)
	if serr := shutdownOTel(sctx); serr != nil {
		a.log.Warn("otel shutdown failed", "error", serr)
	}
	if err != nil {
		exitErr("serve", err)
	}
}

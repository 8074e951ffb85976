package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"galleryfetch/internal/api"
	"galleryfetch/internal/task"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 10 * time.Second
)

func newServeCmd(a *app) *cobra.Command {
	var (
		port    int
		noStart bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, web UI and download workers",
		RunE: func(*cobra.Command, []string) error {
			if port > 0 {
				a.cfg.Port = port
			}
			return a.serve(!noStart)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&noStart, "no-start", false, "do not start the scheduler until asked through the API")
	return cmd
}

func (a *app) serve(start bool) error {
	taskManager, registry, err := a.buildManager()
	if err != nil {
		return err
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	taskManager.SetBaseContext(baseCtx)
	if start {
		taskManager.Start()
	}

	router := setupRouter()
	apiHandler := api.NewAPI(taskManager, registry)
	apiHandler.RegisterRoutes(router)
	apiHandler.RegisterUIRoutes(router)

	srv := newHTTPServer(a.cfg.Port, router, readHeaderTimeout)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server failed")
		}
	}()
	log.Info().Str("addr", srv.Addr).Int("workers", a.cfg.MaxConcurrentDownloads).Msg("server started")

	waitForShutdownSignal()

	gracefulShutdown(srv, baseCancel, taskManager, shutdownTimeout)
	return nil
}

func setupRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(api.ZerologLogger())
	return r
}

func newHTTPServer(port int, handler http.Handler, readHeaderTimeout time.Duration) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
	}
}

func waitForShutdownSignal() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal received")
}

// gracefulShutdown stops accepting requests, then parks running tasks as
// paused and waits for the workers to let go of them.
func gracefulShutdown(srv *http.Server, cancelBase context.CancelFunc, tm *task.Manager, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown warning")
	}

	tm.Stop()
	cancelBase()
	done := tm.WaitAll(ctx)
	if !done {
		log.Warn().Msg("background workers did not finish before timeout")
	}
	log.Info().Msg("server exited cleanly")
}

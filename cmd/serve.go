package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/fetchgate/internal/app"
	"github.com/JakeFAU/fetchgate/internal/config"
)

const shutdownTimeout = 10 * time.Second

// newApp is the application factory. It's a variable so tests can inject
// fakes for the messenger and the media engine.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server and the download workers",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	rt, err := resolveRuntime(cmd.Context())
	if err != nil {
		return err
	}
	logger := rt.logger

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, rt.cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer a.Close()

	if err := registerWebhook(ctx, a, rt.cfg); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", rt.cfg.Server.Port),
		Handler:           a.Server().Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("dispatcher started", zap.Int("workers", rt.cfg.Worker.Concurrency))
		a.Dispatcher().Run(gctx)
		return nil
	})
	g.Go(func() error {
		logger.Info("http server started", zap.Int("port", rt.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown initiated")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", zap.Error(err))
		}
		return nil
	})

	err = g.Wait()
	a.Drain(context.WithoutCancel(ctx))
	logger.Info("shutdown complete")
	return err
}

// registerWebhook points the bot at this deployment when a public URL is configured.
func registerWebhook(ctx context.Context, a *app.App, cfg config.Config) error {
	if cfg.Telegram.WebhookURL == "" || a.Telegram() == nil {
		return nil
	}
	url := strings.TrimRight(cfg.Telegram.WebhookURL, "/") + "/telegram/" + cfg.WebhookSecret()
	if err := a.Telegram().SetWebhook(ctx, url); err != nil {
		return fmt.Errorf("register webhook: %w", err)
	}
	a.Logger().Info("webhook registered")
	return nil
}

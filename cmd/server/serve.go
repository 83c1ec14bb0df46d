package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rongwang/sot-gold-tracker/internal/api"
	"github.com/rongwang/sot-gold-tracker/internal/bot"
	"github.com/rongwang/sot-gold-tracker/internal/service"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run migrations, then serve the read API and the Telegram bot",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, db, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := migrate(ctx, db, logger); err != nil {
		return err
	}

	svc := service.NewPostgresService(db, cfg.Access, logger)
	if err := svc.Init(ctx); err != nil {
		return err
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.NewHandler(svc, logger), []byte(cfg.Auth.JWTSecret))
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	if cfg.Bot.TelegramToken != "" {
		botAPI, err := tgbotapi.NewBotAPI(cfg.Bot.TelegramToken)
		if err != nil {
			stop()
			_ = server.Close()
			wg.Wait()
			return fmt.Errorf("failed to connect to Telegram: %w", err)
		}
		logger.Info("Authorized on Telegram", "account", botAPI.Self.UserName)

		dispatcher := bot.NewDispatcher(svc, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			bot.RunTelegram(ctx, botAPI, dispatcher, logger)
		}()
	} else {
		logger.Warn("TELEGRAM_BOT_TOKEN not set, chat commands disabled")
	}

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", "error", err)
	}
	wg.Wait()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

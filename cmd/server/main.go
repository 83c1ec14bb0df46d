package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rongwang/sot-gold-tracker/internal/config"
	"github.com/rongwang/sot-gold-tracker/internal/database"
	"github.com/rongwang/sot-gold-tracker/internal/migrations"
	"github.com/rongwang/sot-gold-tracker/internal/service"
	"github.com/rongwang/sot-gold-tracker/internal/utils"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "sot-gold-tracker",
	Short: "Gold and session tracker for a Sea of Thieves community",
	Long: `Tracks each member's gold over time, play sessions with cash-ins,
and crews that play together. Commands arrive over Telegram; a read-only
HTTP API exposes the same data.

Configuration comes from environment variables (DB_HOST, DB_NAME,
TELEGRAM_BOT_TOKEN, ...) and optionally a config file.`,
	SilenceUsage: true,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runMigrate,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database connectivity and schema version",
	RunE:  runStatus,
}

var tokenDuration time.Duration

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Issue a bearer token for the read API",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (yaml, json, toml or env)")
	tokenCmd.Flags().DurationVar(&tokenDuration, "expires", service.DefaultTokenDuration, "token lifetime")

	rootCmd.AddCommand(serveCmd, migrateCmd, statusCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the configuration and opens the database
func setup(ctx context.Context) (*config.Config, *database.Manager, *utils.Logger, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, nil, nil, err
	}
	logger := utils.NewLogger(cfg.Log.Level, cfg.Log.Format)

	db := database.New(cfg.Database, logger)
	if err := db.Init(ctx); err != nil {
		return nil, nil, nil, err
	}
	return cfg, db, logger, nil
}

func migrate(ctx context.Context, db *database.Manager, logger *utils.Logger) (migrations.Report, error) {
	runner, err := migrations.NewRunner(db, logger, migrations.All(logger))
	if err != nil {
		return migrations.Report{}, err
	}
	return runner.Run(ctx)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, db, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	report, err := migrate(ctx, db, logger)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Applied: %v\nSkipped: %v\n", report.Applied, report.Skipped)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	_, db, logger, err := setup(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := migrations.NewRunner(db, logger, migrations.All(logger))
	if err != nil {
		return err
	}
	applied, err := runner.Applied(ctx)
	if err != nil {
		return err
	}

	health := db.HealthCheck(ctx)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Database: %s (%dms)\n", health.Status, health.ResponseTimeMS)
	if health.Error != "" {
		fmt.Fprintf(out, "Error: %s\n", health.Error)
	}
	if len(applied) == 0 {
		fmt.Fprintln(out, "Schema version: none")
		return nil
	}
	fmt.Fprintf(out, "Schema version: %s\n", applied[len(applied)-1].Version)
	for _, v := range applied {
		desc := ""
		if v.Description != nil {
			desc = *v.Description
		}
		fmt.Fprintf(out, "  %s  %s  %s\n", v.Version, v.AppliedAt.Format("2006-01-02 15:04"), desc)
	}
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return err
	}
	token, err := service.GenerateToken([]byte(cfg.Auth.JWTSecret), args[0], tokenDuration)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"evcs/internal"
	"evcs/internal/config"
	"evcs/server"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "evcs",
	Short: "Central system for OCPP 1.6 charge points",
	Long: `evcs accepts websocket sessions of OCPP 1.6 charge points, bills
charging sessions against prepaid balances and exposes an operator API
for remote start and stop.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the central system",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configPath, "config", "c", "config.yml", "path to the configuration file")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	conf, err := config.GetConfig(configPath)
	if err != nil {
		return err
	}

	zapLogger, err := internal.NewZapLogger(conf.LogLevel, conf.IsDebug)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	location, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		location = time.UTC
	}
	logger := internal.NewLogger(zapLogger, location)
	logger.SetDebugMode(conf.IsDebug)
	defer logger.Close()

	centralSystem, err := server.NewCentralSystem(conf, logger)
	if err != nil {
		return fmt.Errorf("central system initialization failed: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return centralSystem.Start(ctx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

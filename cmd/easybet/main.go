// Command easybet runs the EasyBet ledger service. It loads configuration,
// validates it, sets up signal handling, and starts the application in the
// configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/easybet/internal/app"
	"github.com/alanyoungcy/easybet/internal/config"
	"github.com/alanyoungcy/easybet/internal/crypto"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to configuration file")
	mode := flag.String("mode", "", "override the configured mode (server, local, migrate)")
	genKey := flag.String("gen-key", "", "write a new encrypted admin key to this path and exit (password from "+config.EnvPrefix+"ADMIN_KEY_PASSWORD)")
	flag.Parse()

	if *genKey != "" {
		if err := generateKey(*genKey, os.Getenv(config.EnvPrefix+"ADMIN_KEY_PASSWORD")); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Mode = *mode
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("easybet starting",
		slog.String("mode", cfg.Mode),
		slog.String("config", *configPath),
	)
	logger.Debug("effective configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err = application.Run(ctx)
	stop()
	application.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error", slog.String("error", err.Error()))
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("easybet stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// generateKey creates a fresh secp256k1 key and stores it encrypted at path.
func generateKey(path, password string) error {
	if password == "" {
		return errors.New("gen-key: " + config.EnvPrefix + "ADMIN_KEY_PASSWORD must be set")
	}
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("gen-key: %w", err)
	}
	data, err := crypto.EncryptKey(key, password)
	if err != nil {
		return fmt.Errorf("gen-key: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("gen-key: %w", err)
	}
	fmt.Printf("admin address: %s\nkey file: %s\n", crypto.NewSigner(key).Address().Hex(), path)
	return nil
}

// gptchat - A conversational chat server backed by the OpenAI API.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jeranaias/gptchat/internal/auth"
	"github.com/jeranaias/gptchat/internal/chat"
	"github.com/jeranaias/gptchat/internal/config"
	"github.com/jeranaias/gptchat/internal/openai"
	"github.com/jeranaias/gptchat/internal/server"
	"github.com/jeranaias/gptchat/internal/storage"
	"github.com/jeranaias/gptchat/internal/tokenizer"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	var (
		configPath  = flag.String("config", "gptchat.toml", "path to the TOML configuration file")
		showVersion = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("gptchat %s (%s, built %s)\n", Version, GitCommit, BuildDate)
		return
	}

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromPath(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := buildLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	log.Info("starting gptchat",
		zap.String("version", Version),
		zap.String("config", configPath),
		zap.String("default_model", cfg.DefaultModel))

	store, err := storage.Open(cfg.Database.Path, log)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer store.Close()

	ctx := context.Background()

	// With auth off there is no login surface; every visitor is the
	// anonymous user and the credentials file is ignored.
	var credSource server.CredentialSource
	if cfg.Auth.Enabled {
		// Credentials are required at startup. A malformed file is fatal
		// here; later reloads fall back to the previous good copy.
		creds, err := auth.LoadCredentials(cfg.Auth.CredentialsPath)
		if err != nil {
			return fmt.Errorf("load credentials: %w", err)
		}
		if err := creds.Bootstrap(ctx, store, cfg.Auth.DefaultCredit, log); err != nil {
			return fmt.Errorf("bootstrap users: %w", err)
		}

		credSource = server.StaticCredentials{Creds: creds}
		if cfg.Auth.WatchCredentials {
			watcher, err := auth.NewWatcher(cfg.Auth.CredentialsPath, creds, store, cfg.Auth.DefaultCredit, log)
			if err != nil {
				return fmt.Errorf("watch credentials: %w", err)
			}
			defer watcher.Close()
			if err := watcher.Watch(); err != nil {
				return fmt.Errorf("watch credentials: %w", err)
			}
			credSource = watcher
		}
	} else {
		log.Info("authentication disabled, serving anonymous user")
		if err := auth.BootstrapAnonymous(ctx, store, cfg.Auth.DefaultCredit, log); err != nil {
			return fmt.Errorf("bootstrap anonymous user: %w", err)
		}
	}

	client := openai.NewClient(cfg.OpenAI.APIKey, log).
		WithBaseURL(cfg.OpenAI.BaseURL).
		WithTimeout(cfg.OpenAI.Timeout()).
		WithMaxRetries(cfg.OpenAI.MaxRetries)
	if !client.IsConfigured() {
		log.Warn("no OpenAI API key configured, chat requests will fail",
			zap.String("hint", "set OPENAI_API_KEY or openai.api_key in the config"))
	}

	mgr := chat.NewManager(store, client, tokenizer.NewEstimator(), cfg.PricingTable(), chat.Options{
		DefaultModel: cfg.DefaultModel,
		SystemMsg:    cfg.Chat.SystemMsg,
		HistoryLimit: cfg.Chat.HistoryLimit,
	}, log)

	sessions := auth.NewSessionManager(cfg.Auth.SessionTTL())
	srv := server.NewServer(cfg.Server, mgr, credSource, sessions, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case sig := <-stop:
		log.Info("shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("stopped")
	return nil
}

// buildLogger constructs the process logger from the log config. The
// config is validated before this runs, so unknown values fall back to
// info/json rather than erroring twice.
func buildLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(cfg.Level); err != nil {
		level = zapcore.InfoLevel
	}

	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

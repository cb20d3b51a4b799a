package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/charchat/internal/api"
	"github.com/rickgao/charchat/internal/archive"
	"github.com/rickgao/charchat/internal/chat"
	"github.com/rickgao/charchat/internal/config"
	"github.com/rickgao/charchat/internal/conversation"
	"github.com/rickgao/charchat/internal/metrics"
	"github.com/rickgao/charchat/internal/model"
	"github.com/rickgao/charchat/internal/session"
	"github.com/rickgao/charchat/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/chatctl.local.yaml", "path to config file")
	characterID := flag.String("character", "", "character external ID")
	message := flag.String("message", "", "message to send (omit to only print history)")
	stay := flag.Bool("stay", false, "keep the session open after sending until interrupted")
	flag.Parse()

	// Load configuration before logging so the level applies
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	level, _ := config.ParseLevel(cfg.Log.Level)

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	logger.Info("starting chatctl",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	if *characterID == "" {
		logger.Error("missing -character")
		os.Exit(2)
	}

	token, err := cfg.Auth.ResolveToken()
	if err != nil {
		logger.Error("failed to resolve token", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, token, *characterID, *message, *stay, logger); err != nil {
		logger.Error("chatctl failed", "error", err)
		os.Exit(1)
	}

	logger.Info("chatctl stopped")
}

func run(ctx context.Context, cfg *config.Config, token, characterID, message string, stay bool, logger *slog.Logger) error {
	m := metrics.New()

	// Metrics server
	if cfg.Metrics.Enabled {
		server := metrics.NewServer(m, cfg.Metrics.Port, cfg.Metrics.Path, logger)
		if err := server.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			server.Shutdown(shutdownCtx)
		}()
		defer server.SetHealthy(false)
		server.SetHealthy(true)
	}

	// Optional transcript archive
	var recorder chat.Recorder
	if cfg.Archive.Enabled {
		db := cfg.Archive.Database
		logger.Info("connecting to archive database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		pool, err := archive.Connect(ctx, db)
		if err != nil {
			return fmt.Errorf("connect archive: %w", err)
		}
		defer pool.Close()

		if err := archive.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		writer := archive.NewTurnWriter(archive.WriterConfig{
			BatchSize:     cfg.Archive.BatchSize,
			FlushInterval: cfg.Archive.FlushInterval,
			BufferSize:    cfg.Archive.BufferSize,
		}, pool, m, logger)
		if err := writer.Start(ctx); err != nil {
			return fmt.Errorf("start archive writer: %w", err)
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer shutdownCancel()
			writer.Stop(shutdownCtx)
		}()
		recorder = writer
	}

	// Create API client
	apiClient := api.NewClient(
		api.Endpoints{Web: cfg.API.WebURL, Plus: cfg.API.PlusURL, Neo: cfg.API.NeoURL},
		api.WithLogger(logger),
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, time.Second),
		api.WithUserAgent(version.UserAgent()),
	)

	sess := session.New(session.ConfigFrom(cfg.Connections), apiClient,
		session.WithLogger(logger),
		session.WithMetrics(m),
		session.WithCorrelatorMetrics(m),
		session.WithRecorder(recorder),
		session.WithResurrectHook(func(res conversation.Result, err error) {
			if res.Total > 0 {
				logger.Info("conversations refreshed", "total", res.Total, "failed", res.Failed)
			}
		}),
	)
	defer sess.Close()

	if err := sess.Authenticate(ctx, token); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	logger.Info("authenticated", "username", sess.Profile().Username)

	character, err := sess.FetchCharacter(ctx, characterID)
	if err != nil {
		return err
	}

	conv, err := sess.FetchLatestDMConversationWith(ctx, characterID)
	if err != nil {
		return err
	}
	logger.Info("conversation opened",
		"character", character.Name,
		"chat_id", conv.ChatID(),
		"messages", len(conv.Messages()),
	)

	if message == "" {
		for _, turn := range conv.Messages() {
			printTurn(turn)
		}
	} else {
		reply, err := conv.SendMessage(ctx, message, streamPrinter())
		if err != nil {
			return err
		}
		fmt.Printf("\r%s: %s\n", reply.Author.Name, reply.Content())
	}

	if stay {
		logger.Info("session open, waiting for interrupt", "state", sess.State())
		<-ctx.Done()
	}
	return nil
}

// streamPrinter rewrites the current line as a reply is generated.
func streamPrinter() func(model.Turn) {
	return func(turn model.Turn) {
		if turn.Author.IsHuman {
			return
		}
		fmt.Printf("\r%s: %s", turn.Author.Name, turn.Content())
	}
}

func printTurn(turn model.Turn) {
	fmt.Printf("%s: %s\n", turn.Author.Name, turn.Content())
}

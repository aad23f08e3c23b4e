package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/ragchat/internal/api"
	"github.com/kalambet/ragchat/internal/config"
	"github.com/kalambet/ragchat/internal/embedding"
	"github.com/kalambet/ragchat/internal/ingest"
	"github.com/kalambet/ragchat/internal/relay"
	"github.com/kalambet/ragchat/internal/retrieval"
	"github.com/kalambet/ragchat/internal/secrets"
	"github.com/kalambet/ragchat/internal/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the ragchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ragchat server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "ragchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	box, err := secrets.New(cfg.Auth.EncryptionSecret)
	if err != nil {
		return fmt.Errorf("initializing secrets: %w", err)
	}

	embedder := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.APIKey)
	ingestSvc := ingest.NewService(store, embedder)
	retriever := retrieval.NewRetriever(embedder, store)

	handler := api.NewHandler(api.Deps{
		Store:     store,
		Ingest:    ingestSvc,
		Retriever: retriever,
		Secrets:   box,
		Upstream: func(apiKey string) api.ChatUpstream {
			return relay.NewClientWithBaseURL(apiKey, cfg.Relay.BaseURL)
		},
		Token: cfg.Auth.Token,
	})

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP stdio transport exposes the knowledge bases to a local agent when
	// an operator identity is configured.
	if cfg.Auth.MCPUserID != "" {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:    store,
			Ingest:   ingestSvc,
			Embedder: embedder,
			UserID:   cfg.Auth.MCPUserID,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)", "user", cfg.Auth.MCPUserID)
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragchat listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Relay base URL", "%s", cfg.Relay.BaseURL)
	printStatus("Embedding URL", "%s", cfg.Embedding.URL)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

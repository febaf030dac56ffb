package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/memorium/internal/api"
	"github.com/kalambet/memorium/internal/blob"
	"github.com/kalambet/memorium/internal/config"
	"github.com/kalambet/memorium/internal/generate"
	"github.com/kalambet/memorium/internal/meta"
	"github.com/kalambet/memorium/internal/recall"
	"github.com/kalambet/memorium/internal/records"
	"github.com/kalambet/memorium/internal/store"
	"github.com/kalambet/memorium/internal/vault"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the memorium server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running memorium server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show memorium system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "memorium.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "memorium version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	apiToken, err := config.LoadOrCreateToken(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Refuse to start a second instance on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("memorium is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("memorium is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Open storage.
	blobs := blob.NewStore(cfg.Storage.DataDir)
	defer func() {
		if err := blobs.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing blob store: %v\n", err)
		}
	}()
	kv := meta.NewKV(cfg.Storage.DataDir)
	defer func() {
		if err := kv.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing meta store: %v\n", err)
		}
	}()

	recs := records.New(kv, vault.New(kv))
	st := store.New(blobs, recs, logger)
	defer st.Close()

	// An unencrypted document loads immediately; an encrypted one waits
	// for an unlock through the API.
	if err := st.Load(""); err != nil {
		if errors.Is(err, records.ErrPasswordRequired) {
			slog.Info("stored data is encrypted; unlock via the security unlock command")
		} else {
			return fmt.Errorf("loading records: %w", err)
		}
	}

	recallMgr := recall.NewManager(kv)
	generator := generate.NewOllama(cfg.Ollama.BaseURL, cfg.Ollama.Model)
	if generator.Available(ctx) {
		slog.Info("generation engine ready", "model", cfg.Ollama.Model)
	} else {
		slog.Warn("generation engine unavailable; generate requests will fail", "base_url", cfg.Ollama.BaseURL, "model", cfg.Ollama.Model)
	}

	deps := api.Deps{
		Store:     st,
		Records:   recs,
		Blobs:     blobs,
		Meta:      kv,
		Recall:    recallMgr,
		Generator: generator,
		Token:     apiToken,
		Logger:    logger,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// MCP server over stdio next to the HTTP API.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Store: st, Recall: recallMgr})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "memorium listening on %s\n", addr)
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

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("memorium is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop memorium (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to memorium (PID %d)", pid)
	return nil
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
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version")
	if err != nil {
		printStatus("Ollama", "not running")
	} else {
		ollamaResp.Body.Close()
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
	}
	printStatus("Model", "%s", cfg.Ollama.Model)

	if running {
		if c, err := newAPIClient(); err == nil {
			if statusResp, err := c.get(context.Background(), "/status"); err == nil {
				var status struct {
					Palaces     int `json:"palaces"`
					Images      int `json:"images"`
					Annotations int `json:"annotations"`
					Storage     struct {
						MetaBytesUsed int64 `json:"metaBytesUsed"`
						BlobCount     int64 `json:"blobCount"`
						BlobBytes     int64 `json:"blobBytes"`
					} `json:"storage"`
					Security struct {
						Enabled   bool `json:"enabled"`
						Encrypted bool `json:"encrypted"`
					} `json:"security"`
				}
				if decodeJSON(statusResp, &status) == nil {
					printStatus("Palaces", "%d (%d images, %d annotations)", status.Palaces, status.Images, status.Annotations)
					printStatus("Storage", "%d blobs, %s", status.Storage.BlobCount, formatBytes(status.Storage.BlobBytes+status.Storage.MetaBytesUsed))
					if status.Security.Enabled {
						printStatus("Encryption", "enabled")
					} else {
						printStatus("Encryption", "disabled")
					}
				}
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

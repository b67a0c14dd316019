package main

import (
	"context"
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

	"github.com/spf13/cobra"

	"github.com/veristep/viva/internal/api"
	"github.com/veristep/viva/internal/config"
	"github.com/veristep/viva/internal/ingest"
	"github.com/veristep/viva/internal/interview"
	"github.com/veristep/viva/internal/retrieval"
	"github.com/veristep/viva/internal/session"
	"github.com/veristep/viva/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the viva daemon (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running viva daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show viva daemon status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "viva.pid")
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
	fmt.Fprintf(os.Stderr, "viva version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	// Check if a daemon is already running before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://%s:%d/health", cfg.Server.Bind, cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("viva is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("viva is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

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

	search := retrieval.New(
		cfg.Retrieval.BaseURL,
		cfg.Retrieval.APIKey,
		time.Duration(cfg.Retrieval.TimeoutSeconds)*time.Second,
	)
	registry := session.NewRegistry()

	handler := api.NewAppHandler(api.AppDeps{
		Store:    store,
		Registry: registry,
		Search:   search,
		Token:    cfg.Auth.Token,
		Defaults: interview.Defaults{
			DurationMinutes: cfg.Interview.DefaultDurationMinutes,
			GlobalPartition: cfg.Retrieval.GlobalPartition,
		},
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Bind, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// Start the document upload worker.
	worker := ingest.NewWorker(store, search, 500*time.Millisecond)
	go worker.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "viva listening on %s\n", addr)
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
		printError("viva is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop viva (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to viva (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://%s:%d", cfg.Server.Bind, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else if resp.StatusCode == 200 {
		printStatus("Server", "running on port %d", cfg.Server.Port)
		var health struct {
			Sessions int `json:"sessions"`
		}
		if decodeErr := decodeJSON(resp, &health); decodeErr == nil {
			printStatus("Live sessions", "%d", health.Sessions)
		}
	} else {
		resp.Body.Close()
		printStatus("Server", "error (HTTP %d)", resp.StatusCode)
	}

	printStatus("Retrieval", "%s", cfg.Retrieval.BaseURL)
	printStatus("Global partition", "%s", cfg.Retrieval.GlobalPartition)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

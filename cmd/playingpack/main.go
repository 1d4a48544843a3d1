// Package main is the CLI entry point for playingpack — an
// OpenAI-compatible HTTP reverse proxy for debugging and deterministic
// testing of LLM-driven agents.
//
// playingpack sits between an agent and its LLM provider. Every chat
// completion request is given a content-addressed fingerprint, checked
// against a local cache, and optionally suspended for operator review
// before and after the response is acquired — from the cache, the real
// upstream, or an operator-authored mock — so a session can be replayed
// byte-for-byte on a later run.
//
// Architecture overview:
//
//	Agent --> playingpack proxy (:8787) --> LLM Provider (OpenAI-compatible)
//	              |                            |
//	              +-- fingerprint request -------+
//	              |-- point 1: cache / llm / mock
//	              |-- acquire full response (buffered)
//	              |-- point 2: return / modify
//	              +-- emit to caller, cache the result
//
// CLI commands (cobra):
//
//	playingpack start [-d]  - Start the proxy (foreground or daemon)
//	playingpack stop        - Stop the proxy
//	playingpack status      - Show proxy health
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/playingpack/playingpack/internal/broker"
	"github.com/playingpack/playingpack/internal/cachestore"
	"github.com/playingpack/playingpack/internal/decisionapi"
	"github.com/playingpack/playingpack/internal/hub"
	"github.com/playingpack/playingpack/internal/lifecycle"
	"github.com/playingpack/playingpack/internal/settings"
)

// Build-time variables injected via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123 -X main.buildDate=2026-02-10"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// defaultConfigDir returns the path to ~/.playingpack/ where all runtime
// state lives: settings.yaml, the cache/ directory, and playingpack.pid.
func defaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".playingpack"
	}
	return filepath.Join(home, ".playingpack")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configDir is the global flag for the playingpack config/state directory.
var configDir string

var rootCmd = &cobra.Command{
	Use:   "playingpack",
	Short: "playingpack — debugging proxy for OpenAI-compatible chat completions",
	Long: `playingpack is a transparent HTTP proxy that sits between an agent and
its LLM provider. It fingerprints and caches every request, and can
suspend in-flight requests for operator review before the response is
acquired and again before it's returned, so agent behavior can be
replayed deterministically.

Run 'playingpack start' to start the proxy.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configDir,
		"config-dir",
		defaultConfigDir(),
		"Path to playingpack config and state directory",
	)

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
}

// ============================================================================
// playingpack start
// ============================================================================

var daemonMode bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the playingpack proxy",
	Long: `Start the playingpack proxy. The proxy intercepts chat completion
calls, fingerprints and caches them, and serves the notification hub
and decision API for operator tooling.

By default runs in the foreground. Use -d for daemon/background mode.

The proxy binds to the address configured in ~/.playingpack/settings.yaml
(default: 127.0.0.1:8787):
  - Proxy:        http://127.0.0.1:8787/v1/chat/completions
  - Notification: ws://127.0.0.1:8787/ws
  - Decision API: http://127.0.0.1:8787/api/...`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStart(cmd, args)
	},
}

func init() {
	startCmd.Flags().BoolVarP(&daemonMode, "daemon", "d", false, "Run proxy in daemon/background mode")
}

// runStart initializes every subsystem and starts the HTTP server:
//
//  1. Handle daemon mode (re-exec as background process if -d)
//  2. Load settings from ~/.playingpack/settings.yaml
//  3. Initialize the session broker (starts its reaper)
//  4. Initialize the cache store + its SQLite index
//  5. Wire the lifecycle engine with a tuned upstream HTTP transport
//  6. Mount the notification hub and decision API on the same port
//  7. Write the PID file, start the settings watcher
//  8. Listen until SIGINT/SIGTERM or HTTP /shutdown
func runStart(cmd *cobra.Command, args []string) error {
	if daemonMode && os.Getenv("PLAYINGPACK_DAEMONIZED") != "1" {
		return spawnDaemon()
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", configDir, err)
	}

	settingsPath := filepath.Join(configDir, settings.WatchFile)
	loaded, err := settings.Load(settingsPath)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if _, statErr := os.Stat(settingsPath); os.IsNotExist(statErr) {
		if writeErr := settings.WriteDefault(settingsPath); writeErr != nil {
			fmt.Fprintf(os.Stderr, "[playingpack] Warning: failed to write default settings: %v\n", writeErr)
		}
	}
	store := settings.NewStore(loaded)
	fmt.Printf("[playingpack] Loaded settings (cache=%s, intervene=%v, upstream=%s)\n",
		loaded.Cache.Mode, loaded.Intervene, loaded.Upstream)

	sessionBroker := broker.New()
	defer sessionBroker.Close()

	cacheDir := loaded.Cache.Dir
	if !filepath.IsAbs(cacheDir) {
		cacheDir = filepath.Join(configDir, cacheDir)
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory %s: %w", cacheDir, err)
	}
	cache := cachestore.New(cacheDir)

	index, err := cachestore.OpenIndex(cacheDir)
	if err != nil {
		return fmt.Errorf("failed to open cache index: %w", err)
	}
	defer index.Close()

	// The upstream HTTP client is tuned for low-latency LLM proxying:
	// connection pooling since we talk to very few upstreams, HTTP/2 for
	// multiplexing, compression disabled so the SSE parser sees raw
	// bytes, and no client timeout since streaming completions can run
	// for minutes.
	upstreamTransport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     120 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableCompression:  true,
		ForceAttemptHTTP2:   true,
	}
	upstreamClient := &http.Client{Transport: upstreamTransport}

	engine := lifecycle.NewEngine(store, sessionBroker, cache, index, upstreamClient)
	notificationHub := hub.New(sessionBroker)
	decisions := decisionapi.New(sessionBroker, store, index)

	mux := http.NewServeMux()
	mux.Handle("/", engine.Router())
	mux.Handle("/ws", notificationHub.Handler())
	mux.Handle("/api/", decisions.Handler())

	shutdownCh := make(chan struct{}, 1)
	mux.HandleFunc("/shutdown", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		if !isLoopback(r.RemoteAddr) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"shutting_down"}`)
		select {
		case shutdownCh <- struct{}{}:
		default:
		}
	})

	snap := store.Snapshot()
	addr := fmt.Sprintf("%s:%d", snap.Server.Host, snap.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	pidFile := filepath.Join(configDir, "playingpack.pid")
	if err := writePIDFile(pidFile); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}
	defer removePIDFile(pidFile)

	watcher, err := settings.NewWatcher(configDir, settingsPath, store)
	if err != nil {
		return fmt.Errorf("failed to start settings watcher: %w", err)
	}
	defer watcher.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("[playingpack] Proxy listening on http://%s\n", addr)
		fmt.Printf("[playingpack] Notification hub at ws://%s/ws\n", addr)
		if !daemonMode {
			fmt.Println("[playingpack] Press Ctrl+C to stop")
		}
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		fmt.Println("\n[playingpack] Shutting down (signal received)...")
	case <-shutdownCh:
		fmt.Println("[playingpack] Shutting down (stop command received)...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		fmt.Fprintf(os.Stderr, "[playingpack] Shutdown error: %v\n", shutdownErr)
	}

	fmt.Println("[playingpack] Stopped")
	return nil
}

// spawnDaemon re-executes the playingpack binary as a detached
// background process. The parent prints the child PID and exits.
func spawnDaemon() error {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to find executable path: %w", err)
	}

	logPath := filepath.Join(configDir, "playingpack.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", logPath, err)
	}

	daemonArgs := []string{"start"}
	if configDir != defaultConfigDir() {
		daemonArgs = append(daemonArgs, "--config-dir", configDir)
	}

	child := exec.Command(exePath, daemonArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.Env = append(os.Environ(), "PLAYINGPACK_DAEMONIZED=1")

	if err := child.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("[playingpack] Proxy started in background (PID %d)\n", child.Process.Pid)
	fmt.Printf("[playingpack] Log file: %s\n", logPath)
	fmt.Println("[playingpack] Use 'playingpack stop' to stop the proxy")

	if err := child.Process.Release(); err != nil {
		fmt.Fprintf(os.Stderr, "[playingpack] Warning: failed to release child process: %v\n", err)
	}

	logFile.Close()
	return nil
}

func writePIDFile(path string) error {
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func removePIDFile(path string) {
	os.Remove(path)
}

// isLoopback reports whether remoteAddr ("ip:port") is a loopback
// address. Used to restrict the /shutdown endpoint to local-only access.
func isLoopback(remoteAddr string) bool {
	host := remoteAddr
	if idx := strings.LastIndex(remoteAddr, ":"); idx != -1 {
		host = remoteAddr[:idx]
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	return host == "127.0.0.1" || host == "::1" || strings.HasPrefix(host, "127.")
}

// ============================================================================
// playingpack stop
// ============================================================================

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running playingpack proxy",
	Long: `Stop a running playingpack proxy. Tries HTTP shutdown first
(cross-platform), then falls back to PID file + SIGTERM on Unix.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStop(cmd, args)
	},
}

func runStop(cmd *cobra.Command, args []string) error {
	addr := resolveAddr()
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(fmt.Sprintf("http://%s/shutdown", addr), "application/json", nil)
	if err == nil {
		resp.Body.Close()
		fmt.Println("[playingpack] Stop signal sent via HTTP")
		return nil
	}

	pidFile := filepath.Join(configDir, "playingpack.pid")
	data, readErr := os.ReadFile(pidFile)
	if readErr != nil {
		return fmt.Errorf("proxy not reachable and no PID file found: %w", err)
	}
	pid, parseErr := strconv.Atoi(strings.TrimSpace(string(data)))
	if parseErr != nil {
		return fmt.Errorf("invalid PID file %s: %w", pidFile, parseErr)
	}
	proc, findErr := os.FindProcess(pid)
	if findErr != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, findErr)
	}
	if sigErr := proc.Signal(syscall.SIGTERM); sigErr != nil {
		return fmt.Errorf("failed to signal process %d: %w", pid, sigErr)
	}
	fmt.Printf("[playingpack] Sent SIGTERM to PID %d\n", pid)
	return nil
}

// ============================================================================
// playingpack status
// ============================================================================

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the playingpack proxy is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := resolveAddr()
		client := &http.Client{Timeout: 3 * time.Second}
		resp, err := client.Get(fmt.Sprintf("http://%s/health", addr))
		if err != nil {
			fmt.Println("[playingpack] Not running")
			return nil
		}
		defer resp.Body.Close()
		fmt.Printf("[playingpack] Running at http://%s (status %d)\n", addr, resp.StatusCode)
		return nil
	},
}

// resolveAddr loads settings.yaml (without failing if it's absent) just
// to find the bind address the proxy is listening on.
func resolveAddr() string {
	settingsPath := filepath.Join(configDir, settings.WatchFile)
	loaded, err := settings.Load(settingsPath)
	if err != nil {
		return "127.0.0.1:8787"
	}
	return fmt.Sprintf("%s:%d", loaded.Server.Host, loaded.Server.Port)
}

// ABOUTME: Entry point for the agentgate authorization server
// ABOUTME: Gates agent registration and write actions behind proof of work

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/ddudl/agentgate/internal/admin"
	"github.com/ddudl/agentgate/internal/api"
	"github.com/ddudl/agentgate/internal/config"
	"github.com/ddudl/agentgate/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                            _              _
   __ _  __ _  ___ _ __ | |_ __ _  __ _| |_ ___
  / _' |/ _' |/ _ \ '_ \| __/ _' |/ _' | __/ _ \
 | (_| | (_| |  __/ | | | || (_| | (_| | ||  __/
  \__,_|\__, |\___|_| |_|\__\__, |\__,_|\__\___|
        |___/               |___/
`

// getConfigPath returns the path to the config file.
// Priority: AGENTGATE_CONFIG env var > XDG_CONFIG_HOME/agentgate/config.yaml > ~/.config/agentgate/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("AGENTGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "agentgate", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: agentgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                       Start the authorization server")
		fmt.Println("  init                        Write a starter config file")
		fmt.Println("  bootstrap --subject EMAIL   Mint an admin JWT")
		fmt.Println("  health                      Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("PoW:      register=%d action=%d\n", cfg.PoW.Register.Difficulty, cfg.PoW.Action.Difficulty)
	if cfg.Admin.JWTSecret != "" {
		green.Print("    ▶ ")
		fmt.Println("Admin:    enabled")
	}
	fmt.Println()

	logger.Info("starting agentgate",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"database", cfg.Database.Path,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	return api.NewServer(cfg, st, logger).Run(ctx)
}

const starterConfig = `# agentgate configuration
server:
  http_addr: "127.0.0.1:8372"

database:
  path: "agentgate.db"

logging:
  level: "info"
  format: "text"

# Uncomment to enable the admin API.
# admin:
#   jwt_secret: "${AGENTGATE_ADMIN_SECRET}"

pow:
  register:
    difficulty: 5
    ttl: 30m
  action:
    difficulty: 4
    ttl: 10m

tokens:
  ttl: 10m

limits:
  post:
    hourly: 5
    daily: 30
  comment:
    hourly: 15
    daily: 100
`

func runInit() error {
	configPath := getConfigPath()

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists at %s", configPath)
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(starterConfig), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("Wrote %s\n", configPath)
	return nil
}

func runBootstrap() error {
	subject := ""
	for i := 2; i < len(os.Args)-1; i++ {
		if os.Args[i] == "--subject" {
			subject = os.Args[i+1]
		}
	}
	if subject == "" {
		return fmt.Errorf("usage: agentgate bootstrap --subject EMAIL")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if cfg.Admin.JWTSecret == "" {
		return fmt.Errorf("admin.jwt_secret is not configured")
	}

	token, err := admin.NewVerifier(cfg.Admin.JWTSecret).Generate(subject, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("minting admin token: %w", err)
	}

	fmt.Println(token)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("checking health: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: %s %s", resp.Status, body)
	}

	var status map[string]string
	if err := json.Unmarshal(body, &status); err != nil {
		return fmt.Errorf("parsing health response: %w", err)
	}

	color.New(color.FgGreen).Print("✓ ")
	fmt.Printf("%s is %s\n", cfg.Server.HTTPAddr, status["status"])
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

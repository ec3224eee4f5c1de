// termchat - terminal chat client and proxy server for external LLMs.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"

	"github.com/jeranaias/termchat/internal/api"
	"github.com/jeranaias/termchat/internal/chat"
	"github.com/jeranaias/termchat/internal/config"
	"github.com/jeranaias/termchat/internal/metrics"
	"github.com/jeranaias/termchat/internal/model"
	"github.com/jeranaias/termchat/internal/provider"
	"github.com/jeranaias/termchat/internal/registry"
	"github.com/jeranaias/termchat/internal/server"
	"github.com/jeranaias/termchat/internal/storage"
	uichat "github.com/jeranaias/termchat/internal/ui/chat"
)

// Version information (set at build time)
var (
	Version   = "1.0.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

func main() {
	args := os.Args[1:]

	cmd := "tui"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "tui":
		runTUI(args)
	case "serve":
		runServe(args)
	case "version", "--version", "-v":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printVersion() {
	fmt.Printf("termchat %s (%s, %s, %s/%s)\n", Version, GitCommit, BuildDate, runtime.GOOS, runtime.GOARCH)
}

func printUsage() {
	fmt.Println(`termchat - terminal chat for external LLMs

Usage:
  termchat [tui]           Start the terminal client (default)
  termchat serve           Start the proxy server
  termchat version         Show version information

Client flags:
  --server URL             Proxy server URL (default http://127.0.0.1:3000)
  --model ID               Model to chat with
  --config PATH            Config file path

Server flags:
  --host ADDR              Bind address (default 127.0.0.1)
  --port N                 Listen port (default 3000)
  --config PATH            Config file path`)
}

// loadConfig reads the config file, falling back to defaults when no
// file exists yet.
func loadConfig(path string) *config.Config {
	var cfg *config.Config
	var err error

	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "Config error: %v\n", e)
		}
		os.Exit(1)
	}

	config.SetGlobal(cfg)
	return cfg
}

// =============================================================================
// CLIENT MODE
// =============================================================================

// chatProgram adapts uichat.Model's value-typed Update to the tea.Model
// interface expected by tea.NewProgram.
type chatProgram struct {
	uichat.Model
}

func (p chatProgram) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	m, cmd := p.Model.Update(msg)
	return chatProgram{m}, cmd
}

func runTUI(args []string) {
	fs := flag.NewFlagSet("tui", flag.ExitOnError)
	serverURL := fs.String("server", "", "proxy server URL")
	modelID := fs.String("model", "", "model to chat with")
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		fmt.Fprintln(os.Stderr, "Error: termchat requires an interactive terminal (use 'termchat serve' for the server)")
		os.Exit(1)
	}

	cfg := loadConfig(*configPath)

	url := *serverURL
	if url == "" {
		url = cfg.UI.ServerURL
	}
	client := api.NewClient(url)

	// Fail fast with a clear message instead of a blank screen.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	_, err := client.Health(ctx)
	cancel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: cannot reach termchat server at %s\n", client.BaseURL())
		fmt.Fprintln(os.Stderr, "Start it with: termchat serve")
		os.Exit(1)
	}

	m := uichat.New(client, uichat.Options{
		ModelID:        *modelID,
		ConversationID: model.NewConversationID(),
		CharsPerTick:   cfg.UI.TypingCharsPerTick,
		TickMs:         cfg.UI.TypingTickMs,
	})

	p := tea.NewProgram(chatProgram{m}, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// =============================================================================
// SERVER MODE
// =============================================================================

func runServe(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	host := fs.String("host", "", "bind address")
	port := fs.Int("port", 0, "listen port")
	configPath := fs.String("config", "", "config file path")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	store, err := storage.NewStore(cfg.Server.DataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening conversation store: %v\n", err)
		os.Exit(1)
	}
	store.WithRetentionDays(cfg.Server.RetentionDays)

	rec, err := metrics.Open(filepath.Join(cfg.Server.DataDir, "metrics.db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening metrics database: %v\n", err)
		os.Exit(1)
	}
	defer rec.Close()

	svc := buildService(cfg).WithUsageRecorder(rec)

	srv := server.NewServer(svc, store, cfg.Server.Port).
		WithHost(cfg.Server.Host).
		WithMetrics(rec).
		WithEnvironment(cfg.Server.Environment).
		WithRateLimiter(server.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst))

	if len(cfg.Server.CORSOrigins) > 0 {
		cors := server.DefaultCORSConfig()
		cors.AllowedOrigins = cfg.Server.CORSOrigins
		srv.WithCORS(cors)
	}

	// Hot-reload provider settings when the config file changes.
	watchPath := *configPath
	if watchPath == "" {
		watchPath = filepath.Join(config.ConfigDir(), "config.toml")
	}
	watcher, err := config.Watch(watchPath, func(updated *config.Config) {
		config.SetGlobal(updated)
		svc.SetAdapters(buildAdapters(updated))
	})
	if err != nil {
		log.Printf("CONFIG_WATCH_UNAVAILABLE | path=%s error=%v", watchPath, err)
	} else {
		defer watcher.Close()
	}

	// Graceful shutdown on SIGINT/SIGTERM.
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
			os.Exit(1)
		}
	case sig := <-sigCh:
		log.Printf("SERVER_SHUTDOWN | signal=%s", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Shutdown error: %v\n", err)
			os.Exit(1)
		}
	}
}

// buildService wires the model catalog and provider adapters from
// configuration.
func buildService(cfg *config.Config) *chat.Service {
	reg := registry.New()
	if cfg.Providers.Direct.DefaultModel != "" {
		reg.SetDefault(cfg.Providers.Direct.DefaultModel)
	}

	svc := chat.NewService(reg, buildAdapters(cfg)).
		WithAssistantName(cfg.Chat.AssistantName).
		WithHistoryWindow(cfg.Chat.HistoryWindow)
	return svc
}

// buildAdapters constructs the provider adapters from configuration.
func buildAdapters(cfg *config.Config) map[string]provider.Adapter {
	direct := provider.NewDirect().
		WithBaseURL(cfg.Providers.Direct.BaseURL).
		WithAPIKey(cfg.Providers.Direct.APIKey).
		WithHeaders(cfg.Providers.Direct.Headers).
		WithTemperature(cfg.Providers.Direct.Temperature).
		WithMaxTokens(cfg.Providers.Direct.MaxTokens)

	minitool := provider.NewMinitool().
		WithBaseURL(cfg.Providers.Scraped.BaseURL).
		WithPaths(cfg.Providers.Scraped.ChatPath, cfg.Providers.Scraped.StreamPath).
		WithTokenService(cfg.Providers.Scraped.TokenServiceURL, cfg.Providers.Scraped.SiteKey).
		WithTemperature(cfg.Providers.Scraped.Temperature)

	return map[string]provider.Adapter{
		model.ProviderLocal:    direct,
		model.ProviderMinitool: minitool,
	}
}

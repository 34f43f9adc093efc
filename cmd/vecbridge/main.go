// Package main is the vecbridge CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/hyperjump/vecbridge/internal/collection"
	"github.com/hyperjump/vecbridge/internal/config"
	"github.com/hyperjump/vecbridge/internal/persist"
	"github.com/hyperjump/vecbridge/internal/server"
	"github.com/hyperjump/vecbridge/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		runServer(nil)
		return
	}
	command := os.Args[1]
	// A bare numeric argument is a listening port: vecbridge 3456
	if _, err := strconv.Atoi(command); err == nil {
		runServer(os.Args[1:])
		return
	}
	switch command {
	case "server":
		runServer(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version", "--version", "-v":
		fmt.Printf("vecbridge version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

// loadConfig builds the effective config: optional YAML file, then defaults,
// then environment overrides, then an optional positional port argument.
func loadConfig(path string, args []string) (*config.Config, error) {
	var cfg *config.Config
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	if len(args) > 0 {
		port, err := strconv.Atoi(args[0])
		if err != nil {
			return nil, fmt.Errorf("invalid port argument %q: %w", args[0], err)
		}
		cfg.Server.Port = port
	}
	return cfg, nil
}

func runServer(args []string) {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "config file path (optional)")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(args)

	cfg, err := loadConfig(*configPath, fs.Args())
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("data_dir", cfg.Storage.DataDir),
		zap.Bool("auto_save", cfg.Persistence.AutoSaveOrDefault()),
		zap.Bool("debug", debugMode),
	)

	manager, err := persist.NewManager(cfg.Storage.DataDir, logger)
	if err != nil {
		logger.Fatal("Failed to prepare data directory", zap.Error(err))
	}
	// The engine's own on-disk state is a cache from a previous process;
	// drop it and rebuild from the persisted artifacts.
	if err := manager.DiscardEngineCache(); err != nil {
		logger.Fatal("Failed to discard engine cache", zap.Error(err))
	}

	col := collection.New(manager, logger, cfg.Persistence.AutoSaveOrDefault())
	defer col.Close()

	loaded, err := col.Load(context.Background())
	if err != nil {
		logger.Fatal("Failed to load persisted state", zap.Error(err))
	}
	if loaded {
		logger.Info("persisted state restored",
			zap.Int("count", col.Count()),
			zap.Int("dimension", col.Dimension()))
	} else {
		logger.Info("starting with empty collection")
	}

	srv := server.NewServer(col, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	if saved, count, err := col.Save(context.Background()); err != nil {
		logger.Warn("final save failed", zap.Error(err))
	} else if saved {
		logger.Info("final save complete", zap.Int("count", count))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", fmt.Sprintf("http://localhost:%d", config.DefaultPort), "server URL")
	_ = fs.Parse(args)

	res, err := http.Get(*serverURL + "/stats")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: invalid response: %v\n", err)
		os.Exit(1)
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
}

func printUsage() {
	fmt.Println(`vecbridge - similarity-search sidecar

Usage:
  vecbridge [port]                Start the HTTP server on the given port
  vecbridge server [flags] [port] Start the HTTP server
  vecbridge status [flags]        Show collection stats from a running server
  vecbridge version               Show version
  vecbridge help                  Show this help

Server Flags:
  --config string    Config file path (optional YAML)
  --debug            Enable debug logging

Environment:
  VECBRIDGE_PORT        Listening port (default: 3456)
  VECBRIDGE_DATA_DIR    Data directory (default: data/vecbridge)
  VECBRIDGE_AUTO_SAVE   Persist after every mutation (default: on; 0/false disables)`)
}

// Command domdrive runs container drivers against a live page.
//
// Usage:
//
//	domdrive -config domdrive.yaml              # run configured drivers
//	domdrive -config domdrive.yaml -mcp         # serve the MCP tool surface over stdio
//	domdrive -url https://example.com -registry containers.yaml -container news.feed
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/domdrive"
)

func main() {
	configPath := flag.String("config", "", "path to domdrive.yaml config file")
	singleURL := flag.String("url", "", "match a container on a single URL and exit")
	registryPath := flag.String("registry", "", "container definitions YAML (with -url)")
	containerID := flag.String("container", "", "container to match (with -url)")
	serveMCP := flag.Bool("mcp", false, "serve MCP tools over stdio instead of running drivers")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *singleURL, *registryPath, *containerID, *serveMCP); err != nil {
		logger.Error("domdrive: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, singleURL, registryPath, containerID string, serveMCP bool) error {
	switch {
	case configPath != "":
		cfg, err := domdrive.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if serveMCP {
			return runMCP(ctx, logger, cfg)
		}
		return runDrivers(ctx, logger, cfg)

	case singleURL != "":
		if registryPath == "" || containerID == "" {
			return fmt.Errorf("-url requires -registry and -container")
		}
		return runMatch(ctx, logger, singleURL, registryPath, containerID)

	default:
		fmt.Fprintln(os.Stderr, "usage: domdrive -config <file> [-mcp] | -url <url> -registry <file> -container <id>")
		os.Exit(1)
		return nil
	}
}

func runDrivers(ctx context.Context, logger *slog.Logger, cfg *domdrive.Config) error {
	s, err := domdrive.NewSession(cfg, domdrive.WithSessionLogger(logger))
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()

	reports, err := s.RunDrivers(ctx)
	if err != nil {
		return fmt.Errorf("drivers: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(reports)
}

func runMCP(ctx context.Context, logger *slog.Logger, cfg *domdrive.Config) error {
	s, err := domdrive.NewSession(cfg, domdrive.WithSessionLogger(logger))
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "domdrive",
		Version: "1.0.0",
	}, nil)
	s.RegisterMCP(srv)

	logger.Info("domdrive: MCP serving on stdio", "url", cfg.URL)
	return srv.Run(ctx, &mcp.StdioTransport{})
}

// runMatch is the quick one-shot: open the page, resolve one container,
// print the matches.
func runMatch(ctx context.Context, logger *slog.Logger, url, registryPath, containerID string) error {
	cfg := &domdrive.Config{
		URL:      url,
		Registry: registryPath,
	}
	s, err := domdrive.NewSession(cfg, domdrive.WithSessionLogger(logger))
	if err != nil {
		return err
	}
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Close()

	matches, err := s.Match(ctx, containerID, 0)
	if err != nil {
		return fmt.Errorf("match: %w", err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(matches)
}

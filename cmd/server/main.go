// server runs the scoped memory MCP server over stdio or HTTP/WebSocket
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"scoped-memory-mcp/internal/config"
	"scoped-memory-mcp/internal/di"
	"scoped-memory-mcp/internal/httpserver"
	"scoped-memory-mcp/internal/logging"
	"scoped-memory-mcp/internal/mcp"
	"scoped-memory-mcp/internal/telemetry"
)

const (
	modeStdio = "stdio"
	modeHTTP  = "http"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "scoped-memory-mcp",
		Short:         "MCP server for user, project, agent and session scoped memories",
		SilenceUsage: true,
	}
	root.AddCommand(newServeCommand(), newHashKeyCommand())
	return root
}

type serveOptions struct {
	mode       string
	addr       string
	configFile string
}

func newServeCommand() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server",
		Long: `Run the MCP server. In stdio mode JSON-RPC is read from stdin and
logs go to stderr. In http mode the server exposes POST /mcp, GET /ws and GET /health.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			return runServe(ctx, opts)
		},
	}

	cmd.Flags().StringVar(&opts.mode, "mode", "", "Server mode: stdio or http (default from config)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "HTTP listen address (default from config)")
	cmd.Flags().StringVarP(&opts.configFile, "config", "c", "", "YAML config file")
	return cmd
}

func loadConfig(opts serveOptions) (*config.Config, error) {
	if opts.configFile != "" {
		if err := os.Setenv("MCP_MEMORY_CONFIG_FILE", opts.configFile); err != nil {
			return nil, err
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if opts.mode != "" {
		cfg.Server.Mode = opts.mode
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func setupLogging(cfg config.LoggingConfig, out io.Writer) logging.Logger {
	logger := logging.New(logging.Options{
		Level:  logging.ParseLogLevel(cfg.Level),
		JSON:   cfg.Format == "json",
		Output: out,
	})
	logging.SetDefaultLogger(logger)
	return logger
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// stdout carries the stdio transport
	logger := setupLogging(cfg.Logging, os.Stderr)

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Server, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("Tracer shutdown failed", "error", err)
		}
	}()

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := container.Shutdown(context.Background()); err != nil {
			logger.Error("Error during shutdown", "error", err)
		}
	}()

	memoryServer := mcp.NewMemoryServer(container.Service, cfg)

	switch cfg.Server.Mode {
	case modeStdio:
		logger.Info("Starting MCP server", "mode", modeStdio)
		err = memoryServer.ServeStdio(ctx)
	case modeHTTP:
		addr := opts.addr
		if addr == "" {
			addr = cfg.Server.Addr()
		}
		logger.Info("Starting MCP server", "mode", modeHTTP, "addr", addr)
		err = httpserver.New(memoryServer, container.Service, cfg).ListenAndServe(ctx, addr)
	default:
		return fmt.Errorf("invalid mode %q: use stdio or http", cfg.Server.Mode)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func newHashKeyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key [key]",
		Short: "Print the bcrypt hash to configure as auth.api_key_hash",
		Long:  `Print the bcrypt hash of an API key. Without an argument the key is read from stdin.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key := ""
			if len(args) == 1 {
				key = args[0]
			} else {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && !errors.Is(err, io.EOF) {
					return err
				}
				key = strings.TrimSpace(line)
			}
			if key == "" {
				return errors.New("empty key")
			}
			hash, err := httpserver.HashKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
}

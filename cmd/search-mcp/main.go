package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/search-mcp/search-mcp/internal/audit"
	"github.com/search-mcp/search-mcp/internal/auth"
	appconfig "github.com/search-mcp/search-mcp/internal/config"
	"github.com/search-mcp/search-mcp/internal/logs"
	"github.com/search-mcp/search-mcp/internal/metrics"
	"github.com/search-mcp/search-mcp/internal/ratelimit"
	"github.com/search-mcp/search-mcp/internal/search"
	"github.com/search-mcp/search-mcp/internal/server"
	"github.com/search-mcp/search-mcp/internal/storage"
	"github.com/search-mcp/search-mcp/internal/toolcache"
	"github.com/search-mcp/search-mcp/internal/tools"
	"github.com/search-mcp/search-mcp/internal/upstream"
)

const (
	// envAuditLogFile overrides the audit log location.
	envAuditLogFile     = "AUDIT_LOG_FILE"
	defaultAuditLogFile = "./logs/audit.log"
)

var (
	dataDir     string
	logLevel    string
	enableCache bool
)

func main() {
	root := &cobra.Command{
		Use:   "search-mcp",
		Short: "Aggregating MCP proxy: one stdio server fanning out to many backends",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "directory for the local database and search index")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.Flags().BoolVar(&enableCache, "cache", false, "cache backend tool results in the local database")

	root.AddCommand(newKeysCommand())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	logCfg := appconfig.DefaultLogConfig()
	logCfg.Level = logLevel
	logger, err := logs.SetupLogger(logCfg)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	auditPath, err := resolveAuditPath()
	if err != nil {
		return err
	}
	auditor, err := audit.NewLogger(auditPath, logger)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditor.Close()

	authMgr, err := auth.NewManager(auth.ResolveKeysPath(), auth.AuthRequested(), logger)
	if err != nil {
		return fmt.Errorf("load api keys: %w", err)
	}

	mx := metrics.New()
	limiter := ratelimit.NewLimiter(logger, ratelimit.WithMetrics(mx))
	defer limiter.Close()

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	var managerOpts []upstream.ManagerOption
	managerOpts = append(managerOpts, upstream.WithMetrics(mx))

	index, err := search.Open(dataDir, logger)
	if err != nil {
		logger.Warn("search index unavailable, continuing without it", zap.Error(err))
		index = nil
	} else {
		defer index.Close()
		managerOpts = append(managerOpts, upstream.WithSearchIndex(index))
	}

	var cache *toolcache.Manager
	var serverOpts []server.Option
	serverOpts = append(serverOpts, server.WithMetrics(mx))
	if enableCache {
		db, err := storage.OpenDB(dataDir, logger)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		cache, err = toolcache.NewManager(db, logger)
		if err != nil {
			return fmt.Errorf("open tool cache: %w", err)
		}
		defer cache.Close()
		serverOpts = append(serverOpts, server.WithCache(cache))
	}

	manager := upstream.NewManager(logger, auditor, managerOpts...)
	registry := tools.NewRegistry(tools.Deps{
		Backends:    manager,
		Audit:       auditor,
		RateLimiter: limiter,
		Cache:       cache,
		Index:       index,
		Logger:      logger,
	})

	srv := server.New(
		os.Stdin, os.Stdout,
		appconfig.ResolveConfigPath(),
		manager, registry, limiter, authMgr, auditor, logger,
		serverOpts...,
	)

	logger.Info("search-mcp starting",
		zap.String("config", appconfig.ResolveConfigPath()),
		zap.Bool("auth", authMgr.Enabled()),
		zap.Bool("cache", enableCache))

	serveErr := srv.Serve(ctx)
	manager.StopAll()
	if serveErr != nil {
		return fmt.Errorf("dispatcher: %w", serveErr)
	}
	logger.Info("search-mcp shut down")
	return nil
}

func resolveAuditPath() (string, error) {
	path := os.Getenv(envAuditLogFile)
	if path == "" {
		path = defaultAuditLogFile
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create audit log directory: %w", err)
	}
	return path, nil
}

// newKeysCommand manages the API-key store from the command line.
func newKeysCommand() *cobra.Command {
	keys := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
	}

	var (
		name        string
		permissions []string
		expiresIn   time.Duration
	)
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a new API key; the plaintext is printed exactly once",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logs.SetupLogger(appconfig.DefaultLogConfig())
			if err != nil {
				return err
			}
			mgr, err := auth.NewManager(auth.ResolveKeysPath(), true, logger)
			if err != nil {
				return err
			}
			key, plaintext, err := mgr.Generate(name, permissions, expiresIn)
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "id: %s\n", key.ID)
			fmt.Fprintf(os.Stderr, "key: %s\n", plaintext)
			fmt.Fprintln(os.Stderr, "store this key now; it cannot be recovered")
			return nil
		},
	}
	generate.Flags().StringVar(&name, "name", "", "human-readable key name")
	generate.Flags().StringSliceVar(&permissions, "permission", []string{"tools:*"}, "permission patterns granted to the key")
	generate.Flags().DurationVar(&expiresIn, "expires-in", 0, "key lifetime (0 means no expiry)")
	_ = generate.MarkFlagRequired("name")

	var revokeID string
	revoke := &cobra.Command{
		Use:   "revoke",
		Short: "Disable an API key by id",
		RunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logs.SetupLogger(appconfig.DefaultLogConfig())
			if err != nil {
				return err
			}
			mgr, err := auth.NewManager(auth.ResolveKeysPath(), true, logger)
			if err != nil {
				return err
			}
			return mgr.Revoke(revokeID)
		},
	}
	revoke.Flags().StringVar(&revokeID, "id", "", "key id to revoke")
	_ = revoke.MarkFlagRequired("id")

	keys.AddCommand(generate, revoke)
	return keys
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"korah/internal/config"
	"korah/internal/derive"
	"korah/internal/domain"
	"korah/internal/emit"
	"korah/internal/provider"
	"korah/internal/server"
	"korah/internal/tool"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	logger  *slog.Logger

	dbPath  string
	verbose bool

	llmAPI     string
	numTries   int
	doublePass bool
	timeout    time.Duration
	listenAddr string
)

func main() {
	root := &cobra.Command{
		Use:     "korah [query]",
		Short:   "korah: natural-language local search",
		Long:    "korah turns a natural-language query into a file or process search and streams matching records as JSON lines.",
		Version: version,
		Args:    cobra.ExactArgs(1),
		RunE:    runQuery,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "path to config database (default: ~/.korah/korah.db, env KORAH_DB)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.Flags().StringVarP(&llmAPI, "llm-api", "a", "", "LLM API backend: ollama or open_ai [default in config]")
	root.Flags().IntVarP(&numTries, "num-tries", "n", 0, "number of tries to derive a tool call [default in config]")
	root.Flags().BoolVar(&doublePass, "double-pass", false, "derive tool name and parameters in separate passes")
	root.Flags().DurationVar(&timeout, "timeout", 0, "per-completion timeout [default in config]")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveDBPath returns the store path from --db, KORAH_DB, or the default.
func resolveDBPath() (string, error) {
	if dbPath != "" {
		return dbPath, nil
	}
	if env := os.Getenv("KORAH_DB"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot locate home directory: %w", err)
	}
	return filepath.Join(home, ".korah", "korah.db"), nil
}

// loadSnapshot opens the store, resolves the snapshot, applies flag
// overrides and closes the store again. Everything after startup runs on
// the immutable snapshot.
func loadSnapshot(ctx context.Context, cmd *cobra.Command) (*config.Resolved, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, err
	}
	store, err := config.Open(path, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	cfg, err := config.Resolve(ctx, store, llmAPI)
	if err != nil {
		return nil, err
	}

	if cmd != nil {
		if cmd.Flags().Changed("num-tries") {
			if numTries < 1 {
				return nil, fmt.Errorf("--num-tries must be positive")
			}
			cfg.NumTries = numTries
		}
		if cmd.Flags().Changed("double-pass") {
			cfg.DoublePass = doublePass
		}
		if cmd.Flags().Changed("timeout") {
			if timeout <= 0 {
				return nil, fmt.Errorf("--timeout must be positive")
			}
			cfg.Timeout = timeout
		}
	}
	return cfg, nil
}

// pipeline bundles the derivation engine and tool catalog for one process.
type pipeline struct {
	provider domain.Provider
	engine   *derive.Engine
	registry *tool.Registry
}

func buildPipeline(cfg *config.Resolved) (*pipeline, error) {
	prov, err := provider.FromConfig(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry := tool.NewRegistry(logger)
	registry.Register(tool.NewFindFiles(logger))
	registry.Register(tool.NewFindProcesses(logger))

	return &pipeline{
		provider: prov,
		engine:   derive.New(prov, registry, cfg, logger),
		registry: registry,
	}, nil
}

// run executes one query end to end, streaming records to w.
func (p *pipeline) run(ctx context.Context, query string, w io.Writer) error {
	inv, err := p.engine.Derive(ctx, query)
	if err != nil {
		return err
	}
	logger.Info("derived call", "tool", inv.Tool)

	records, err := p.registry.Search(ctx, inv)
	if err != nil {
		return err
	}

	count, err := emit.New(w, logger).Stream(records)
	if err != nil {
		return err
	}
	logger.Debug("query finished", "matches", count)

	// A cancelled walk closes the stream early; surface that as a failure.
	return ctx.Err()
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadSnapshot(ctx, cmd)
	if err != nil {
		return err
	}
	p, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	return p.run(ctx, args[0], os.Stdout)
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the config database with default values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := resolveDBPath()
			if err != nil {
				return err
			}
			store, err := config.Open(path, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			logger.Info("initialized", "db", path)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the query pipeline over HTTP (POST /query)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := loadSnapshot(ctx, nil)
			if err != nil {
				return err
			}
			p, err := buildPipeline(cfg)
			if err != nil {
				return err
			}

			if err := p.provider.Healthy(ctx); err != nil {
				logger.Warn("completion backend not reachable yet", "backend", p.provider.Name(), "err", err)
			}

			addr := cfg.APIAddress
			if listenAddr != "" {
				addr = listenAddr
			}
			srv := server.New(addr, p.run, p.provider.Healthy, logger)
			return srv.ListenAndServe(ctx)
		},
	}
	cmd.Flags().StringVarP(&listenAddr, "listen", "l", "", "listen address [default in config]")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and edit the persisted configuration",
	}
	cmd.AddCommand(configGetCmd(), configSetCmd(), configListCmd(), configExportCmd(), configImportCmd())
	return cmd
}

func openStore() (*config.Store, error) {
	path, err := resolveDBPath()
	if err != nil {
		return nil, err
	}
	return config.Open(path, logger)
}

func configGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "Print one config value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			value, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Println(value)
			return nil
		},
	}
}

func configSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set one config value",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !config.IsKnownKey(args[0]) {
				return fmt.Errorf("unknown config key %q", args[0])
			}
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return store.Set(cmd.Context(), args[0], args[1])
		},
	}
}

func configListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Print all config values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			values, err := store.All(cmd.Context())
			if err != nil {
				return err
			}
			keys := make([]string, 0, len(values))
			for key := range values {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				fmt.Printf("%s = %s\n", key, values[key])
			}
			return nil
		},
	}
}

func configExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the config table as YAML to stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return config.Export(cmd.Context(), store, os.Stdout)
		},
	}
}

func configImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Load config values from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer file.Close()
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return config.Import(cmd.Context(), store, file)
		},
	}
}

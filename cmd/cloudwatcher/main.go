package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/TobiSchelling/cloudwatcher/internal/collect"
	"github.com/TobiSchelling/cloudwatcher/internal/config"
	"github.com/TobiSchelling/cloudwatcher/internal/database"
	"github.com/TobiSchelling/cloudwatcher/internal/logging"
	"github.com/TobiSchelling/cloudwatcher/internal/scan"
	"github.com/TobiSchelling/cloudwatcher/internal/scheduler"
	"github.com/TobiSchelling/cloudwatcher/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = zap.NewNop()
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "cloudwatcher",
	Short:        "Cloud provider news watch",
	Long:         "cloudwatcher polls AWS, Azure and Google Cloud feeds, extracts structured news with an LLM and serves them over HTTP.",
	Version:      version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading .env: %w", err)
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		logger, err = logging.New(level, cfg.Logging.Development)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = logger.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(newsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(saveCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("cloudwatcher", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/cloudwatcher/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to configure feeds, the LLM provider and storage.")
		fmt.Println("Secrets are read from the environment (or a .env file): GEMINI_API_KEY, DATABASE_URL, DATABASE_KEY.")
		return nil
	},
}

// --- serve command ---

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the periodic scan",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		if cfg.Logging.Development {
			gin.SetMode(gin.DebugMode)
		} else {
			gin.SetMode(gin.ReleaseMode)
		}

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		sched := scheduler.New(a.orch, cfg.Scan.Interval, logger.Named("scheduler"))
		if err := sched.Start(ctx); err != nil {
			return err
		}
		defer sched.Stop()

		srv := server.New(a.db, a.orch, a.gateway, a.registry, logger.Named("server"))
		fmt.Printf("Starting server at http://%s\n", cfg.Addr())
		fmt.Println("Press Ctrl+C to stop")
		return srv.Serve(ctx, cfg.Addr())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
}

// --- scan command ---

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run one scan now and wait for it to finish",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Printf("Scanning %d feeds (%s between AI calls)...\n", len(cfg.Feeds), cfg.Scan.ItemDelay)
		result, err := a.orch.Run(ctx)
		if errors.Is(err, scan.ErrBusy) {
			return err
		}

		fmt.Println("\nScan complete:")
		fmt.Printf("  Outcome: %s\n", result.Outcome)
		fmt.Printf("  Articles found: %d\n", result.TotalFound)
		fmt.Printf("  New records: %d\n", result.NewAdded)
		fmt.Printf("  Already stored: %d\n", result.Duplicates)
		fmt.Printf("  Failed: %d\n", result.Failed)
		if result.Err != nil {
			return result.Err
		}
		return nil
	},
}

// --- news command ---

var newsLimit int

var newsCmd = &cobra.Command{
	Use:   "news",
	Short: "List the most recent news records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		records, err := db.List(ctx, newsLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No news yet. Run: cloudwatcher scan")
			return nil
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.SetStyle(table.StyleLight)
		t.AppendHeader(table.Row{"ID", "Date", "Provider", "Category", "Impact", "Saved", "Title"})
		for _, r := range records {
			saved := ""
			if r.IsSaved {
				saved = "*"
			}
			t.AppendRow(table.Row{
				collect.Truncate(r.ID, 8),
				collect.Truncate(r.CreatedAt, 10),
				r.Provider,
				r.Category,
				r.ImpactLevel,
				saved,
				collect.Truncate(r.Title, 60),
			})
		}
		t.Render()
		return nil
	},
}

func init() {
	newsCmd.Flags().IntVarP(&newsLimit, "limit", "n", 20, "Number of records to show")
}

// --- stats command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregate statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.Stats(ctx)
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Total news: %d\n", stats.TotalNews)
		fmt.Printf("Critical (impact 3): %d\n", stats.CriticalNews)
		fmt.Printf("Most active provider: %s\n", stats.ActiveProvider)

		printHistogram("Provider", stats.ProvidersStats, false)
		printHistogram("Category", stats.CategoriesStats, false)
		printHistogram("Day", stats.TimelineStats, true)
		return nil
	},
}

func printHistogram(label string, counts map[string]int, byKey bool) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if byKey || counts[keys[i]] == counts[keys[j]] {
			return keys[i] < keys[j]
		}
		return counts[keys[i]] > counts[keys[j]]
	})

	fmt.Println()
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{label, "Count"})
	for _, k := range keys {
		t.AppendRow(table.Row{k, counts[k]})
	}
	t.Render()
}

// --- save command ---

var saveCmd = &cobra.Command{
	Use:   "save [id]",
	Short: "Toggle the saved flag of a news record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		db, err := openDB(ctx)
		if err != nil {
			return err
		}
		defer db.Close()

		saved, err := db.ToggleSaved(ctx, args[0])
		if errors.Is(err, database.ErrNotFound) {
			return fmt.Errorf("news %s not found", args[0])
		}
		if err != nil {
			return err
		}

		state := "unsaved"
		if saved {
			state = "saved"
		}
		fmt.Printf("News %s %s\n", args[0], state)
		return nil
	},
}

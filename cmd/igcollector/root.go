package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"igcollector/pkg/config"
	"igcollector/pkg/fetch"
	"igcollector/pkg/instagram"
	"igcollector/pkg/logger"
	"igcollector/pkg/login"
	"igcollector/pkg/pool"
	"igcollector/pkg/scraper"
	"igcollector/pkg/storage"
	"igcollector/pkg/ui"
	"igcollector/pkg/vault"
)

var (
	// Version information
	version   = "0.3.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	dbPath     string
	noColor    bool
	quiet      bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igcollector",
	Short: "Collect Instagram content with a pool of platform sessions",
	Long: `igcollector collects profile and hashtag posts from Instagram using a shared
pool of platform sessions.

Features:
  - Session pool with health flags and fair rotation
  - Automatic re-login and failover when a session is challenged or throttled
  - Resumable paginated fetches committed page by page
  - HTTP API with background fetch jobs and Prometheus metrics
  - Secrets sealed at rest`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetNoColor(noColor)
		ui.SetQuietMode(quiet)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default searches ./igcollector.yaml and ~/.config/igcollector)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "path of the SQLite database")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")

	rootCmd.SetVersionTemplate(`igcollector {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)
	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig loads the configuration with the global flags merged in
func loadConfig(extra map[string]interface{}) (*config.Config, error) {
	flags := map[string]interface{}{
		"log-level": logLevel,
		"db":        dbPath,
	}
	for k, v := range extra {
		flags[k] = v
	}
	return config.Load(configFile, flags)
}

// app wires the components every command shares
type app struct {
	cfg     *config.Config
	log     logger.Logger
	store   *storage.SQLiteStore
	pool    *pool.Pool
	orch    *login.Orchestrator
	scraper *scraper.Scraper
}

func newApp(extra map[string]interface{}) (*app, error) {
	cfg, err := loadConfig(extra)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	log := logger.GetLogger()

	v, err := vault.Open(cfg.Vault)
	if err != nil {
		return nil, fmt.Errorf("failed to open vault: %w", err)
	}
	store, err := storage.Open(cfg.Database.Path, cfg.Database.BusyTimeout, v, storage.WithLogger(log))
	if err != nil {
		return nil, err
	}

	p := pool.New(store, log)
	orch := login.New(p, store, instagram.NewFactory(cfg, log), cfg.Pool, log)
	agg := fetch.New(store, cfg.Fetch, log)

	return &app{
		cfg:     cfg,
		log:     log,
		store:   store,
		pool:    p,
		orch:    orch,
		scraper: scraper.New(orch, agg, cfg.Fetch, log),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.WithError(err).Warn("Failed to close database")
	}
}

// Package main provides the vibedjd daemon entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"vibedj/internal/catalog"
	"vibedj/internal/core"
	httpserver "vibedj/internal/http"
	"vibedj/internal/llm"
	"vibedj/internal/player"
	"vibedj/internal/resolver"
	"vibedj/internal/session"
	"vibedj/internal/store"
)

const (
	seenCapacity = 10000
	seenFPRate   = 0.001
)

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vibedjd",
	Short: "vibedj - prompt-driven audio DJ daemon",
	Long: `vibedjd turns a free-text vibe prompt into a continuously maintained
playback queue: it expands the prompt into catalog searches, scores the
results against the requested vibe, and keeps mpv topped up as tracks play.`,
	RunE: runDaemon,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .env)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("server-host", "127.0.0.1", "HTTP server host")
	rootCmd.PersistentFlags().Int("server-port", 17845, "HTTP server port")
	rootCmd.PersistentFlags().String("llm-provider", "none", "LLM provider (openai, anthropic, none)")
	rootCmd.PersistentFlags().String("llm-model", "", "LLM model name")
	rootCmd.PersistentFlags().String("llm-api-key", "", "LLM API key")
	rootCmd.PersistentFlags().String("llm-base-url", "", "LLM API base URL override")
	rootCmd.PersistentFlags().Int("llm-max-queries", 10, "Maximum search queries per curation")
	rootCmd.PersistentFlags().Bool("llm-rescore-enabled", false, "Let the LLM re-score borderline candidates")
	rootCmd.PersistentFlags().String("catalog-base-url", "http://127.0.0.1:9863", "Catalog companion server base URL")
	rootCmd.PersistentFlags().Int("catalog-timeout-secs", 20, "Catalog search timeout in seconds")
	rootCmd.PersistentFlags().String("resolver-binary", "yt-dlp", "Stream resolver binary")
	rootCmd.PersistentFlags().Int("resolver-workers", 4, "Concurrent stream resolutions")
	rootCmd.PersistentFlags().Int("resolver-timeout-secs", 30, "Per-track resolution timeout in seconds")
	rootCmd.PersistentFlags().String("player-binary", "mpv", "Player binary")
	rootCmd.PersistentFlags().String("player-socket", "", "mpv IPC socket path (default is under the temp dir)")
	rootCmd.PersistentFlags().String("store-path", "vibedj.sqlite3", "SQLite database path")
	rootCmd.PersistentFlags().Int("queue-target", 25, "Tracks to keep queued")
	rootCmd.PersistentFlags().Int("max-tracks", 25, "Hard cap on queue size")
	rootCmd.PersistentFlags().Float64("explore-ratio", 0.5, "Fraction of the queue reserved for exploration")
	rootCmd.PersistentFlags().String("vibe-strictness", "normal", "Vibe match strictness (strict, normal, loose)")
	rootCmd.PersistentFlags().Int("cache-ttl-hours", 72, "Prompt cache TTL in hours")
	rootCmd.PersistentFlags().Int("no-repeat-hours", 6, "History window in which played tracks are not repeated")
	rootCmd.PersistentFlags().Int("artist-cap", 2, "Maximum tracks per artist in the trailing selection window")
	rootCmd.PersistentFlags().Int("check-interval-secs", 2, "Playback poll interval in seconds")
	rootCmd.PersistentFlags().Bool("generate-env-example", false, "Generate .env.example from current configuration and exit")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}
}

func initConfig() {
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix("VIBEDJ")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log.Level)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	cfg.Server.Host = viper.GetString("server-host")
	cfg.Server.Port = viper.GetInt("server-port")

	cfg.LLM.Provider = viper.GetString("llm-provider")
	cfg.LLM.Model = viper.GetString("llm-model")
	cfg.LLM.APIKey = viper.GetString("llm-api-key")
	cfg.LLM.BaseURL = viper.GetString("llm-base-url")
	cfg.LLM.MaxQueries = viper.GetInt("llm-max-queries")
	cfg.LLM.RescoreEnabled = viper.GetBool("llm-rescore-enabled")

	cfg.Catalog.BaseURL = viper.GetString("catalog-base-url")
	if secs := viper.GetInt("catalog-timeout-secs"); secs > 0 {
		cfg.Catalog.Timeout = time.Duration(secs) * time.Second
	}

	cfg.Resolver.Binary = viper.GetString("resolver-binary")
	cfg.Resolver.Workers = viper.GetInt("resolver-workers")
	if secs := viper.GetInt("resolver-timeout-secs"); secs > 0 {
		cfg.Resolver.Timeout = time.Duration(secs) * time.Second
	}

	cfg.Player.Binary = viper.GetString("player-binary")
	cfg.Player.SocketPath = viper.GetString("player-socket")

	cfg.Store.Path = viper.GetString("store-path")

	cfg.Curation.QueueTarget = viper.GetInt("queue-target")
	cfg.Curation.MaxTracks = viper.GetInt("max-tracks")
	cfg.Curation.ExploreRatio = viper.GetFloat64("explore-ratio")
	cfg.Curation.Strictness = viper.GetString("vibe-strictness")
	if hours := viper.GetInt("cache-ttl-hours"); hours > 0 {
		cfg.Curation.CacheTTL = time.Duration(hours) * time.Hour
	}
	if hours := viper.GetInt("no-repeat-hours"); hours > 0 {
		cfg.Curation.NoRepeatWindow = time.Duration(hours) * time.Hour
	}
	if n := viper.GetInt("artist-cap"); n > 0 {
		cfg.Curation.ArtistCap = n
	}
	if secs := viper.GetInt("check-interval-secs"); secs > 0 {
		cfg.Curation.CheckInterval = time.Duration(secs) * time.Second
	}

	cfg.Log.Level = viper.GetString("log-level")

	return cfg
}

func buildLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch strings.ToLower(level) {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	builtLogger, err := cfg.Build()
	if err != nil {
		panic(fmt.Sprintf("Failed to build logger: %v", err))
	}

	return builtLogger
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting vibedjd",
		zap.String("llm_provider", config.LLM.Provider),
		zap.String("catalog", config.Catalog.BaseURL),
		zap.String("store", config.Store.Path))

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.close()

	return runServices(ctx, svcs)
}

type services struct {
	store      *store.Store
	player     *player.MPV
	orch       *session.Orchestrator
	httpServer *httpserver.Server
}

func (s *services) close() {
	if err := s.player.Close(); err != nil {
		logger.Debug("Failed to close player", zap.Error(err))
	}
	if err := s.store.Close(); err != nil {
		logger.Debug("Failed to close store", zap.Error(err))
	}
}

func initializeServices(ctx context.Context) (*services, error) {
	db, err := store.Open(config.Store.Path, logger.Named("store"))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	curator, err := llm.NewProvider(&config.LLM, logger.Named("llm"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}

	mpv := player.New(&config.Player, logger.Named("player"))
	if err := mpv.Start(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to start player: %w", err)
	}

	metrics := httpserver.NewMetrics()
	orch := session.NewOrchestrator(
		config,
		logger.Named("session"),
		catalog.NewClient(&config.Catalog, config.Curation.PerQueryResults, logger.Named("catalog")),
		curator,
		resolver.New(&config.Resolver, logger.Named("resolver")),
		mpv,
		db,
		store.NewSeenSet(seenCapacity, seenFPRate),
		metrics,
	)

	httpServer := httpserver.NewServer(&config.Server, logger.Named("http"), orch, db, metrics)

	return &services{
		store:      db,
		player:     mpv,
		orch:       orch,
		httpServer: httpServer,
	}, nil
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.ListenAndServe()
	})

	g.Go(func() error {
		return svcs.orch.Run(gCtx)
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return svcs.httpServer.Shutdown(shutdownCtx)
	})

	logger.Info("vibedjd started",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		logger.Error("vibedjd stopped with error", zap.Error(err))
		return err
	}

	logger.Info("vibedjd stopped gracefully")
	return nil
}

func generateEnvExample(cmd *cobra.Command) error {
	var content strings.Builder
	content.WriteString("# vibedj configuration\n")
	content.WriteString("#\n")
	content.WriteString("# Copy this file to .env and update with your values.\n")
	content.WriteString("# Every variable has a CLI flag equivalent (use --help to see them).\n")
	content.WriteString("# Format: VIBEDJ_<FLAG_WITH_UNDERSCORES>=value\n\n")

	var flags []*pflag.Flag
	cmd.PersistentFlags().VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "generate-env-example" || f.Name == "help" {
			return
		}
		flags = append(flags, f)
	})
	sort.Slice(flags, func(i, j int) bool { return flags[i].Name < flags[j].Name })

	for _, f := range flags {
		envVar := "VIBEDJ_" + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		fmt.Fprintf(&content, "# %s\n%s=%s\n\n", f.Usage, envVar, f.DefValue)
	}

	if err := os.WriteFile(".env.example", []byte(content.String()), 0600); err != nil {
		return fmt.Errorf("failed to write .env.example: %w", err)
	}

	fmt.Println("Generated .env.example")
	return nil
}

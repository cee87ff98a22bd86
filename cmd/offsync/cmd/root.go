package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mediflow/offsync/synclite"
)

var (
	cfgFile string
	debug   bool

	log *slog.Logger
	app *syncApp
)

// syncApp bundles the wired sync core for the subcommands.
type syncApp struct {
	db        *sql.DB
	store     *synclite.Store
	mapper    *synclite.IDMapper
	outbox    *synclite.Outbox
	api       *synclite.APIClient
	handler   *synclite.Handler
	broadcast *synclite.Broadcaster
	health    *synclite.NetworkStatus
}

func (a *syncApp) close() {
	if a != nil && a.db != nil {
		a.db.Close()
	}
}

var rootCmd = &cobra.Command{
	Use:   "offsync",
	Short: "offsync - offline-first resource sync client",
	Long: `offsync keeps a local SQLite cache of remote resources in sync:
reads fall back to the cache when offline, writes degrade to optimistic
entries replayed from a durable outbox, and server pushes arrive over a
WebSocket channel.`,
	PersistentPreRunE: setupApp,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

func Execute() {
	defer func() { app.close() }()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupApp(_ *cobra.Command, _ []string) error {
	if err := loadConfig(); err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	dbPath := viper.GetString("db_path")
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	store, err := synclite.OpenStore(db)
	if err != nil {
		db.Close()
		return err
	}
	store.SetLogger(log)

	mapper := synclite.NewIDMapper(store, nil)
	mapper.SetLogger(log)
	outbox := synclite.NewOutbox(store, mapper)
	outbox.SetLogger(log)

	api := synclite.NewAPIClient(
		viper.GetString("base_url"),
		viper.GetString("business_id"),
		viper.GetString("location_id"),
	)
	api.SetLogger(log)
	if token := viper.GetString("token"); token != "" {
		api.Token = func(ctx context.Context) (string, error) { return token, nil }
	}

	broadcast := synclite.NewBroadcaster()
	retention := synclite.NewRetention(store, synclite.DefaultRetentionConfig())
	retention.SetLogger(log)

	handler, err := synclite.NewHandler(synclite.HandlerConfig{
		Store:     store,
		Mapper:    mapper,
		Outbox:    outbox,
		Retention: retention,
		Broadcast: broadcast,
		Logger:    log,
	})
	if err != nil {
		db.Close()
		return err
	}

	app = &syncApp{
		db:        db,
		store:     store,
		mapper:    mapper,
		outbox:    outbox,
		api:       api,
		handler:   handler,
		broadcast: broadcast,
		health:    synclite.NewNetworkStatus(true),
	}
	return nil
}

func loadConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(filepath.Join(home, ".offsync"))
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("OFFSYNC")
	viper.AutomaticEnv()

	viper.SetDefault("base_url", "http://localhost:8080")
	viper.SetDefault("ws_url", "ws://localhost:8080/ws")
	viper.SetDefault("business_id", "demo")
	viper.SetDefault("location_id", "main")
	viper.SetDefault("db_path", "offsync.db")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
		// No config file: defaults plus environment.
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.offsync/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

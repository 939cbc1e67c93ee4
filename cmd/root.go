package cmd

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/lepinkainen/bookstock/internal/cache"
	"github.com/lepinkainen/bookstock/internal/config"
	"github.com/lepinkainen/humanlog"
	"github.com/spf13/viper"
)

// CLI represents the complete command structure for the bookstock application
type CLI struct {
	// Global flags
	LogLevel string `help:"Log level (debug, info, warn, error)" default:"info" enum:"debug,info,warn,error"`

	// Storage flags
	DatabaseFile string `help:"Path to the library SQLite database" default:"./bookstock.db"`
	RemoteURL    string `help:"Base URL of a remote Datasette store; overrides --database-file"`

	// Cache flags
	CacheDBFile string `help:"Path to cache SQLite database file" default:"./cache.db"`
	CacheTTL    string `help:"Catalog cache time-to-live (e.g., 720h for 30 days)" default:"720h"`
	StockTTL    string `help:"Availability cache time-to-live" default:"6h"`

	Search      SearchCmd      `cmd:"" help:"Search the catalog"`
	Add         AddCmd         `cmd:"" help:"Add a book to the library by ISBN"`
	Import      ImportCmd      `cmd:"" help:"Add every book listed in a CSV export"`
	List        ListCmd        `cmd:"" help:"List library books"`
	Show        ShowCmd        `cmd:"" help:"Show one book"`
	Remove      RemoveCmd      `cmd:"" help:"Remove a book from the library"`
	Rate        RateCmd        `cmd:"" help:"Set a book's star rating"`
	Tag         TagCmd         `cmd:"" help:"Replace a book's tags"`
	Favorite    FavoriteCmd    `cmd:"" help:"Toggle a book's favorite flag"`
	Note        NoteCmd        `cmd:"" help:"Set a book's note"`
	Status      StatusCmd      `cmd:"" help:"Set a book's reading status"`
	SearchTitle SearchTitleCmd `cmd:"" name:"search-title" help:"Override the title used for availability searches"`
	Refresh     RefreshCmd     `cmd:"" help:"Refresh one book's availability"`
	RefreshAll  RefreshAllCmd  `cmd:"" name:"refresh-all" help:"Refresh availability for a selection of books"`
	Raw         RawCmd         `cmd:"" help:"Print the raw source payloads for one book"`
	Cover       CoverCmd       `cmd:"" help:"Download a book's cover image"`
	Cache       CacheCmd       `cmd:"" help:"Manage the source response cache"`
}

// CacheCmd groups the cache maintenance subcommands
type CacheCmd struct {
	Invalidate cache.InvalidateCacheCmd `cmd:"" help:"Drop cached responses for one source"`
}

// Execute runs the Kong-based CLI
func Execute() {
	initLogging(slog.LevelInfo)
	initConfig()

	var cli CLI

	ctx := context.Background()
	kctx := kong.Parse(&cli,
		kong.Name("bookstock"),
		kong.Description("Track a personal library and where each book can be borrowed."),
		kong.UsageOnError(),
		kong.BindTo(ctx, (*context.Context)(nil)),
	)

	initLogging(parseLevel(cli.LogLevel))
	updateGlobalConfig(&cli)

	if err := kctx.Run(); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func initConfig() {
	config.SetDefaults()
	viper.SetDefault("log.level", "info")

	// Enable environment variable support
	viper.AutomaticEnv()
	config.BindEnv()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			slog.Info("Config file not found, writing default config file...")
			if err := viper.SafeWriteConfig(); err != nil {
				slog.Error("Error writing config file", "error", err)
			}
			os.Exit(0)
		} else {
			slog.Error("Fatal error config file", "error", err)
			os.Exit(1)
		}
	}
}

func updateGlobalConfig(cli *CLI) {
	viper.Set("log.level", cli.LogLevel)

	viper.Set("database.file", cli.DatabaseFile)
	if cli.RemoteURL != "" {
		viper.Set("remote.url", cli.RemoteURL)
	}

	viper.Set("cache.dbfile", cli.CacheDBFile)
	viper.Set("cache.ttl", cli.CacheTTL)
	viper.Set("cache.stockttl", cli.StockTTL)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func initLogging(level slog.Level) {
	handler := humanlog.NewHandler(os.Stdout, &humanlog.Options{
		Level: level,
	})

	slog.SetDefault(slog.New(handler))
}

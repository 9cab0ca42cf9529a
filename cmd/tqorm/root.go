package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/mevdschee/tqorm/cache"
	"github.com/mevdschee/tqorm/client"
	"github.com/mevdschee/tqorm/config"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const Version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "tqorm",
	Short: "relational persistence toolkit",
	Long: fmt.Sprintf(`tqorm (v%s)

Statement builders, connection pools, memory caches and write-behind
change managers for MySQL, PostgreSQL and SQLite. Flags can be set
through TQORM_<FLAG> environment variables or a .env file.`, Version),
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to the INI configuration file")
	rootCmd.PersistentFlags().String("database", config.DefaultDatabaseName, "database section to use")
	rootCmd.PersistentFlags().String("log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json, color)")

	rootCmd.AddCommand(versionCmd, pingCmd, poolInfoCmd, ensureDBCmd, demoCmd, metricsCmd)
}

// setup loads .env files and binds the flags of cmd to viper.
func setup(cmd *cobra.Command, _ []string) error {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("tqorm")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	return viper.BindPFlags(cmd.Flags())
}

// loadConfig reads the configuration file and applies the log flags.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if format := viper.GetString("log-format"); format != "" {
		cfg.Log.Format = format
	}
	if err := config.InitLog(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openClient connects to the database selected with --database.
func openClient(ctx context.Context, cfg *config.Config, opts ...client.Option) (*client.Client, error) {
	name := viper.GetString("database")
	db, ok := cfg.Database(name)
	if !ok {
		return nil, errors.Errorf("database %q is not configured (have %v)", name, cfg.DatabaseNames())
	}
	sweep := time.Duration(cfg.Cache.SweepIntervalMs) * time.Millisecond
	opts = append([]client.Option{client.WithCacheManager(cache.NewManager(sweep))}, opts...)
	return client.New(ctx, name, db, opts...)
}

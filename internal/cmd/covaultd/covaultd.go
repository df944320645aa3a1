// Package covaultd parses covaultd flags and composes the server process.
package covaultd

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/covaulthq/covault/internal/platform/config"
	"github.com/covaulthq/covault/internal/services/auth"
	"github.com/covaulthq/covault/internal/services/vault/app"
	"github.com/covaulthq/covault/internal/services/vault/state"
	"github.com/covaulthq/covault/internal/services/vault/storage/sqlite"
)

// Config holds covaultd command configuration.
type Config struct {
	Host     string `env:"COVAULT_HOST"      envDefault:""`
	HTTPPort int    `env:"COVAULT_HTTP_PORT" envDefault:"8080"`
	WSPort   int    `env:"COVAULT_WS_PORT"   envDefault:"8081"`
	LogLevel string `env:"COVAULT_LOG_LEVEL" envDefault:"info"`
	DBPath   string `env:"COVAULT_DB_PATH"   envDefault:"covault.db"`
}

// ParseConfig parses environment and flags into a Config. Flags win over
// environment values.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := config.ParseEnv(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.Host, "host", cfg.Host, "listen host")
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "auth surface listen port")
	fs.IntVar(&cfg.WSPort, "ws-port", cfg.WSPort, "protocol surface listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level (info or debug)")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run opens storage, loads state, and serves both surfaces until ctx ends.
func Run(ctx context.Context, cfg Config) error {
	persist, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer func() {
		if err := persist.Close(); err != nil {
			log.Printf("covaultd: close storage: %v", err)
		}
	}()

	store, err := state.New(ctx, persist, nil)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	gateway := auth.NewGateway(auth.LoadConfigFromEnv(), nil, app.Directory{Store: store}, nil)

	var appCfg app.Config
	if err := config.ParseEnv(&appCfg); err != nil {
		return err
	}
	appCfg.HTTPAddr = fmt.Sprintf("%s:%d", cfg.Host, cfg.HTTPPort)
	appCfg.WSAddr = fmt.Sprintf("%s:%d", cfg.Host, cfg.WSPort)
	appCfg.Verbose = cfg.LogLevel == "debug"

	if err := app.Run(ctx, appCfg, gateway, store); err != nil {
		return fmt.Errorf("serve covault: %w", err)
	}
	return nil
}

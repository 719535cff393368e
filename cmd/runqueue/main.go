// Command runqueue is the operator CLI for a runqueue deployment: it
// resolves worker queues for dispatch messages and inspects batches and
// concurrency state in Redis.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/xraph/runqueue/codec"
	"github.com/xraph/runqueue/keys"
	redisstore "github.com/xraph/runqueue/store/redis"
)

var (
	configPath string
	logLevel   string
	redisURL   string
	keyPrefix  string
	codecName  string
	outputJSON bool

	cfg *fileConfig
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "runqueue",
	Short:         "Inspect and route runqueue batches and runs",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		setupLogging()
		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		applyFlagOverrides(cmd, loaded)
		cfg = loaded
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Path to a YAML config file")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&redisURL, "redis-url", "", "Redis URL (overrides config)")
	pf.StringVar(&keyPrefix, "prefix", "", "Key prefix (overrides config)")
	pf.StringVar(&codecName, "codec", "", "Encoding of stored batches: json or msgpack (overrides config)")
	pf.BoolVar(&outputJSON, "output-json", false, "Output as JSON")
}

func setupLogging() {
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}

// applyFlagOverrides copies explicitly set flags over the file values.
func applyFlagOverrides(cmd *cobra.Command, c *fileConfig) {
	flags := cmd.Flags()
	if flags.Changed("redis-url") {
		c.RedisURL = redisURL
	}
	if flags.Changed("prefix") {
		c.KeyPrefix = keyPrefix
	}
	if flags.Changed("codec") {
		c.Codec = codecName
	}
}

// openStore connects to the configured Redis.
func openStore(ctx context.Context) (*redisstore.Store, error) {
	return redisstore.Open(ctx, cfg.RedisURL,
		redisstore.WithKeys(keys.New(cfg.KeyPrefix)),
		redisstore.WithCodec(codec.Get(cfg.Codec)),
		redisstore.WithLogger(slog.Default()),
	)
}

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Daemon holds the settings of stableswapd, merged from flags, STABLESWAP_*
// environment variables and an optional config file.
type Daemon struct {
	PoolsFile      string
	RPCAddr        string
	MetricsAddr    string
	DBPath         string
	SnapshotCron   string
	StreamInterval time.Duration
	LogLevel       string
	LogFile        string
	LogMaxSizeMB   int
	LogMaxBackups  int
	LogMaxAgeDays  int
}

// LoadDaemon merges config file, environment variables, and flags into Daemon.
func LoadDaemon(cfgFile string, flags *pflag.FlagSet) (Daemon, error) {
	v := viper.New()
	v.SetEnvPrefix("STABLESWAP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("pools", "./pools.yaml")
	v.SetDefault("rpc-addr", "127.0.0.1:8645")
	v.SetDefault("metrics-addr", "127.0.0.1:9645")
	v.SetDefault("db", "")
	v.SetDefault("snapshot-cron", "@every 30s")
	v.SetDefault("stream-interval", time.Second)
	v.SetDefault("log-level", "info")
	v.SetDefault("log-file", "")
	v.SetDefault("log-max-size", 100)
	v.SetDefault("log-max-backups", 5)
	v.SetDefault("log-max-age", 28)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Daemon{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Daemon{}, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := Daemon{
		PoolsFile:      v.GetString("pools"),
		RPCAddr:        v.GetString("rpc-addr"),
		MetricsAddr:    v.GetString("metrics-addr"),
		DBPath:         v.GetString("db"),
		SnapshotCron:   v.GetString("snapshot-cron"),
		StreamInterval: v.GetDuration("stream-interval"),
		LogLevel:       v.GetString("log-level"),
		LogFile:        v.GetString("log-file"),
		LogMaxSizeMB:   v.GetInt("log-max-size"),
		LogMaxBackups:  v.GetInt("log-max-backups"),
		LogMaxAgeDays:  v.GetInt("log-max-age"),
	}
	if cfg.StreamInterval <= 0 {
		return Daemon{}, fmt.Errorf("%w: stream-interval must be positive", ErrInvalidConfig)
	}
	return cfg, nil
}

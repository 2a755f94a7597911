package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/bnema/snapkeep/internal/domain"
	"github.com/bnema/snapkeep/internal/logging"
)

// Config holds the application configuration.
type Config struct {
	Server struct {
		Addr            string        `mapstructure:"addr"`
		DataDir         string        `mapstructure:"data_dir"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"server"`

	// Database is the live relational store being backed up and restored.
	Database struct {
		Path      string `mapstructure:"path"`
		DSNParams string `mapstructure:"dsn_params"`
	} `mapstructure:"database"`

	// Store holds schedules and job history.
	Store struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"store"`

	Backups struct {
		Dir            string        `mapstructure:"dir"`
		FilesRoot      string        `mapstructure:"files_root"`
		Timezone       string        `mapstructure:"timezone"`
		MaxJobDuration time.Duration `mapstructure:"max_job_duration"`
		MaxRestoreSize string        `mapstructure:"max_restore_size"` // e.g. "512MB"
	} `mapstructure:"backups"`

	Scheduler struct {
		TickInterval time.Duration `mapstructure:"tick_interval"`
	} `mapstructure:"scheduler"`

	Retention struct {
		SweepInterval time.Duration `mapstructure:"sweep_interval"`
		IncludeManual bool          `mapstructure:"include_manual"`
		ManualDays    int           `mapstructure:"manual_days"`
	} `mapstructure:"retention"`

	Logging logging.Config `mapstructure:"logging"`
}

// settings is the validated, path-resolved form of Config.
type settings struct {
	addr            string
	shutdownTimeout time.Duration
	livePath        string
	liveDSNParams   string
	storePath       string
	tickInterval    time.Duration
	maxRestoreSize  int64
	backup          domain.BackupConfig
}

// initConfig loads configuration from file and environment.
func initConfig(configPath string) (*viper.Viper, Config, error) {
	v := viper.New()
	if err := loadConfig(v, configPath); err != nil {
		return nil, Config{}, fmt.Errorf("failed to load config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return v, cfg, nil
}

// loadConfig loads configuration from file and sets defaults.
func loadConfig(v *viper.Viper, configPath string) error {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.data_dir", DefaultDataDir())
	v.SetDefault("server.shutdown_timeout", "10s")
	// Empty paths resolve under data_dir: app.db, snapkeep.db, backups/.
	v.SetDefault("database.path", "")
	v.SetDefault("database.dsn_params", "")
	v.SetDefault("store.path", "")
	v.SetDefault("backups.dir", "")
	v.SetDefault("backups.files_root", "")
	v.SetDefault("backups.timezone", "UTC")
	v.SetDefault("backups.max_job_duration", "30m")
	v.SetDefault("backups.max_restore_size", "512MB")
	v.SetDefault("scheduler.tick_interval", "30s")
	v.SetDefault("retention.sweep_interval", "1h")
	v.SetDefault("retention.include_manual", false)
	v.SetDefault("retention.manual_days", 30)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.enabled", false)
	v.SetDefault("logging.file.path", "")
	v.SetDefault("logging.file.max_size", 100)
	v.SetDefault("logging.file.max_backups", 3)
	v.SetDefault("logging.file.max_age", 28)
	v.SetDefault("logging.file.compress", true)

	ConfigureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("SNAPKEEP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return nil
}

// resolveSettings validates cfg and fills path defaults from the data dir.
func resolveSettings(cfg Config) (settings, error) {
	var errs []error
	s := settings{
		addr:            cfg.Server.Addr,
		shutdownTimeout: cfg.Server.ShutdownTimeout,
		liveDSNParams:   strings.TrimPrefix(cfg.Database.DSNParams, "?"),
		tickInterval:    cfg.Scheduler.TickInterval,
	}

	dataDir := expandHome(orDefault(cfg.Server.DataDir, DefaultDataDir()))
	s.livePath = expandHome(orDefault(cfg.Database.Path, filepath.Join(dataDir, "app.db")))
	s.storePath = expandHome(orDefault(cfg.Store.Path, filepath.Join(dataDir, "snapkeep.db")))
	if filepath.Clean(s.livePath) == filepath.Clean(s.storePath) {
		errs = append(errs, fmt.Errorf("store.path must differ from database.path (%s)", s.livePath))
	}

	loc, err := time.LoadLocation(orDefault(cfg.Backups.Timezone, "UTC"))
	if err != nil {
		errs = append(errs, fmt.Errorf("backups.timezone: %w", err))
	}

	if cfg.Backups.MaxJobDuration <= 0 {
		errs = append(errs, fmt.Errorf("backups.max_job_duration must be > 0"))
	}
	if s.tickInterval <= 0 {
		errs = append(errs, fmt.Errorf("scheduler.tick_interval must be > 0"))
	}
	if cfg.Retention.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("retention.sweep_interval must be > 0"))
	}
	if cfg.Retention.ManualDays < 0 {
		errs = append(errs, fmt.Errorf("retention.manual_days must be >= 0"))
	}
	if cfg.Retention.IncludeManual && cfg.Retention.ManualDays == 0 {
		errs = append(errs, fmt.Errorf("retention.manual_days must be > 0 when retention.include_manual is set"))
	}
	if s.shutdownTimeout <= 0 {
		s.shutdownTimeout = 10 * time.Second
	}

	size, err := humanize.ParseBytes(orDefault(cfg.Backups.MaxRestoreSize, "512MB"))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("backups.max_restore_size: %w", err))
	case size == 0:
		errs = append(errs, fmt.Errorf("backups.max_restore_size must be > 0"))
	default:
		s.maxRestoreSize = int64(size)
	}

	if err := errors.Join(errs...); err != nil {
		return settings{}, err
	}

	s.backup = domain.BackupConfig{
		StorageDir:     expandHome(orDefault(cfg.Backups.Dir, filepath.Join(dataDir, "backups"))),
		FilesRoot:      expandHome(cfg.Backups.FilesRoot),
		Location:       loc,
		MaxJobDuration: cfg.Backups.MaxJobDuration,
		Retention: domain.RetentionPolicy{
			SweepInterval: cfg.Retention.SweepInterval,
			IncludeManual: cfg.Retention.IncludeManual,
			ManualDays:    cfg.Retention.ManualDays,
		},
	}
	return s, nil
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

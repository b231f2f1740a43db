// Package config provides configuration management for streamvault using
// Viper. It supports configuration from files, environment variables, and
// defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8484
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultPollInterval     = 2 * time.Second
	defaultGraceTerminate   = 10 * time.Second
	defaultGraceRotate      = 5 * time.Second
	defaultGraceShutdown    = 15 * time.Second
	defaultRotationInterval = 24 * time.Hour
	defaultMinSegmentBytes  = 1024 * 1024 // 1MB

	defaultWorkerCount     = 2
	defaultMaxAttempts     = 3
	defaultRetryBase       = 30 * time.Second
	defaultTaskPollPeriod  = 5 * time.Second
	defaultEventDedupTTL   = 60 * time.Second
	defaultCaptureLogLines = 200
)

// defaultFilenameTemplate is the capture output layout under recordings_root.
const defaultFilenameTemplate = "{streamer}/{year}-{month}-{day}_{title}_{id}"

// Config holds all configuration for the application.
type Config struct {
	Server         ServerConfig         `mapstructure:"server"`
	Database       DatabaseConfig       `mapstructure:"database"`
	Storage        StorageConfig        `mapstructure:"storage"`
	Logging        LoggingConfig        `mapstructure:"logging"`
	Capture        CaptureConfig        `mapstructure:"capture"`
	FFmpeg         FFmpegConfig         `mapstructure:"ffmpeg"`
	Platform       PlatformConfig       `mapstructure:"platform"`
	Recorder       RecorderConfig       `mapstructure:"recorder"`
	PostProcessing PostProcessingConfig `mapstructure:"postprocessing"`
	Backup         BackupConfig         `mapstructure:"backup"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	// RecordingsRoot is where capture output lands, one subtree per channel.
	RecordingsRoot string `mapstructure:"recordings_root"`
	// TempDir holds in-flight post-processing output before atomic rename.
	TempDir string `mapstructure:"temp_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
}

// CaptureConfig holds the external capture tool configuration.
type CaptureConfig struct {
	// BinaryPath is the capture tool executable (e.g. streamlink).
	BinaryPath string `mapstructure:"binary_path"`
	// ExtraArgs are appended verbatim to every capture invocation.
	ExtraArgs []string `mapstructure:"extra_args"`
	// LogDir overrides the per-channel logs directory (empty = {recordings_root}/{login}/logs).
	LogDir string `mapstructure:"log_dir"`
}

// FFmpegConfig holds FFmpeg binary configuration.
type FFmpegConfig struct {
	BinaryPath string `mapstructure:"binary_path"` // Path to ffmpeg binary (empty = auto-detect)
	ProbePath  string `mapstructure:"probe_path"`  // Path to ffprobe binary (empty = auto-detect)
}

// PlatformConfig holds streaming platform API configuration.
type PlatformConfig struct {
	// OAuthToken is passed to the capture tool as an auth header when set.
	OAuthToken string `mapstructure:"oauth_token"`
	// ProxyURL routes capture traffic through a proxy when set.
	ProxyURL string `mapstructure:"proxy_url"`
}

// RecorderConfig holds recording lifecycle configuration.
type RecorderConfig struct {
	// PollInterval is how often monitors check subprocess liveness.
	PollInterval time.Duration `mapstructure:"poll_interval"`
	// GraceTerminate bounds an explicit stop's graceful shutdown.
	GraceTerminate time.Duration `mapstructure:"grace_terminate"`
	// GraceRotate bounds the terminate during segment rotation.
	GraceRotate time.Duration `mapstructure:"grace_rotate"`
	// GraceShutdown bounds service shutdown across all live captures.
	GraceShutdown time.Duration `mapstructure:"grace_shutdown"`
	// RotationInterval starts a new segment after this much capture time.
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	// RotationMaxBytes also rotates when a segment grows past this size
	// (0 = disabled). Supports human-readable values like "4GB".
	RotationMaxBytes ByteSize `mapstructure:"rotation_max_bytes"`
	// MinSegmentBytes discards smaller segments during merge.
	MinSegmentBytes ByteSize `mapstructure:"min_segment_bytes"`
	// FilenameTemplate is the global output path template.
	FilenameTemplate string `mapstructure:"filename_template"`
	// Quality is the global default capture quality.
	Quality string `mapstructure:"quality"`
	// Codecs is the global default codec preference list.
	Codecs string `mapstructure:"codecs"`
	// UseChapters enables chapter marker collection globally.
	UseChapters bool `mapstructure:"use_chapters"`
}

// PostProcessingConfig holds the durable task pipeline configuration.
type PostProcessingConfig struct {
	WorkerCount  int           `mapstructure:"worker_count"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	RetryBase    time.Duration `mapstructure:"retry_base"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// BackupConfig holds database backup configuration.
type BackupConfig struct {
	Directory string               `mapstructure:"directory"` // Backup storage location (empty = {storage.recordings_root}/backups)
	Schedule  BackupScheduleConfig `mapstructure:"schedule"`
}

// BackupScheduleConfig holds scheduled backup configuration.
type BackupScheduleConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Cron      string `mapstructure:"cron"`      // 6-field cron expression
	Retention int    `mapstructure:"retention"` // Number of backups to keep
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with STREAMVAULT_ and use underscores
// for nesting. Example: STREAMVAULT_SERVER_PORT=8484.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/streamvault")
		v.AddConfigPath("$HOME/.streamvault")
	}

	v.SetEnvPrefix("STREAMVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK, defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "streamvault.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.recordings_root", "./recordings")
	v.SetDefault("storage.temp_dir", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)

	// Capture defaults
	v.SetDefault("capture.binary_path", "streamlink")
	v.SetDefault("capture.extra_args", []string{})
	v.SetDefault("capture.log_dir", "")

	// FFmpeg defaults
	v.SetDefault("ffmpeg.binary_path", "")
	v.SetDefault("ffmpeg.probe_path", "")

	// Platform defaults
	v.SetDefault("platform.oauth_token", "")
	v.SetDefault("platform.proxy_url", "")

	// Recorder defaults
	v.SetDefault("recorder.poll_interval", defaultPollInterval)
	v.SetDefault("recorder.grace_terminate", defaultGraceTerminate)
	v.SetDefault("recorder.grace_rotate", defaultGraceRotate)
	v.SetDefault("recorder.grace_shutdown", defaultGraceShutdown)
	v.SetDefault("recorder.rotation_interval", defaultRotationInterval)
	v.SetDefault("recorder.rotation_max_bytes", 0)
	v.SetDefault("recorder.min_segment_bytes", defaultMinSegmentBytes)
	v.SetDefault("recorder.filename_template", defaultFilenameTemplate)
	v.SetDefault("recorder.quality", "best")
	v.SetDefault("recorder.codecs", "")
	v.SetDefault("recorder.use_chapters", true)

	// Post-processing defaults
	v.SetDefault("postprocessing.worker_count", defaultWorkerCount)
	v.SetDefault("postprocessing.max_attempts", defaultMaxAttempts)
	v.SetDefault("postprocessing.retry_base", defaultRetryBase)
	v.SetDefault("postprocessing.poll_interval", defaultTaskPollPeriod)

	// Backup defaults
	v.SetDefault("backup.directory", "")
	v.SetDefault("backup.schedule.enabled", true)
	v.SetDefault("backup.schedule.cron", "0 0 4 * * *") // Daily at 4 AM (6-field cron)
	v.SetDefault("backup.schedule.retention", 7)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	if c.Storage.RecordingsRoot == "" {
		return fmt.Errorf("storage.recordings_root is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Capture.BinaryPath == "" {
		return fmt.Errorf("capture.binary_path is required")
	}

	if c.Recorder.PollInterval < 100*time.Millisecond {
		return fmt.Errorf("recorder.poll_interval must be at least 100ms")
	}
	if c.Recorder.RotationInterval < time.Minute {
		return fmt.Errorf("recorder.rotation_interval must be at least 1m")
	}

	if c.PostProcessing.WorkerCount < 1 {
		return fmt.Errorf("postprocessing.worker_count must be at least 1")
	}
	if c.PostProcessing.MaxAttempts < 1 {
		return fmt.Errorf("postprocessing.max_attempts must be at least 1")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TempPath returns the staging directory for post-processing output.
// If TempDir is set, returns it directly; otherwise {RecordingsRoot}/.tmp.
func (c *StorageConfig) TempPath() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return fmt.Sprintf("%s/.tmp", c.RecordingsRoot)
}

// BackupPath returns the backup directory path.
// If Directory is set, returns it directly; otherwise {recordingsRoot}/backups.
func (c *BackupConfig) BackupPath(recordingsRoot string) string {
	if c.Directory != "" {
		return c.Directory
	}
	return fmt.Sprintf("%s/backups", recordingsRoot)
}

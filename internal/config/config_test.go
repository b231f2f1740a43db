package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8484},
		Database: DatabaseConfig{
			Driver:       "sqlite",
			DSN:          "test.db",
			MaxOpenConns: 25,
			MaxIdleConns: 10,
			LogLevel:     "warn",
		},
		Storage: StorageConfig{RecordingsRoot: "./recordings"},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Capture: CaptureConfig{BinaryPath: "streamlink"},
		Recorder: RecorderConfig{
			PollInterval:     2 * time.Second,
			GraceTerminate:   10 * time.Second,
			GraceRotate:      5 * time.Second,
			GraceShutdown:    15 * time.Second,
			RotationInterval: 24 * time.Hour,
			MinSegmentBytes:  1024 * 1024,
		},
		PostProcessing: PostProcessingConfig{
			WorkerCount: 2,
			MaxAttempts: 3,
			RetryBase:   30 * time.Second,
		},
		Backup: BackupConfig{
			Schedule: BackupScheduleConfig{Retention: 7},
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8484, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	// Database defaults
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "streamvault.db", cfg.Database.DSN)

	// Storage defaults
	assert.Equal(t, "./recordings", cfg.Storage.RecordingsRoot)

	// Capture defaults
	assert.Equal(t, "streamlink", cfg.Capture.BinaryPath)

	// Recorder defaults
	assert.Equal(t, 2*time.Second, cfg.Recorder.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Recorder.GraceTerminate)
	assert.Equal(t, 5*time.Second, cfg.Recorder.GraceRotate)
	assert.Equal(t, 15*time.Second, cfg.Recorder.GraceShutdown)
	assert.Equal(t, 24*time.Hour, cfg.Recorder.RotationInterval)
	assert.Equal(t, int64(1024*1024), cfg.Recorder.MinSegmentBytes.Bytes())
	assert.Equal(t, "best", cfg.Recorder.Quality)
	assert.True(t, cfg.Recorder.UseChapters)

	// Post-processing defaults
	assert.Equal(t, 2, cfg.PostProcessing.WorkerCount)
	assert.Equal(t, 3, cfg.PostProcessing.MaxAttempts)
	assert.Equal(t, 30*time.Second, cfg.PostProcessing.RetryBase)

	// Backup defaults
	assert.True(t, cfg.Backup.Schedule.Enabled)
	assert.Equal(t, 7, cfg.Backup.Schedule.Retention)
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  port: 9999
recorder:
  rotation_interval: 6h
  min_segment_bytes: 5MB
postprocessing:
  worker_count: 4
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.Port)
	assert.Equal(t, 6*time.Hour, cfg.Recorder.RotationInterval)
	assert.Equal(t, int64(5*1024*1024), cfg.Recorder.MinSegmentBytes.Bytes())
	assert.Equal(t, 4, cfg.PostProcessing.WorkerCount)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("STREAMVAULT_SERVER_PORT", "7070")
	t.Setenv("STREAMVAULT_CAPTURE_BINARY_PATH", "/usr/local/bin/streamlink")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "/usr/local/bin/streamlink", cfg.Capture.BinaryPath)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(c *Config) {}},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Server.Port = 0 },
			wantErr: "server.port",
		},
		{
			name:    "bad driver",
			mutate:  func(c *Config) { c.Database.Driver = "oracle" },
			wantErr: "database.driver",
		},
		{
			name:    "missing dsn",
			mutate:  func(c *Config) { c.Database.DSN = "" },
			wantErr: "database.dsn",
		},
		{
			name:    "missing recordings root",
			mutate:  func(c *Config) { c.Storage.RecordingsRoot = "" },
			wantErr: "storage.recordings_root",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "trace" },
			wantErr: "logging.level",
		},
		{
			name:    "missing capture binary",
			mutate:  func(c *Config) { c.Capture.BinaryPath = "" },
			wantErr: "capture.binary_path",
		},
		{
			name:    "poll interval too small",
			mutate:  func(c *Config) { c.Recorder.PollInterval = 10 * time.Millisecond },
			wantErr: "recorder.poll_interval",
		},
		{
			name:    "rotation interval too small",
			mutate:  func(c *Config) { c.Recorder.RotationInterval = time.Second },
			wantErr: "recorder.rotation_interval",
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.PostProcessing.WorkerCount = 0 },
			wantErr: "postprocessing.worker_count",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestServerConfig_Address(t *testing.T) {
	c := ServerConfig{Host: "127.0.0.1", Port: 8484}
	assert.Equal(t, "127.0.0.1:8484", c.Address())
}

func TestStorageConfig_TempPath(t *testing.T) {
	c := StorageConfig{RecordingsRoot: "/srv/rec"}
	assert.Equal(t, "/srv/rec/.tmp", c.TempPath())

	c.TempDir = "/var/tmp/sv"
	assert.Equal(t, "/var/tmp/sv", c.TempPath())
}

func TestBackupConfig_BackupPath(t *testing.T) {
	c := BackupConfig{}
	assert.Equal(t, "/srv/rec/backups", c.BackupPath("/srv/rec"))

	c.Directory = "/backups"
	assert.Equal(t, "/backups", c.BackupPath("/srv/rec"))
}

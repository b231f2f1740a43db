// Package service provides business logic above the repositories: database
// backups and their scheduling.
package service

import (
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/streamvault/streamvault/internal/config"
	"github.com/streamvault/streamvault/internal/observability"
	"github.com/streamvault/streamvault/internal/version"
	"github.com/streamvault/streamvault/pkg/compressio"
	"github.com/streamvault/streamvault/pkg/format"
)

const backupPrefix = "streamvault-backup-"

// BackupMetadata describes one backup on disk.
type BackupMetadata struct {
	Filename       string         `json:"filename"`
	FilePath       string         `json:"file_path"`
	CreatedAt      time.Time      `json:"created_at"`
	FileSize       int64          `json:"file_size"`
	Checksum       string         `json:"checksum"`
	AppVersion     string         `json:"app_version"`
	DatabaseSize   int64          `json:"database_size"`
	CompressedSize int64          `json:"compressed_size"`
	TableCounts    map[string]int `json:"table_counts,omitempty"`
}

// backupMetaFile is the companion .meta.json document written next to each
// backup archive.
type backupMetaFile struct {
	AppVersion     string         `json:"app_version"`
	DatabaseSize   int64          `json:"database_size"`
	CompressedSize int64          `json:"compressed_size"`
	Checksum       string         `json:"checksum"`
	CreatedAt      time.Time      `json:"created_at"`
	TableCounts    map[string]int `json:"table_counts,omitempty"`
}

// backupTables are the tables counted into backup metadata.
var backupTables = []string{
	"channels",
	"streams",
	"recordings",
	"stream_metadata",
	"stream_events",
	"post_processing_tasks",
}

// BackupService creates, lists, restores, and prunes database backups.
// Backups use SQLite's VACUUM INTO for a consistent snapshot, so the
// service requires the sqlite driver.
type BackupService struct {
	db         *gorm.DB
	driver     string
	cfg        config.BackupConfig
	storageDir string
	logger     *slog.Logger
}

// NewBackupService creates a new backup service.
func NewBackupService(db *gorm.DB, driver string, cfg config.BackupConfig, recordingsRoot string) *BackupService {
	return &BackupService{
		db:         db,
		driver:     driver,
		cfg:        cfg,
		storageDir: cfg.BackupPath(recordingsRoot),
		logger:     slog.Default(),
	}
}

// WithLogger sets the logger for the service.
func (s *BackupService) WithLogger(logger *slog.Logger) *BackupService {
	s.logger = observability.WithComponent(logger, "backup")
	return s
}

// BackupDirectory returns the backup storage directory path.
func (s *BackupService) BackupDirectory() string {
	return s.storageDir
}

// CreateBackup creates a full database backup.
func (s *BackupService) CreateBackup(ctx context.Context) (*BackupMetadata, error) {
	if s.driver != "sqlite" {
		return nil, fmt.Errorf("database backups require the sqlite driver, have %q", s.driver)
	}
	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	timestamp := time.Now().UTC()
	baseName := backupPrefix + timestamp.Format("2006-01-02T15-04-05.000")
	dbPath := filepath.Join(s.storageDir, baseName+".db")
	gzPath := filepath.Join(s.storageDir, baseName+".db.gz")
	metaPath := filepath.Join(s.storageDir, baseName+".meta.json")

	if _, err := os.Stat(gzPath); err == nil {
		return nil, fmt.Errorf("backup already exists: %s", filepath.Base(gzPath))
	}

	if err := s.db.WithContext(ctx).Exec("VACUUM INTO ?", dbPath).Error; err != nil {
		return nil, fmt.Errorf("vacuum into backup: %w", err)
	}

	dbInfo, err := os.Stat(dbPath)
	if err != nil {
		return nil, fmt.Errorf("stat backup db: %w", err)
	}
	uncompressedSize := dbInfo.Size()

	if err := s.compressFile(dbPath, gzPath); err != nil {
		os.Remove(dbPath)
		return nil, fmt.Errorf("compressing backup: %w", err)
	}
	os.Remove(dbPath)

	gzInfo, err := os.Stat(gzPath)
	if err != nil {
		return nil, fmt.Errorf("stat compressed backup: %w", err)
	}

	checksum, err := s.checksumFile(gzPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}

	counts := s.tableCounts(ctx)

	metaFile := &backupMetaFile{
		AppVersion:     version.Version,
		DatabaseSize:   uncompressedSize,
		CompressedSize: gzInfo.Size(),
		Checksum:       checksum,
		CreatedAt:      timestamp,
		TableCounts:    counts,
	}
	metaJSON, err := json.MarshalIndent(metaFile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		return nil, fmt.Errorf("writing metadata: %w", err)
	}

	meta := &BackupMetadata{
		Filename:       filepath.Base(gzPath),
		FilePath:       gzPath,
		CreatedAt:      timestamp,
		FileSize:       gzInfo.Size(),
		Checksum:       checksum,
		AppVersion:     version.Version,
		DatabaseSize:   uncompressedSize,
		CompressedSize: gzInfo.Size(),
		TableCounts:    counts,
	}

	s.logger.InfoContext(ctx, "backup created",
		slog.String("filename", meta.Filename),
		slog.String("size", format.Bytes(meta.FileSize)),
	)
	return meta, nil
}

// ListBackups returns all backups, newest first.
func (s *BackupService) ListBackups(ctx context.Context) ([]*BackupMetadata, error) {
	entries, err := os.ReadDir(s.storageDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []*BackupMetadata{}, nil
		}
		return nil, err
	}

	var backups []*BackupMetadata
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".db.gz") {
			continue
		}
		meta, err := s.loadMetadata(filepath.Join(s.storageDir, entry.Name()))
		if err != nil {
			s.logger.WarnContext(ctx, "loading backup metadata",
				slog.String("filename", entry.Name()),
				slog.Any("error", err))
			continue
		}
		backups = append(backups, meta)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

// DeleteBackup deletes a backup archive and its metadata file.
func (s *BackupService) DeleteBackup(ctx context.Context, filename string) error {
	if filepath.Base(filename) != filename {
		return fmt.Errorf("invalid filename")
	}

	backupPath := filepath.Join(s.storageDir, filename)
	metaPath := strings.TrimSuffix(backupPath, ".db.gz") + ".meta.json"

	if err := os.Remove(backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing backup file: %w", err)
	}
	if err := os.Remove(metaPath); err != nil && !os.IsNotExist(err) {
		s.logger.WarnContext(ctx, "removing metadata file",
			slog.String("path", metaPath),
			slog.Any("error", err))
	}

	s.logger.InfoContext(ctx, "backup deleted", slog.String("filename", filename))
	return nil
}

// RestoreBackup replaces the live database file with a backup. The caller
// must reopen database connections afterwards.
func (s *BackupService) RestoreBackup(ctx context.Context, filename string) error {
	if filepath.Base(filename) != filename {
		return fmt.Errorf("invalid filename")
	}
	backupPath := filepath.Join(s.storageDir, filename)
	if _, err := os.Stat(backupPath); err != nil {
		return fmt.Errorf("backup not found: %w", err)
	}

	meta, err := s.loadMetadata(backupPath)
	if err != nil {
		return fmt.Errorf("loading backup metadata: %w", err)
	}
	if meta.Checksum != "" {
		checksum, err := s.checksumFile(backupPath)
		if err != nil {
			return fmt.Errorf("calculating checksum: %w", err)
		}
		if checksum != meta.Checksum {
			return fmt.Errorf("checksum mismatch, backup may be corrupted")
		}
	}

	// Snapshot current state so a bad restore can be rolled back by hand.
	preRestore, err := s.CreateBackup(ctx)
	if err != nil {
		return fmt.Errorf("creating pre-restore backup: %w", err)
	}

	tempDB, err := os.CreateTemp(s.storageDir, "restore-*.db")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempDB.Name()
	tempDB.Close()

	if err := s.decompressFile(backupPath, tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("decompressing backup: %w", err)
	}
	if err := s.validateDatabase(tempPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("validating restored database: %w", err)
	}

	currentPath := s.databasePath()
	if currentPath == "" {
		os.Remove(tempPath)
		return fmt.Errorf("could not determine current database path")
	}

	oldPath := currentPath + ".old"
	os.Remove(oldPath)
	if err := os.Rename(currentPath, oldPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("backing up current database: %w", err)
	}
	if err := os.Rename(tempPath, currentPath); err != nil {
		os.Rename(oldPath, currentPath)
		return fmt.Errorf("installing restored database: %w", err)
	}
	os.Remove(oldPath)

	s.logger.InfoContext(ctx, "database restored",
		slog.String("from_backup", filename),
		slog.String("pre_restore_backup", preRestore.Filename))
	return nil
}

// ImportBackup stores an uploaded backup archive. The upload may be
// compressed with gzip, bzip2, xz, or brotli; it is recompressed to the
// canonical .db.gz layout.
func (s *BackupService) ImportBackup(ctx context.Context, reader io.Reader, originalFilename string) (*BackupMetadata, error) {
	if err := os.MkdirAll(s.storageDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}
	if filepath.Base(originalFilename) != originalFilename {
		return nil, fmt.Errorf("invalid filename: must not contain path separators")
	}

	// Brotli carries no magic bytes, so the extension decides; everything
	// else is detected from the stream itself.
	var (
		decompressed io.Reader
		err          error
	)
	if compressio.FormatFromFilename(originalFilename) == compressio.FormatBrotli {
		decompressed, err = compressio.NewReaderFormat(reader, compressio.FormatBrotli)
	} else {
		decompressed, err = compressio.NewReader(reader)
	}
	if err != nil {
		return nil, fmt.Errorf("opening uploaded archive: %w", err)
	}

	tempFile, err := os.CreateTemp(s.storageDir, "upload-*.db")
	if err != nil {
		return nil, fmt.Errorf("creating temp file: %w", err)
	}
	tempPath := tempFile.Name()
	if _, err := io.Copy(tempFile, decompressed); err != nil {
		tempFile.Close()
		os.Remove(tempPath)
		return nil, fmt.Errorf("writing uploaded file: %w", err)
	}
	tempFile.Close()
	defer os.Remove(tempPath)

	if err := s.validateDatabase(tempPath); err != nil {
		return nil, fmt.Errorf("validating uploaded database: %w", err)
	}

	dbInfo, err := os.Stat(tempPath)
	if err != nil {
		return nil, fmt.Errorf("stat uploaded database: %w", err)
	}

	timestamp := time.Now().UTC()
	baseName := backupPrefix + timestamp.Format("2006-01-02T15-04-05.000")
	gzPath := filepath.Join(s.storageDir, baseName+".db.gz")
	metaPath := filepath.Join(s.storageDir, baseName+".meta.json")

	if err := s.compressFile(tempPath, gzPath); err != nil {
		return nil, fmt.Errorf("compressing imported backup: %w", err)
	}

	gzInfo, err := os.Stat(gzPath)
	if err != nil {
		return nil, fmt.Errorf("stat imported backup: %w", err)
	}
	checksum, err := s.checksumFile(gzPath)
	if err != nil {
		return nil, fmt.Errorf("calculating checksum: %w", err)
	}

	metaFile := &backupMetaFile{
		AppVersion:     "imported",
		DatabaseSize:   dbInfo.Size(),
		CompressedSize: gzInfo.Size(),
		Checksum:       checksum,
		CreatedAt:      timestamp,
	}
	metaJSON, err := json.MarshalIndent(metaFile, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling metadata: %w", err)
	}
	if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
		s.logger.WarnContext(ctx, "writing metadata file", slog.Any("error", err))
	}

	meta := &BackupMetadata{
		Filename:       filepath.Base(gzPath),
		FilePath:       gzPath,
		CreatedAt:      timestamp,
		FileSize:       gzInfo.Size(),
		Checksum:       checksum,
		AppVersion:     metaFile.AppVersion,
		DatabaseSize:   dbInfo.Size(),
		CompressedSize: gzInfo.Size(),
	}

	s.logger.InfoContext(ctx, "backup imported",
		slog.String("original", originalFilename),
		slog.String("filename", meta.Filename),
		slog.String("size", format.Bytes(meta.FileSize)))
	return meta, nil
}

// CleanupOldBackups removes backups exceeding the retention limit. Returns
// the number deleted.
func (s *BackupService) CleanupOldBackups(ctx context.Context) (int, error) {
	retention := s.cfg.Schedule.Retention
	if retention <= 0 {
		return 0, nil
	}

	backups, err := s.ListBackups(ctx)
	if err != nil {
		return 0, err
	}
	if len(backups) <= retention {
		return 0, nil
	}

	deleted := 0
	for _, backup := range backups[retention:] {
		if err := s.DeleteBackup(ctx, backup.Filename); err != nil {
			s.logger.WarnContext(ctx, "deleting old backup",
				slog.String("filename", backup.Filename),
				slog.Any("error", err))
			continue
		}
		deleted++
	}

	if deleted > 0 {
		s.logger.InfoContext(ctx, "cleaned up old backups", slog.Int("deleted", deleted))
	}
	return deleted, nil
}

func (s *BackupService) compressFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	gzWriter := gzip.NewWriter(dstFile)
	defer gzWriter.Close()

	_, err = io.Copy(gzWriter, srcFile)
	return err
}

func (s *BackupService) decompressFile(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	reader, err := compressio.NewReader(srcFile)
	if err != nil {
		return err
	}

	dstFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer dstFile.Close()

	_, err = io.Copy(dstFile, reader)
	return err
}

func (s *BackupService) checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return "sha256:" + hex.EncodeToString(h.Sum(nil)), nil
}

func (s *BackupService) tableCounts(ctx context.Context) map[string]int {
	counts := make(map[string]int, len(backupTables))
	for _, table := range backupTables {
		var count int64
		if err := s.db.WithContext(ctx).Table(table).Count(&count).Error; err != nil {
			continue
		}
		counts[table] = int(count)
	}
	return counts
}

func (s *BackupService) loadMetadata(backupPath string) (*BackupMetadata, error) {
	info, err := os.Stat(backupPath)
	if err != nil {
		return nil, err
	}

	metaPath := strings.TrimSuffix(backupPath, ".db.gz") + ".meta.json"
	var metaFile backupMetaFile
	if metaData, err := os.ReadFile(metaPath); err == nil {
		if err := json.Unmarshal(metaData, &metaFile); err != nil {
			s.logger.Warn("parsing metadata file",
				slog.String("path", metaPath),
				slog.Any("error", err))
		}
	}

	createdAt := metaFile.CreatedAt
	if createdAt.IsZero() {
		createdAt = parseBackupTimestamp(filepath.Base(backupPath))
		if createdAt.IsZero() {
			createdAt = info.ModTime()
		}
	}

	return &BackupMetadata{
		Filename:       filepath.Base(backupPath),
		FilePath:       backupPath,
		CreatedAt:      createdAt,
		FileSize:       info.Size(),
		Checksum:       metaFile.Checksum,
		AppVersion:     metaFile.AppVersion,
		DatabaseSize:   metaFile.DatabaseSize,
		CompressedSize: metaFile.CompressedSize,
		TableCounts:    metaFile.TableCounts,
	}, nil
}

// validateDatabase opens the file as SQLite and runs an integrity check.
func (s *BackupService) validateDatabase(dbPath string) error {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("getting sql.DB: %w", err)
	}
	defer sqlDB.Close()

	var result string
	if err := db.Raw("PRAGMA integrity_check").Scan(&result).Error; err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("database integrity check failed: %s", result)
	}
	return nil
}

// databasePath asks SQLite for the path of the main database file.
func (s *BackupService) databasePath() string {
	sqlDB, err := s.db.DB()
	if err != nil {
		return ""
	}

	var (
		seq    int
		name   string
		dbPath string
	)
	row := sqlDB.QueryRow("PRAGMA database_list")
	if err := row.Scan(&seq, &name, &dbPath); err != nil {
		return ""
	}
	return dbPath
}

var backupTimestampRe = regexp.MustCompile(
	regexp.QuoteMeta(backupPrefix) + `(\d{4}-\d{2}-\d{2}T\d{2}-\d{2}-\d{2}\.\d{3})\.db\.gz`)

// parseBackupTimestamp extracts the creation time from a backup filename.
func parseBackupTimestamp(filename string) time.Time {
	matches := backupTimestampRe.FindStringSubmatch(filename)
	if len(matches) != 2 {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02T15-04-05.000", matches[1])
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// Package reliability provides tiered database backups. The ledger holds
// the only copy of assembled sheets and the audit trail, so it gets an
// hourly tier on top of the daily full backup.
package reliability

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/meridian/decisiondesk/internal/database"
)

// BackupService manages hourly and daily backups of the desk and ledger
// databases
type BackupService struct {
	databases map[string]*database.DB
	backupDir string
	log       zerolog.Logger
}

// NewBackupService creates a backup service over the named databases
func NewBackupService(databases map[string]*database.DB, backupDir string, log zerolog.Logger) *BackupService {
	return &BackupService{
		databases: databases,
		backupDir: backupDir,
		log:       log.With().Str("service", "backup").Logger(),
	}
}

// HourlyBackup backs up the ledger only. Keeps the last 24 hours.
func (s *BackupService) HourlyBackup() error {
	start := time.Now()

	hourlyDir := filepath.Join(s.backupDir, "hourly")
	if err := os.MkdirAll(hourlyDir, 0755); err != nil {
		return fmt.Errorf("failed to create hourly backup directory: %w", err)
	}

	timestamp := time.Now().Format("2006-01-02_15")
	backupPath := filepath.Join(hourlyDir, fmt.Sprintf("ledger_%s.db", timestamp))

	if err := s.backupDatabase("ledger", backupPath); err != nil {
		return fmt.Errorf("failed to backup ledger.db: %w", err)
	}
	if err := s.verifyBackup(backupPath); err != nil {
		os.Remove(backupPath)
		return fmt.Errorf("backup verification failed: %w", err)
	}

	if err := s.rotateHourlyBackups(hourlyDir); err != nil {
		s.log.Error().Err(err).Msg("Failed to rotate hourly backups")
	}

	s.log.Info().
		Dur("elapsed", time.Since(start)).
		Str("backup_path", backupPath).
		Msg("Hourly backup completed")
	return nil
}

// DailyBackup backs up every registered database. Keeps the last 30 days.
func (s *BackupService) DailyBackup() error {
	start := time.Now()

	date := time.Now().Format("2006-01-02")
	dailyDir := filepath.Join(s.backupDir, "daily", date)
	if err := os.MkdirAll(dailyDir, 0755); err != nil {
		return fmt.Errorf("failed to create daily backup directory: %w", err)
	}

	for name := range s.databases {
		backupPath := filepath.Join(dailyDir, name+".db")

		if err := s.backupDatabase(name, backupPath); err != nil {
			s.log.Error().Str("database", name).Err(err).Msg("Failed to backup database")
			continue
		}
		if err := s.verifyBackup(backupPath); err != nil {
			s.log.Error().Str("database", name).Err(err).Msg("Backup verification failed")
			os.Remove(backupPath)
		}
	}

	if err := s.rotateDailyBackups(); err != nil {
		s.log.Error().Err(err).Msg("Failed to rotate daily backups")
	}

	s.log.Info().
		Dur("elapsed", time.Since(start)).
		Str("backup_dir", dailyDir).
		Msg("Daily backup completed")
	return nil
}

// backupDatabase copies a single database with SQLite's VACUUM INTO, which
// produces an atomic copy without WAL files
func (s *BackupService) backupDatabase(name, backupPath string) error {
	db, ok := s.databases[name]
	if !ok {
		return fmt.Errorf("database %s not registered", name)
	}

	if _, err := db.Conn().Exec(fmt.Sprintf("VACUUM INTO '%s'", backupPath)); err != nil {
		return fmt.Errorf("VACUUM INTO failed: %w", err)
	}

	info, err := os.Stat(backupPath)
	if err != nil {
		return fmt.Errorf("failed to stat backup: %w", err)
	}
	s.log.Debug().
		Str("database", name).
		Float64("size_mb", float64(info.Size())/1024/1024).
		Msg("Backup created")
	return nil
}

// verifyBackup opens the copy and runs an integrity check before it counts
func (s *BackupService) verifyBackup(backupPath string) error {
	backupDB, err := sql.Open("sqlite", backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup: %w", err)
	}
	defer backupDB.Close()

	var result string
	if err := backupDB.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check query failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check failed: %s", result)
	}
	return nil
}

func (s *BackupService) rotateHourlyBackups(hourlyDir string) error {
	cutoff := time.Now().Add(-24 * time.Hour)

	entries, err := os.ReadDir(hourlyDir)
	if err != nil {
		return fmt.Errorf("failed to read hourly backup directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			path := filepath.Join(hourlyDir, entry.Name())
			if err := os.Remove(path); err != nil {
				s.log.Warn().Str("path", path).Err(err).Msg("Failed to delete old hourly backup")
			}
		}
	}
	return nil
}

func (s *BackupService) rotateDailyBackups() error {
	dailyDir := filepath.Join(s.backupDir, "daily")
	cutoff := time.Now().AddDate(0, 0, -30)

	entries, err := os.ReadDir(dailyDir)
	if err != nil {
		return fmt.Errorf("failed to read daily backup directory: %w", err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dirDate, err := time.Parse("2006-01-02", entry.Name())
		if err != nil {
			s.log.Warn().Str("dir", entry.Name()).Msg("Failed to parse date from directory name")
			continue
		}
		if dirDate.Before(cutoff) {
			path := filepath.Join(dailyDir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				s.log.Warn().Str("path", path).Err(err).Msg("Failed to delete old daily backup")
			}
		}
	}
	return nil
}

// FindMostRecentBackup returns the newest backup of the named database, or
// an empty string if none exists. Hourly backups win for the ledger.
func (s *BackupService) FindMostRecentBackup(name string) string {
	if name == "ledger" {
		if path := s.newestMatch(filepath.Join(s.backupDir, "hourly"), "ledger_*.db"); path != "" {
			return path
		}
	}
	return s.newestMatch(filepath.Join(s.backupDir, "daily"), name+".db")
}

func (s *BackupService) newestMatch(baseDir, pattern string) string {
	var newest string
	var newestTime time.Time

	_ = filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if ok, _ := filepath.Match(pattern, filepath.Base(path)); !ok {
			return nil
		}
		if info.ModTime().After(newestTime) {
			newest = path
			newestTime = info.ModTime()
		}
		return nil
	})
	return newest
}

// HourlyBackupJob wraps BackupService.HourlyBackup for the scheduler
type HourlyBackupJob struct {
	service *BackupService
}

// NewHourlyBackupJob creates the hourly ledger backup job
func NewHourlyBackupJob(service *BackupService) *HourlyBackupJob {
	return &HourlyBackupJob{service: service}
}

func (j *HourlyBackupJob) Run() error { return j.service.HourlyBackup() }

// Name returns the job name
func (j *HourlyBackupJob) Name() string { return "hourly_backup" }

// DailyBackupJob wraps BackupService.DailyBackup for the scheduler
type DailyBackupJob struct {
	service *BackupService
}

// NewDailyBackupJob creates the daily full backup job
func NewDailyBackupJob(service *BackupService) *DailyBackupJob {
	return &DailyBackupJob{service: service}
}

func (j *DailyBackupJob) Run() error { return j.service.DailyBackup() }

// Name returns the job name
func (j *DailyBackupJob) Name() string { return "daily_backup" }

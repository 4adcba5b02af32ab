package reliability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/meridian/decisiondesk/internal/database"
	"github.com/meridian/decisiondesk/pkg/logger"
)

func setupDatabases(t *testing.T, dataDir string) map[string]*database.DB {
	t.Helper()
	require.NoError(t, os.MkdirAll(dataDir, 0755))

	dbs := make(map[string]*database.DB)
	for name, profile := range map[string]database.Profile{
		"desk":   database.ProfileStandard,
		"ledger": database.ProfileLedger,
	} {
		db, err := database.New(database.Config{
			Path:    filepath.Join(dataDir, name+".db"),
			Profile: profile,
			Name:    name,
		})
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })

		_, err = db.Conn().Exec(`CREATE TABLE marker (id INTEGER PRIMARY KEY, note TEXT)`)
		require.NoError(t, err)
		_, err = db.Conn().Exec(`INSERT INTO marker (note) VALUES (?)`, name)
		require.NoError(t, err)

		dbs[name] = db
	}
	return dbs
}

func TestHourlyBackupCopiesLedgerOnly(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	tempDir := t.TempDir()
	dbs := setupDatabases(t, filepath.Join(tempDir, "data"))
	backupDir := filepath.Join(tempDir, "backups")

	svc := NewBackupService(dbs, backupDir, log)
	require.NoError(t, svc.HourlyBackup())

	entries, err := os.ReadDir(filepath.Join(backupDir, "hourly"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0].Name(), "ledger_")

	// The copy passes verification, so it must open and hold the data
	path := svc.FindMostRecentBackup("ledger")
	require.NotEmpty(t, path)
}

func TestDailyBackupCopiesAllDatabases(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	tempDir := t.TempDir()
	dbs := setupDatabases(t, filepath.Join(tempDir, "data"))
	backupDir := filepath.Join(tempDir, "backups")

	svc := NewBackupService(dbs, backupDir, log)
	require.NoError(t, svc.DailyBackup())

	dailyRoot := filepath.Join(backupDir, "daily")
	days, err := os.ReadDir(dailyRoot)
	require.NoError(t, err)
	require.Len(t, days, 1)

	files, err := os.ReadDir(filepath.Join(dailyRoot, days[0].Name()))
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name())
	}
	assert.ElementsMatch(t, []string{"desk.db", "ledger.db"}, names)
}

func TestFindMostRecentBackupPrefersHourlyForLedger(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	tempDir := t.TempDir()
	dbs := setupDatabases(t, filepath.Join(tempDir, "data"))
	backupDir := filepath.Join(tempDir, "backups")

	svc := NewBackupService(dbs, backupDir, log)
	require.NoError(t, svc.DailyBackup())
	require.NoError(t, svc.HourlyBackup())

	path := svc.FindMostRecentBackup("ledger")
	assert.Contains(t, path, string(filepath.Separator)+"hourly"+string(filepath.Separator))

	path = svc.FindMostRecentBackup("desk")
	assert.Contains(t, path, string(filepath.Separator)+"daily"+string(filepath.Separator))
}

func TestFindMostRecentBackupEmptyWhenNoneExist(t *testing.T) {
	log := logger.New(logger.Config{Level: "error"})
	svc := NewBackupService(nil, t.TempDir(), log)
	assert.Empty(t, svc.FindMostRecentBackup("ledger"))
}

package reliability

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/stocksim/internal/database"
	"github.com/aristath/stocksim/internal/events"
	testingpkg "github.com/aristath/stocksim/internal/testing"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu         sync.Mutex
	objects    map[string][]byte
	failDelete map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, failDelete: map[string]bool{}}
}

func (m *memoryStore) Upload(_ context.Context, key string, body io.Reader) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ObjectInfo
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			out = append(out, ObjectInfo{Key: key, SizeBytes: int64(len(data))})
		}
	}
	return out, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete[key] {
		return errors.New("access denied")
	}
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func setupBackup(t *testing.T, store ObjectStore, retentionDays int, manager *events.Manager) *BackupService {
	t.Helper()
	marketDB, cleanupMarket := testingpkg.NewTestDB(t, "market")
	t.Cleanup(cleanupMarket)
	ledgerDB, cleanupLedger := testingpkg.NewTestDB(t, "ledger")
	t.Cleanup(cleanupLedger)

	s := NewBackupService(store, []*database.DB{marketDB, ledgerDB}, t.TempDir(), "/stocksim/", retentionDays, manager, zerolog.Nop())
	s.now = func() time.Time { return time.Date(2024, 3, 10, 3, 0, 0, 0, time.UTC) }
	return s
}

func readArchive(t *testing.T, data []byte) map[string][]byte {
	t.Helper()
	gz, err := gzip.NewReader(bytes.NewReader(data))
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	files := map[string][]byte{}
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		body, err := io.ReadAll(tr)
		require.NoError(t, err)
		files[header.Name] = body
	}
	return files
}

func TestBackupService_Backup(t *testing.T) {
	store := newMemoryStore()
	bus := events.NewBus(zerolog.Nop())
	var received []*events.Event
	unsubscribe := bus.Subscribe(events.BackupCompleted, func(e *events.Event) {
		received = append(received, e)
	})
	defer unsubscribe()

	s := setupBackup(t, store, 30, events.NewManager(bus, zerolog.Nop()))

	result, err := s.Backup(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "stocksim/stocksim-backup-2024-03-10-030000.tar.gz", result.Key)
	assert.Equal(t, []string{result.Key}, store.keys())
	assert.Greater(t, result.SizeBytes, int64(0))
	require.Len(t, result.Databases, 2)
	assert.Equal(t, "market", result.Databases[0].Name)
	assert.True(t, strings.HasPrefix(result.Databases[0].Checksum, "sha256:"))

	files := readArchive(t, store.objects[result.Key])
	assert.Contains(t, files, "market.db")
	assert.Contains(t, files, "ledger.db")
	require.Contains(t, files, metadataFile)

	var metadata BackupMetadata
	require.NoError(t, json.Unmarshal(files[metadataFile], &metadata))
	assert.Len(t, metadata.Databases, 2)
	assert.Equal(t, int64(len(files["ledger.db"])), metadata.Databases[1].SizeBytes)

	require.Len(t, received, 1)
	assert.Equal(t, result.Key, received[0].Data["key"])
}

func TestBackupService_RotateOldBackups(t *testing.T) {
	store := newMemoryStore()
	s := setupBackup(t, store, 7, nil)

	for _, stamp := range []string{
		"2024-03-09-030000", // within retention
		"2024-02-01-030000",
		"2024-01-15-030000",
		"2024-01-01-030000",
		"2023-12-01-030000",
	} {
		store.objects["stocksim/stocksim-backup-"+stamp+".tar.gz"] = []byte("x")
	}
	store.objects["stocksim/notes.txt"] = []byte("keep")
	store.failDelete["stocksim/stocksim-backup-2024-01-01-030000.tar.gz"] = true

	deleted, err := s.RotateOldBackups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)
	assert.Equal(t, []string{
		"stocksim/notes.txt",
		"stocksim/stocksim-backup-2024-01-01-030000.tar.gz",
		"stocksim/stocksim-backup-2024-01-15-030000.tar.gz",
		"stocksim/stocksim-backup-2024-02-01-030000.tar.gz",
		"stocksim/stocksim-backup-2024-03-09-030000.tar.gz",
	}, store.keys())
}

func TestBackupService_RotationKeepsMinimum(t *testing.T) {
	store := newMemoryStore()
	s := setupBackup(t, store, 1, nil)
	for _, stamp := range []string{"2020-01-01-000000", "2020-01-02-000000", "2020-01-03-000000"} {
		store.objects["stocksim/stocksim-backup-"+stamp+".tar.gz"] = []byte("x")
	}

	deleted, err := s.RotateOldBackups(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
	assert.Len(t, store.keys(), 3)
}

func TestBackupService_ListBackupsSkipsForeignKeys(t *testing.T) {
	store := newMemoryStore()
	s := setupBackup(t, store, 0, nil)
	store.objects["stocksim/stocksim-backup-2024-03-01-120000.tar.gz"] = []byte("abc")
	store.objects["stocksim/stocksim-backup-garbage.tar.gz"] = []byte("x")

	backups, err := s.ListBackups(context.Background())
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, int64(3), backups[0].SizeBytes)
	assert.Equal(t, int64(9*24-9), backups[0].AgeHours)

	deleted, err := s.RotateOldBackups(context.Background())
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

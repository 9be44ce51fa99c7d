package backup

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/mbecker/billminder/internal/config"
	"github.com/mbecker/billminder/internal/database"
	"github.com/mbecker/billminder/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu      sync.Mutex
	objects map[string][]byte
	putErr  error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if m.putErr != nil {
		return nil, m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, &s3NotFound{}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (m *mockS3Client) ListObjectsV2(_ context.Context, _ *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := &s3.ListObjectsV2Output{}
	for key, data := range m.objects {
		out.Contents = append(out.Contents, types.Object{
			Key:  aws.String(key),
			Size: aws.Int64(int64(len(data))),
		})
	}
	return out, nil
}

func (m *mockS3Client) keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		keys = append(keys, k)
	}
	return keys
}

type s3NotFound struct{}

func (e *s3NotFound) Error() string { return "NoSuchKey" }

func setupManager(t *testing.T) (*Manager, *mockS3Client, *store.SettingsStore) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	settings := store.NewSettingsStore(db)
	cfg := config.BackupConfig{
		Bucket:     "test-bucket",
		AccessKey:  "key",
		SecretKey:  "secret",
		Passphrase: "correct horse",
		Retention:  14,
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := NewManager(cfg, dbPath, db, settings, logger)

	mock := newMockS3()
	m.client = mock
	return m, mock, settings
}

func TestManagerDisabledWithoutConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	m := NewManager(config.BackupConfig{}, "", nil, nil, logger)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}
	if m.Enabled() {
		t.Error("manager reports enabled without credentials")
	}
	if _, err := m.RunNow(context.Background()); err == nil {
		t.Error("expected error running a disabled manager")
	}

	// Credentials without a passphrase must also stay disabled.
	m2 := NewManager(config.BackupConfig{
		Bucket: "b", AccessKey: "k", SecretKey: "s",
	}, "", nil, nil, logger)
	if m2.Enabled() {
		t.Error("manager enabled without a passphrase")
	}
}

func TestRunNowUploadsEncryptedSnapshot(t *testing.T) {
	m, mock, settings := setupManager(t)

	key, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run now: %v", err)
	}

	mock.mu.Lock()
	data, ok := mock.objects[key]
	mock.mu.Unlock()
	if !ok {
		t.Fatalf("no object stored under %q", key)
	}
	if len(data) == 0 {
		t.Fatal("stored object is empty")
	}

	// The snapshot must decrypt back to a readable SQLite file.
	dir := t.TempDir()
	enc := filepath.Join(dir, "snap.enc")
	dec := filepath.Join(dir, "snap.db")
	if err := os.WriteFile(enc, data, 0600); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}
	if err := DecryptFile(enc, dec, "correct horse"); err != nil {
		t.Fatalf("decrypt snapshot: %v", err)
	}
	header := make([]byte, 16)
	f, err := os.Open(dec)
	if err != nil {
		t.Fatalf("open decrypted: %v", err)
	}
	defer f.Close()
	if _, err := io.ReadFull(f, header); err != nil {
		t.Fatalf("read header: %v", err)
	}
	if string(header[:15]) != "SQLite format 3" {
		t.Errorf("decrypted file is not a SQLite database: %q", header)
	}

	lastRun, err := settings.Get("backup_last_run")
	if err != nil {
		t.Fatalf("get last run: %v", err)
	}
	if lastRun == "" {
		t.Error("last run not recorded")
	}
	if m.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m.Status().State, StateIdle)
	}
	if m.Status().LastBackup == nil {
		t.Error("status missing last backup time")
	}
}

func TestRunNowRecordsError(t *testing.T) {
	m, mock, settings := setupManager(t)
	mock.putErr = &s3NotFound{}

	if _, err := m.RunNow(context.Background()); err == nil {
		t.Fatal("expected upload failure")
	}
	if m.Status().State != StateError {
		t.Errorf("state = %q, want %q", m.Status().State, StateError)
	}
	lastErr, err := settings.Get("backup_last_error")
	if err != nil {
		t.Fatalf("get last error: %v", err)
	}
	if lastErr == "" {
		t.Error("error not recorded in settings")
	}
}

func TestRunNowPrunesOldSnapshots(t *testing.T) {
	m, mock, _ := setupManager(t)

	oldKey := keyPrefix + "billminder-" + time.Now().UTC().AddDate(0, 0, -30).Format(timeLayout) + ".db.enc"
	freshKey := keyPrefix + "billminder-" + time.Now().UTC().AddDate(0, 0, -2).Format(timeLayout) + ".db.enc"
	mock.objects[oldKey] = []byte("old")
	mock.objects[freshKey] = []byte("fresh")

	if _, err := m.RunNow(context.Background()); err != nil {
		t.Fatalf("run now: %v", err)
	}

	keys := mock.keys()
	for _, k := range keys {
		if k == oldKey {
			t.Errorf("snapshot %q survived retention pruning", oldKey)
		}
	}
	found := false
	for _, k := range keys {
		if k == freshKey {
			found = true
		}
	}
	if !found {
		t.Errorf("snapshot %q inside the retention window was deleted", freshKey)
	}
}

func TestListNewestFirst(t *testing.T) {
	m, mock, _ := setupManager(t)

	older := keyPrefix + "billminder-" + time.Now().UTC().AddDate(0, 0, -3).Format(timeLayout) + ".db.enc"
	newer := keyPrefix + "billminder-" + time.Now().UTC().AddDate(0, 0, -1).Format(timeLayout) + ".db.enc"
	mock.objects[older] = []byte("a")
	mock.objects[newer] = []byte("bb")

	snapshots, err := m.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snapshots) != 2 {
		t.Fatalf("snapshots = %d, want 2", len(snapshots))
	}
	if snapshots[0].Key != newer {
		t.Errorf("first snapshot = %q, want newest %q", snapshots[0].Key, newer)
	}
	if snapshots[1].Size != 1 {
		t.Errorf("older snapshot size = %d, want 1", snapshots[1].Size)
	}
}

func TestDownloadRejectsForeignKeys(t *testing.T) {
	m, _, _ := setupManager(t)
	if _, _, err := m.Download(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatal("expected rejection of a key outside the backup prefix")
	}
}

func TestRestoreReplacesDatabase(t *testing.T) {
	m, _, settings := setupManager(t)
	exited := make(chan int, 1)
	m.exit = func(code int) { exited <- code }

	if err := settings.Set("marker", "before"); err != nil {
		t.Fatalf("set marker: %v", err)
	}
	key, err := m.RunNow(context.Background())
	if err != nil {
		t.Fatalf("run now: %v", err)
	}
	if err := settings.Set("marker", "after"); err != nil {
		t.Fatalf("set marker: %v", err)
	}

	if err := m.Restore(context.Background(), key); err != nil {
		t.Fatalf("restore: %v", err)
	}

	// The live file is back at its snapshot state.
	restored, err := sql.Open("sqlite", m.dbPath)
	if err != nil {
		t.Fatalf("open restored db: %v", err)
	}
	defer restored.Close()
	var marker string
	if err := restored.QueryRow(`SELECT value FROM settings WHERE key = 'marker'`).Scan(&marker); err != nil {
		t.Fatalf("read marker: %v", err)
	}
	if marker != "before" {
		t.Errorf("marker = %q, want snapshot value %q", marker, "before")
	}

	// A successful restore schedules a process exit for the restart.
	select {
	case code := <-exited:
		if code != 0 {
			t.Errorf("exit code = %d, want 0", code)
		}
	case <-time.After(3 * time.Second):
		t.Error("restore did not schedule an exit")
	}
}

func TestRestoreRejectsUnknownKey(t *testing.T) {
	m, _, _ := setupManager(t)
	m.exit = func(int) { t.Error("exit called for a failed restore") }

	if err := m.Restore(context.Background(), "../../etc/passwd"); err == nil {
		t.Fatal("expected rejection of a key outside the backup prefix")
	}
	missing := keyPrefix + "billminder-" + time.Now().UTC().Format(timeLayout) + ".db.enc"
	if err := m.Restore(context.Background(), missing); err == nil {
		t.Fatal("expected error for a key not in storage")
	}
}

func TestManagerStopSafety(t *testing.T) {
	m, _, _ := setupManager(t)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	m.Stop()

	// Stop again should not panic or block.
	m.Stop()
}

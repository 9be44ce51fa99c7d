// Package backup snapshots the SQLite database, encrypts the copy, and
// uploads it to S3-compatible storage on a daily schedule.
package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mbecker/billminder/internal/config"
	"github.com/mbecker/billminder/internal/store"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opts ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const (
	keyPrefix  = "backups/"
	timeLayout = "2006-01-02T150405Z"

	lastRunKey   = "backup_last_run"
	lastErrorKey = "backup_last_error"
)

// State represents the backup manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status is the snapshot of the manager reported to the admin API.
type Status struct {
	State      State      `json:"state"`
	LastBackup *time.Time `json:"last_backup,omitempty"`
	Error      string     `json:"error,omitempty"`
	InProgress bool       `json:"in_progress"`
}

// Snapshot describes one stored backup object.
type Snapshot struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager runs the snapshot loop and serves on-demand backup requests.
type Manager struct {
	mu     sync.RWMutex
	status Status

	cfg      config.BackupConfig
	dbPath   string
	db       *sql.DB
	settings *store.SettingsStore
	client   s3Client
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	// exit is called after a successful restore so the process restarts
	// on the restored file. Tests replace it.
	exit func(int)
}

// NewManager builds a Manager. With incomplete S3 credentials or no
// passphrase the manager stays disabled and every operation reports so.
func NewManager(cfg config.BackupConfig, dbPath string, db *sql.DB, settings *store.SettingsStore, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		dbPath:   dbPath,
		db:       db,
		settings: settings,
		logger:   logger,
		status:   Status{State: StateDisabled},
		exit:     os.Exit,
	}
	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" && cfg.Passphrase != "" {
		m.client = newS3Client(cfg)
		m.status.State = StateIdle
	}
	return m
}

func newS3Client(cfg config.BackupConfig) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Enabled reports whether backups are configured.
func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil
}

// Start begins the scheduled loop: one snapshot per UTC day, checked
// hourly so restarts don't skip a day.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.client == nil {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()

		m.runIfDue(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.runIfDue(ctx)
			}
		}
	}()
}

// Stop cancels the loop and waits for an in-flight snapshot to finish.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current manager status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	m.status = s
	m.mu.Unlock()
}

func (m *Manager) runIfDue(ctx context.Context) {
	last, err := m.lastRun()
	if err != nil {
		m.logger.Error("backup: read last run", "error", err)
		return
	}
	now := time.Now().UTC()
	if last != nil && last.Truncate(24*time.Hour).Equal(now.Truncate(24*time.Hour)) {
		return
	}

	if _, err := m.RunNow(ctx); err != nil {
		m.logger.Error("backup: scheduled snapshot failed", "error", err)
	}
}

func (m *Manager) lastRun() (*time.Time, error) {
	v, err := m.settings.Get(lastRunKey)
	if err != nil {
		return nil, err
	}
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lastRunKey, err)
	}
	return &t, nil
}

// RunNow takes a snapshot immediately and returns the stored object key.
// Old snapshots beyond the retention window are pruned afterwards.
func (m *Manager) RunNow(ctx context.Context) (string, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return "", fmt.Errorf("backup not configured")
	}

	m.setStatus(Status{State: StateRunning, InProgress: true})

	key, err := m.snapshot(ctx, client)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		if serr := m.settings.Set(lastErrorKey, err.Error()); serr != nil {
			m.logger.Error("backup: record error", "error", serr)
		}
		return "", err
	}

	now := time.Now().UTC()
	if err := m.settings.Set(lastRunKey, now.Format(time.RFC3339)); err != nil {
		m.logger.Error("backup: record last run", "error", err)
	}
	if err := m.settings.Set(lastErrorKey, ""); err != nil {
		m.logger.Error("backup: clear error", "error", err)
	}
	m.setStatus(Status{State: StateIdle, LastBackup: &now})

	if err := m.prune(ctx, client); err != nil {
		m.logger.Warn("backup: prune failed", "error", err)
	}

	m.logger.Info("backup: snapshot uploaded", "key", key)
	return key, nil
}

func (m *Manager) snapshot(ctx context.Context, client s3Client) (string, error) {
	timestamp := time.Now().UTC().Format(timeLayout)
	key := keyPrefix + fmt.Sprintf("billminder-%s.db.enc", timestamp)

	tmpDir := os.TempDir()
	dbCopy := filepath.Join(tmpDir, fmt.Sprintf("billminder-backup-%s.db", timestamp))
	encFile := dbCopy + ".enc"
	defer os.Remove(dbCopy)
	defer os.Remove(encFile)

	// VACUUM INTO produces a consistent single-file snapshot without
	// blocking writers.
	if _, err := m.db.ExecContext(ctx, "VACUUM INTO ?", dbCopy); err != nil {
		return "", fmt.Errorf("vacuum into snapshot: %w", err)
	}

	if err := EncryptFile(dbCopy, encFile, m.cfg.Passphrase); err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}

	encData, err := os.Open(encFile)
	if err != nil {
		return "", fmt.Errorf("open encrypted file: %w", err)
	}
	defer encData.Close()

	stat, err := encData.Stat()
	if err != nil {
		return "", fmt.Errorf("stat encrypted file: %w", err)
	}

	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(m.cfg.Bucket),
		Key:           aws.String(key),
		Body:          encData,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return "", fmt.Errorf("upload to s3: %w", err)
	}
	return key, nil
}

// List returns stored snapshots, newest first.
func (m *Manager) List(ctx context.Context) ([]Snapshot, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return nil, fmt.Errorf("backup not configured")
	}

	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.Bucket),
		Prefix: aws.String(keyPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("list s3 objects: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(out.Contents))
	for _, obj := range out.Contents {
		s := Snapshot{Key: aws.ToString(obj.Key), Size: aws.ToInt64(obj.Size)}
		if t, ok := snapshotTime(s.Key); ok {
			s.CreatedAt = t
		} else if obj.LastModified != nil {
			s.CreatedAt = *obj.LastModified
		}
		snapshots = append(snapshots, s)
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.After(snapshots[j].CreatedAt)
	})
	return snapshots, nil
}

// snapshotTime extracts the creation time from an object key.
func snapshotTime(key string) (time.Time, bool) {
	name := strings.TrimPrefix(key, keyPrefix)
	name = strings.TrimPrefix(name, "billminder-")
	name = strings.TrimSuffix(name, ".db.enc")
	t, err := time.Parse(timeLayout, name)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// prune deletes snapshots older than the retention window.
func (m *Manager) prune(ctx context.Context, client s3Client) error {
	retention := m.cfg.Retention
	if retention <= 0 {
		retention = 14
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -retention)

	out, err := client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(m.cfg.Bucket),
		Prefix: aws.String(keyPrefix),
	})
	if err != nil {
		return fmt.Errorf("list s3 objects: %w", err)
	}

	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		created, ok := snapshotTime(key)
		if !ok {
			continue
		}
		if !created.Before(cutoff) {
			continue
		}
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(m.cfg.Bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("backup: delete old snapshot", "key", key, "error", err)
		}
	}
	return nil
}

// Download streams an encrypted snapshot from S3.
func (m *Manager) Download(ctx context.Context, key string) (io.ReadCloser, int64, error) {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return nil, 0, fmt.Errorf("backup not configured")
	}
	if !strings.HasPrefix(key, keyPrefix) {
		return nil, 0, fmt.Errorf("unknown backup key")
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, 0, fmt.Errorf("download from s3: %w", err)
	}
	return result.Body, aws.ToInt64(result.ContentLength), nil
}

// Restore downloads a snapshot, decrypts and validates it, replaces the
// database file, and exits so the process restarts on the restored data.
func (m *Manager) Restore(ctx context.Context, key string) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()
	if client == nil {
		return fmt.Errorf("backup not configured")
	}
	if _, ok := snapshotTime(key); !ok {
		return fmt.Errorf("unknown backup key")
	}

	tmpDir := os.TempDir()
	encFile := filepath.Join(tmpDir, "billminder-restore.db.enc")
	decFile := filepath.Join(tmpDir, "billminder-restore.db")
	defer os.Remove(encFile)
	defer os.Remove(decFile)

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(m.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("download from s3: %w", err)
	}
	defer result.Body.Close()

	outFile, err := os.Create(encFile)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := io.Copy(outFile, result.Body); err != nil {
		outFile.Close()
		return fmt.Errorf("write downloaded file: %w", err)
	}
	outFile.Close()

	if err := DecryptFile(encFile, decFile, m.cfg.Passphrase); err != nil {
		return fmt.Errorf("decrypt backup: %w", err)
	}

	tmpDB, err := sql.Open("sqlite", decFile)
	if err != nil {
		return fmt.Errorf("open restored db: %w", err)
	}
	var integrity string
	if err := tmpDB.QueryRow("PRAGMA integrity_check").Scan(&integrity); err != nil {
		tmpDB.Close()
		return fmt.Errorf("integrity check: %w", err)
	}
	tmpDB.Close()
	if integrity != "ok" {
		return fmt.Errorf("integrity check failed: %s", integrity)
	}

	if err := copyFile(decFile, m.dbPath); err != nil {
		return fmt.Errorf("replace database: %w", err)
	}
	os.Remove(m.dbPath + "-wal")
	os.Remove(m.dbPath + "-shm")

	m.logger.Info("backup: restore complete, exiting for restart")
	time.AfterFunc(time.Second, func() { m.exit(0) })
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

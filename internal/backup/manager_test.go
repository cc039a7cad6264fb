package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-guard/internal/config"
	"migration-guard/internal/logging"
	"migration-guard/internal/procrunner"
	"migration-guard/internal/state"
)

const sampleDump = "-- MySQL dump 10.13  Distrib 8.0.36\n" +
	"--\n" +
	"-- Host: localhost    Database: clinic\n" +
	"CREATE TABLE `patients_patient` (`id` int NOT NULL);\n" +
	"INSERT INTO `patients_patient` VALUES (1);\n"

type stubProber struct {
	snapshot *state.Snapshot
	verifyOK bool
	verified int
}

func (s *stubProber) Snapshot(ctx context.Context) (*state.Snapshot, error) {
	return s.snapshot, nil
}

func (s *stubProber) VerifyMigrationState(ctx context.Context) bool {
	s.verified++
	return s.verifyOK
}

func managerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.SetDefaults()
	cfg.Database.Host = "localhost"
	cfg.Database.Username = "guard"
	cfg.Database.Password = "secret"
	cfg.Database.Database = "clinic"
	cfg.Paths.BackupDir = t.TempDir()
	return cfg
}

func TestCreateBackup_WritesArtifactAndMetadata(t *testing.T) {
	cfg := managerConfig(t)
	runner := procrunner.NewMockRunner()
	runner.Stub("mysqldump", "clinic", &procrunner.Result{Stdout: sampleDump}, nil)

	prober := &stubProber{snapshot: &state.Snapshot{
		CapturedAt:   time.Now().UTC(),
		AppliedCount: 3,
		LatestPerApp: map[string]string{"patients": "0003_add_allergies"},
	}}

	mgr := NewManager(cfg, runner, prober, nil, logging.NewDefaultLogger())
	meta, err := mgr.CreateBackup(context.Background(), "", TypePreRollback)
	require.NoError(t, err)

	assert.NotEmpty(t, meta.ID)
	assert.Equal(t, "clinic", meta.Database)
	assert.Equal(t, TypePreRollback, meta.BackupType)
	require.NotNil(t, meta.MigrationState)
	assert.Equal(t, 3, meta.MigrationState.AppliedCount)

	// artifact on disk matches the recorded checksum
	payload, err := os.ReadFile(meta.ArtifactPath(cfg.Paths.BackupDir))
	require.NoError(t, err)
	assert.Equal(t, checksumHex(payload), meta.Checksum)

	// metadata sidecar round-trips
	loaded, err := FindMetadata(cfg.Paths.BackupDir, meta.BackupName)
	require.NoError(t, err)
	assert.Equal(t, meta.ID, loaded.ID)

	dumps := runner.CallsFor("mysqldump")
	require.Len(t, dumps, 1)
	assert.Contains(t, dumps[0].Args, "--single-transaction")
	assert.Contains(t, dumps[0].Env, "MYSQL_PWD=secret")
}

func TestCreateBackup_SealsWithCompressionAndEncryption(t *testing.T) {
	cfg := managerConfig(t)
	cfg.Compression.Enabled = true
	cfg.Compression.Algorithm = "zstd"
	cfg.Encryption.Enabled = true
	cfg.Encryption.Passphrase = "correct horse battery staple"

	runner := procrunner.NewMockRunner()
	runner.Stub("mysqldump", "clinic", &procrunner.Result{Stdout: sampleDump}, nil)

	mgr := NewManager(cfg, runner, nil, nil, logging.NewDefaultLogger())
	meta, err := mgr.CreateBackup(context.Background(), "sealed", TypeManual)
	require.NoError(t, err)

	assert.Equal(t, "zstd", meta.Compression)
	assert.True(t, meta.Encrypted)
	assert.Equal(t, "sealed.sql.zst.enc", meta.ArtifactFile)

	payload, err := os.ReadFile(meta.ArtifactPath(cfg.Paths.BackupDir))
	require.NoError(t, err)
	assert.True(t, IsEncrypted(payload))

	// the pipeline reverses both stages back to the original dump
	opened, err := NewPipeline(cfg).Open(payload)
	require.NoError(t, err)
	assert.Equal(t, sampleDump, string(opened))
}

func TestCreateBackup_EmptyDumpFails(t *testing.T) {
	cfg := managerConfig(t)
	runner := procrunner.NewMockRunner()
	runner.Stub("mysqldump", "clinic", &procrunner.Result{Stdout: ""}, nil)

	mgr := NewManager(cfg, runner, nil, nil, logging.NewDefaultLogger())
	_, err := mgr.CreateBackup(context.Background(), "", TypeManual)
	assert.Error(t, err)
}

func TestRestoreBackup_RecreatesDatabaseAndVerifies(t *testing.T) {
	cfg := managerConfig(t)
	runner := procrunner.NewMockRunner()
	runner.Stub("mysqldump", "clinic", &procrunner.Result{Stdout: sampleDump}, nil)

	prober := &stubProber{verifyOK: true}
	mgr := NewManager(cfg, runner, prober, nil, logging.NewDefaultLogger())

	meta, err := mgr.CreateBackup(context.Background(), "restoreme", TypeManual)
	require.NoError(t, err)

	require.NoError(t, mgr.RestoreBackup(context.Background(), meta.BackupName))

	clientCalls := runner.CallsFor("mysql")
	require.Len(t, clientCalls, 2, "expected drop/create followed by the dump restore")
	assert.NotContains(t, clientCalls[0].Args, "clinic",
		"drop/create must not target the database being recreated")
	assert.Contains(t, clientCalls[1].Args, "clinic")
	assert.Equal(t, 1, prober.verified)
}

func TestRestoreBackup_FailedVerificationNamesStep(t *testing.T) {
	cfg := managerConfig(t)
	runner := procrunner.NewMockRunner()
	runner.Stub("mysqldump", "clinic", &procrunner.Result{Stdout: sampleDump}, nil)

	prober := &stubProber{verifyOK: false}
	mgr := NewManager(cfg, runner, prober, nil, logging.NewDefaultLogger())

	meta, err := mgr.CreateBackup(context.Background(), "badverify", TypeManual)
	require.NoError(t, err)

	err = mgr.RestoreBackup(context.Background(), meta.BackupName)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify_state")
}

func TestRestoreBackup_ChecksumMismatchRejected(t *testing.T) {
	cfg := managerConfig(t)
	runner := procrunner.NewMockRunner()
	runner.Stub("mysqldump", "clinic", &procrunner.Result{Stdout: sampleDump}, nil)

	mgr := NewManager(cfg, runner, nil, nil, logging.NewDefaultLogger())
	meta, err := mgr.CreateBackup(context.Background(), "tampered", TypeManual)
	require.NoError(t, err)

	// corrupt the artifact after the checksum was recorded
	require.NoError(t, os.WriteFile(meta.ArtifactPath(cfg.Paths.BackupDir),
		[]byte("-- MySQL dump\nDROP TABLE everything;\n"), 0o600))

	err = mgr.RestoreBackup(context.Background(), meta.BackupName)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "verify_checksum")
	assert.Empty(t, runner.CallsFor("mysql"), "no client invocation after a checksum mismatch")
}

func TestRestoreBackup_MissingBackupFails(t *testing.T) {
	cfg := managerConfig(t)
	mgr := NewManager(cfg, procrunner.NewMockRunner(), nil, nil, logging.NewDefaultLogger())
	assert.Error(t, mgr.RestoreBackup(context.Background(), "no-such-backup"))
}

func TestListBackups_NewestFirst(t *testing.T) {
	cfg := managerConfig(t)
	runner := procrunner.NewMockRunner()
	runner.Stub("mysqldump", "clinic", &procrunner.Result{Stdout: sampleDump}, nil)
	mgr := NewManager(cfg, runner, nil, nil, logging.NewDefaultLogger())

	first, err := mgr.CreateBackup(context.Background(), "first", TypeManual)
	require.NoError(t, err)

	// nudge the second backup's timestamp forward
	second, err := mgr.CreateBackup(context.Background(), "second", TypeManual)
	require.NoError(t, err)
	secondMeta, err := FindMetadata(cfg.Paths.BackupDir, second.BackupName)
	require.NoError(t, err)
	secondMeta.CreatedAt = first.CreatedAt.Add(time.Minute)
	require.NoError(t, secondMeta.Save(cfg.Paths.BackupDir))

	metas, err := mgr.ListBackups()
	require.NoError(t, err)
	require.Len(t, metas, 2)
	assert.Equal(t, "second", metas[0].BackupName)
	assert.Equal(t, "first", metas[1].BackupName)
}

func TestCleanup_HonorsMaxBackups(t *testing.T) {
	cfg := managerConfig(t)
	cfg.Retention.MaxBackups = 2
	runner := procrunner.NewMockRunner()
	runner.Stub("mysqldump", "clinic", &procrunner.Result{Stdout: sampleDump}, nil)
	mgr := NewManager(cfg, runner, nil, nil, logging.NewDefaultLogger())

	base := time.Now().UTC().Add(-time.Hour)
	for i, name := range []string{"old", "mid", "new"} {
		meta, err := mgr.CreateBackup(context.Background(), name, TypeManual)
		require.NoError(t, err)
		meta.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, meta.Save(cfg.Paths.BackupDir))
	}

	deleted, err := mgr.Cleanup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"old"}, deleted)

	_, err = os.Stat(filepath.Join(cfg.Paths.BackupDir, "old.json"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cfg.Paths.BackupDir, "new.json"))
	assert.NoError(t, err)
}

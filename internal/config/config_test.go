package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/invgo/codec/standard"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/merge"
)

func apply(cfg *Config) index.Config {
	ic := index.DefaultConfig()
	for _, opt := range cfg.ToOptions() {
		opt(&ic)
	}
	return ic
}

func TestDefaultsMatchWriterDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	ic := apply(cfg)
	def := index.DefaultConfig()
	assert.Equal(t, def.RAMBufferSizeMB, ic.RAMBufferSizeMB)
	assert.Equal(t, def.MaxBufferedDocs, ic.MaxBufferedDocs)
	assert.Equal(t, def.WriteLockTimeout, ic.WriteLockTimeout)
	assert.Equal(t, def.UseCompoundFile, ic.UseCompoundFile)
	assert.Equal(t, index.CreateOrAppend, ic.OpenMode)
	assert.IsType(t, index.KeepOnlyLastCommit{}, ic.DeletionPolicy)
	assert.IsType(t, &merge.Tiered{}, ic.MergePolicy)
	assert.IsType(t, &merge.Concurrent{}, ic.MergeScheduler)
	assert.Equal(t, standard.Name, ic.Codec.Name())
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "invgo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
writer:
  openMode: append
  maxBufferedDocs: 100
  writeLockTimeout: 5s
  useCompoundFile: false
merge:
  policy: log_doc
  mergeFactor: 4
  scheduler: serial
deletion:
  policy: keep_last_n
  keep: 3
backup:
  target: s3
  bucket: backups
logging:
  format: json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "s3", cfg.Backup.Target)
	assert.Equal(t, "backups", cfg.Backup.Bucket)
	assert.Equal(t, 4, cfg.Backup.Concurrency)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, "info", cfg.Logging.Level)

	ic := apply(cfg)
	assert.Equal(t, index.Append, ic.OpenMode)
	assert.Equal(t, 100, ic.MaxBufferedDocs)
	assert.Equal(t, 5*time.Second, ic.WriteLockTimeout)
	assert.False(t, ic.UseCompoundFile)
	assert.Equal(t, index.KeepLastN(3), ic.DeletionPolicy)
	assert.IsType(t, &merge.Serial{}, ic.MergeScheduler)
	require.IsType(t, &merge.Log{}, ic.MergePolicy)
	assert.Equal(t, 4, ic.MergePolicy.(*merge.Log).MergeFactor)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("INVGO_MAX_BUFFERED_DOCS", "42")
	t.Setenv("INVGO_DELETION_POLICY", "expiration")
	t.Setenv("INVGO_DELETION_MAX_AGE", "2h")
	t.Setenv("INVGO_COMPOUND_FILE", "false")
	t.Setenv("INVGO_BACKUP_TARGET", "minio")
	t.Setenv("INVGO_LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Writer.MaxBufferedDocs)
	assert.False(t, cfg.Writer.UseCompoundFile)
	assert.Equal(t, "minio", cfg.Backup.Target)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, index.ExpirationTime(2*time.Hour), cfg.DeletionPolicy())
}

func TestEnvOverrideParseErrors(t *testing.T) {
	env := map[string]string{
		"INVGO_MAX_BUFFERED_DOCS": "many",
		"INVGO_COMPOUND_FILE":     "perhaps",
		"INVGO_LOG_FORMAT":        "",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	cfg := Default()
	err := applyEnvOverrides(cfg, lookup)
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "INVGO_MAX_BUFFERED_DOCS")
	assert.Contains(t, err.Error(), "INVGO_COMPOUND_FILE")
	assert.Equal(t, "text", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Merge.Policy = "fancy"
	cfg.Deletion.Policy = "keep_last_n"
	cfg.Deletion.Keep = 0
	err := cfg.Validate()
	require.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "merge.policy")
	assert.Contains(t, err.Error(), "deletion.keep")

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backup:\n  target: tape\n"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

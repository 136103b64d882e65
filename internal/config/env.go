package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-multierror"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INVGO_"

type lookupFunc func(string) (string, bool)

// envReader applies typed overrides and collects parse failures.
type envReader struct {
	lookup lookupFunc
	errs   *multierror.Error
}

func (r *envReader) get(name string) (string, bool) {
	v, ok := r.lookup(EnvPrefix + name)
	return v, ok && v != ""
}

func (r *envReader) fail(name, v string, err error) {
	r.errs = multierror.Append(r.errs, fmt.Errorf("%w: %s%s=%q: %v", ErrInvalid, EnvPrefix, name, v, err))
}

func (r *envReader) string(name string, dst *string) {
	if v, ok := r.get(name); ok {
		*dst = v
	}
}

func (r *envReader) int(name string, dst *int) {
	if v, ok := r.get(name); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = n
	}
}

func (r *envReader) float(name string, dst *float64) {
	if v, ok := r.get(name); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = f
	}
}

func (r *envReader) bool(name string, dst *bool) {
	if v, ok := r.get(name); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(name string, dst *time.Duration) {
	if v, ok := r.get(name); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.fail(name, v, err)
			return
		}
		*dst = d
	}
}

// applyEnvOverrides reads INVGO_* variables over cfg.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	r := &envReader{lookup: lookup}

	r.string("OPEN_MODE", &cfg.Writer.OpenMode)
	r.float("RAM_BUFFER_MB", &cfg.Writer.RAMBufferSizeMB)
	r.int("MAX_BUFFERED_DOCS", &cfg.Writer.MaxBufferedDocs)
	r.int("MAX_BUFFERED_DELETE_TERMS", &cfg.Writer.MaxBufferedDeleteTerms)
	r.int("MAX_THREAD_STATES", &cfg.Writer.MaxThreadStates)
	r.duration("WRITE_LOCK_TIMEOUT", &cfg.Writer.WriteLockTimeout)
	r.bool("COMPOUND_FILE", &cfg.Writer.UseCompoundFile)
	r.bool("CHECK_INTEGRITY_AT_MERGE", &cfg.Writer.CheckIntegrityAtMerge)
	r.bool("COMMIT_ON_CLOSE", &cfg.Writer.CommitOnClose)

	r.string("COMPRESSION", &cfg.Codec.Compression)
	r.float("BLOOM_FPP", &cfg.Codec.BloomFalsePositiveRate)
	r.int("BLOCK_CACHE_MB", &cfg.Codec.BlockCacheMB)

	r.string("MERGE_POLICY", &cfg.Merge.Policy)
	r.string("MERGE_SCHEDULER", &cfg.Merge.Scheduler)
	r.int("MERGE_MAX_THREADS", &cfg.Merge.MaxThreadCount)
	r.int("MERGE_MAX_COUNT", &cfg.Merge.MaxMergeCount)
	r.float("MERGE_MB_PER_SEC", &cfg.Merge.MBPerSec)

	r.string("DELETION_POLICY", &cfg.Deletion.Policy)
	r.int("DELETION_KEEP", &cfg.Deletion.Keep)
	r.duration("DELETION_MAX_AGE", &cfg.Deletion.MaxAge)

	r.string("BACKUP_TARGET", &cfg.Backup.Target)
	r.string("BACKUP_PATH", &cfg.Backup.Path)
	r.string("BACKUP_BUCKET", &cfg.Backup.Bucket)
	r.string("BACKUP_PREFIX", &cfg.Backup.Prefix)
	r.string("BACKUP_REGION", &cfg.Backup.Region)
	r.string("BACKUP_ENDPOINT", &cfg.Backup.Endpoint)
	r.string("BACKUP_DYNAMO_TABLE", &cfg.Backup.DynamoTable)
	r.string("BACKUP_ACCESS_KEY", &cfg.Backup.AccessKey)
	r.string("BACKUP_SECRET_KEY", &cfg.Backup.SecretKey)
	r.bool("BACKUP_SECURE", &cfg.Backup.Secure)
	r.string("BACKUP_COMPRESSION", &cfg.Backup.Compression)
	r.int("BACKUP_CONCURRENCY", &cfg.Backup.Concurrency)
	r.int("BACKUP_KEEP", &cfg.Backup.Keep)

	r.string("LOG_LEVEL", &cfg.Logging.Level)
	r.string("LOG_FORMAT", &cfg.Logging.Format)

	return r.errs.ErrorOrNil()
}

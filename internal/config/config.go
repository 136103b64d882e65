// Package config loads writer and tool settings from YAML files with
// INVGO_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/hupe1980/invgo/codec/standard"
	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/internal/cache"
	"github.com/hupe1980/invgo/merge"
)

// ErrInvalid is returned for settings that cannot be applied.
var ErrInvalid = errors.New("config: invalid setting")

// Config is the top-level configuration.
type Config struct {
	Writer   WriterConfig   `yaml:"writer"`
	Codec    CodecConfig    `yaml:"codec"`
	Merge    MergeConfig    `yaml:"merge"`
	Deletion DeletionConfig `yaml:"deletion"`
	Backup   BackupConfig   `yaml:"backup"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// WriterConfig holds the flush and commit settings of a writer.
type WriterConfig struct {
	OpenMode               string        `yaml:"openMode"`
	RAMBufferSizeMB        float64       `yaml:"ramBufferSizeMB"`
	MaxBufferedDocs        int           `yaml:"maxBufferedDocs"`
	MaxBufferedDeleteTerms int           `yaml:"maxBufferedDeleteTerms"`
	PerThreadHardLimitMB   int           `yaml:"perThreadHardLimitMB"`
	MaxThreadStates        int           `yaml:"maxThreadStates"`
	WriteLockTimeout       time.Duration `yaml:"writeLockTimeout"`
	UseCompoundFile        bool          `yaml:"useCompoundFile"`
	CheckIntegrityAtMerge  bool          `yaml:"checkIntegrityAtMerge"`
	CommitOnClose          bool          `yaml:"commitOnClose"`
}

// CodecConfig selects the codec of new segments.
type CodecConfig struct {
	// Compression is "none", "fast" or "high".
	Compression            string  `yaml:"compression"`
	BloomFalsePositiveRate float64 `yaml:"bloomFalsePositiveRate"`

	// BlockCacheMB sizes the decompressed block cache, 0 disables it.
	BlockCacheMB int `yaml:"blockCacheMB"`
}

// MergeConfig selects the merge policy and scheduler.
type MergeConfig struct {
	// Policy is "tiered", "log_byte_size", "log_doc" or "none".
	Policy          string  `yaml:"policy"`
	SegmentsPerTier float64 `yaml:"segmentsPerTier"`
	MaxMergeAtOnce  int     `yaml:"maxMergeAtOnce"`
	MergeFactor     int     `yaml:"mergeFactor"`

	// Scheduler is "concurrent" or "serial".
	Scheduler      string  `yaml:"scheduler"`
	MaxMergeCount  int     `yaml:"maxMergeCount"`
	MaxThreadCount int     `yaml:"maxThreadCount"`
	MBPerSec       float64 `yaml:"mbPerSec"`
}

// DeletionConfig selects which commits are kept.
type DeletionConfig struct {
	// Policy is "keep_last", "keep_all", "keep_last_n" or "expiration".
	Policy string        `yaml:"policy"`
	Keep   int           `yaml:"keep"`
	MaxAge time.Duration `yaml:"maxAge"`
}

// BackupConfig selects the blob store of the backup and restore commands.
type BackupConfig struct {
	// Target is "local", "s3" or "minio".
	Target      string `yaml:"target"`
	Path        string `yaml:"path"`
	Bucket      string `yaml:"bucket"`
	Prefix      string `yaml:"prefix"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	DynamoTable string `yaml:"dynamoTable"`
	AccessKey   string `yaml:"accessKey"`
	SecretKey   string `yaml:"secretKey"`
	Secure      bool   `yaml:"secure"`
	Compression string `yaml:"compression"`
	Concurrency int    `yaml:"concurrency"`
	Keep        int    `yaml:"keep"`
}

// LoggingConfig controls the log level and format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Writer: WriterConfig{
			OpenMode:               "create_or_append",
			RAMBufferSizeMB:        index.DefaultRAMBufferSizeMB,
			MaxBufferedDocs:        index.DefaultMaxBufferedDocs,
			MaxBufferedDeleteTerms: index.DefaultMaxBufferedDeleteTerms,
			PerThreadHardLimitMB:   index.DefaultPerThreadHardLimitMB,
			MaxThreadStates:        index.DefaultMaxThreadStates,
			WriteLockTimeout:       index.DefaultWriteLockTimeout,
			UseCompoundFile:        index.DefaultUseCompoundFile,
			CheckIntegrityAtMerge:  index.DefaultCheckIntegrityAtMerge,
			CommitOnClose:          index.DefaultCommitOnClose,
		},
		Codec: CodecConfig{
			Compression:            "fast",
			BloomFalsePositiveRate: 0.01,
		},
		Merge: MergeConfig{
			Policy:          "tiered",
			SegmentsPerTier: 10,
			MaxMergeAtOnce:  10,
			MergeFactor:     10,
			Scheduler:       "concurrent",
			MaxMergeCount:   6,
			MaxThreadCount:  1,
		},
		Deletion: DeletionConfig{
			Policy: "keep_last",
			Keep:   1,
		},
		Backup: BackupConfig{
			Target:      "local",
			Compression: "none",
			Concurrency: 4,
			Keep:        7,
			Secure:      true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file, if path is not empty, over the defaults and
// applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	var errs *multierror.Error
	check := func(field, v string, allowed ...string) {
		for _, a := range allowed {
			if v == a {
				return
			}
		}
		errs = multierror.Append(errs, fmt.Errorf("%w: %s %q, want one of %s", ErrInvalid, field, v, strings.Join(allowed, ", ")))
	}
	check("writer.openMode", c.Writer.OpenMode, "create_or_append", "create", "append")
	check("codec.compression", c.Codec.Compression, "none", "fast", "high")
	check("merge.policy", c.Merge.Policy, "tiered", "log_byte_size", "log_doc", "none")
	check("merge.scheduler", c.Merge.Scheduler, "concurrent", "serial")
	check("deletion.policy", c.Deletion.Policy, "keep_last", "keep_all", "keep_last_n", "expiration")
	check("backup.target", c.Backup.Target, "local", "s3", "minio")
	check("backup.compression", c.Backup.Compression, "none", "zstd")
	check("logging.format", c.Logging.Format, "text", "json")
	if c.Deletion.Policy == "keep_last_n" && c.Deletion.Keep < 1 {
		errs = multierror.Append(errs, fmt.Errorf("%w: deletion.keep must be positive", ErrInvalid))
	}
	if c.Deletion.Policy == "expiration" && c.Deletion.MaxAge <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("%w: deletion.maxAge must be positive", ErrInvalid))
	}
	return errs.ErrorOrNil()
}

// ToOptions converts the writer settings to index options.
func (c *Config) ToOptions() []index.Option {
	opts := []index.Option{
		index.WithOpenMode(c.openMode()),
		index.WithRAMBufferSizeMB(c.Writer.RAMBufferSizeMB),
		index.WithMaxBufferedDocs(c.Writer.MaxBufferedDocs),
		index.WithMaxBufferedDeleteTerms(c.Writer.MaxBufferedDeleteTerms),
		index.WithPerThreadHardLimitMB(c.Writer.PerThreadHardLimitMB),
		index.WithMaxThreadStates(c.Writer.MaxThreadStates),
		index.WithWriteLockTimeout(c.Writer.WriteLockTimeout),
		index.WithCompoundFile(c.Writer.UseCompoundFile),
		index.WithCheckIntegrityAtMerge(c.Writer.CheckIntegrityAtMerge),
		index.WithCommitOnClose(c.Writer.CommitOnClose),
		index.WithCodec(c.codec()),
		index.WithMergePolicy(c.mergePolicy()),
		index.WithMergeScheduler(c.mergeScheduler()),
		index.WithDeletionPolicy(c.DeletionPolicy()),
	}
	return opts
}

func (c *Config) openMode() index.OpenMode {
	switch c.Writer.OpenMode {
	case "create":
		return index.Create
	case "append":
		return index.Append
	default:
		return index.CreateOrAppend
	}
}

func (c *Config) codec() *standard.Codec {
	var mode standard.CompressionMode
	switch c.Codec.Compression {
	case "none":
		mode = standard.CompressionNone
	case "high":
		mode = standard.CompressionHigh
	default:
		mode = standard.CompressionFast
	}
	opts := []standard.Option{
		standard.WithCompression(mode),
		standard.WithBloomFalsePositiveRate(c.Codec.BloomFalsePositiveRate),
	}
	if c.Codec.BlockCacheMB > 0 {
		opts = append(opts, standard.WithBlockCache(cache.NewLRU(int64(c.Codec.BlockCacheMB)<<20, nil)))
	}
	return standard.New(opts...)
}

func (c *Config) mergePolicy() merge.Policy {
	switch c.Merge.Policy {
	case "log_byte_size":
		p := merge.NewLogByteSize()
		p.MergeFactor = c.Merge.MergeFactor
		return p
	case "log_doc":
		p := merge.NewLogDoc()
		p.MergeFactor = c.Merge.MergeFactor
		return p
	case "none":
		return merge.NoMerge{Compound: c.Writer.UseCompoundFile}
	default:
		p := merge.NewTiered()
		p.SegmentsPerTier = c.Merge.SegmentsPerTier
		p.MaxMergeAtOnce = c.Merge.MaxMergeAtOnce
		return p
	}
}

func (c *Config) mergeScheduler() merge.Scheduler {
	if c.Merge.Scheduler == "serial" {
		return merge.NewSerial()
	}
	return merge.NewConcurrent(
		merge.WithMaxMergesAndThreads(c.Merge.MaxMergeCount, c.Merge.MaxThreadCount),
		merge.WithMergeMBPerSec(c.Merge.MBPerSec),
	)
}

// DeletionPolicy builds the configured deletion policy.
func (c *Config) DeletionPolicy() index.DeletionPolicy {
	switch c.Deletion.Policy {
	case "keep_all":
		return index.KeepAll{}
	case "keep_last_n":
		return index.KeepLastN(c.Deletion.Keep)
	case "expiration":
		return index.ExpirationTime(c.Deletion.MaxAge)
	default:
		return index.KeepOnlyLastCommit{}
	}
}

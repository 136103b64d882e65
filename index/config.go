package index

import (
	"log/slog"
	"time"

	"github.com/hupe1980/invgo/codec"
	"github.com/hupe1980/invgo/codec/standard"
	"github.com/hupe1980/invgo/document"
	"github.com/hupe1980/invgo/internal/flush"
	"github.com/hupe1980/invgo/merge"
)

// OpenMode decides what Open does with an existing index.
type OpenMode int

const (
	// CreateOrAppend appends to an existing index or creates a new one.
	CreateOrAppend OpenMode = iota
	// Create replaces an existing index with an empty one. The old commits
	// are removed by the deletion policy once the first commit is made.
	Create
	// Append requires an existing index.
	Append
)

func (m OpenMode) String() string {
	switch m {
	case Create:
		return "CREATE"
	case Append:
		return "APPEND"
	default:
		return "CREATE_OR_APPEND"
	}
}

// Disabled turns off a buffered document or delete term limit.
const Disabled = flush.Disabled

// Defaults.
const (
	DefaultRAMBufferSizeMB        = 16.0
	DefaultMaxBufferedDocs        = Disabled
	DefaultMaxBufferedDeleteTerms = Disabled
	DefaultPerThreadHardLimitMB   = 1945
	DefaultMaxThreadStates        = 8
	DefaultWriteLockTimeout       = time.Second
	DefaultUseCompoundFile        = true
	DefaultCheckIntegrityAtMerge  = false
	DefaultCommitOnClose          = true
)

// Config configures a Writer.
type Config struct {
	Codec    codec.Codec
	Analyzer document.Analyzer
	OpenMode OpenMode

	// IndexCommit opens the writer on an older commit instead of the
	// newest one.
	IndexCommit IndexCommit

	DeletionPolicy DeletionPolicy
	MergePolicy    merge.Policy
	MergeScheduler merge.Scheduler

	// RAMBufferSizeMB flushes once buffered documents and deletes use this
	// much memory, Disabled to flush by count only.
	RAMBufferSizeMB float64

	// MaxBufferedDocs flushes a buffer once it holds this many documents.
	MaxBufferedDocs int

	// MaxBufferedDeleteTerms applies buffered deletes once this many are
	// pending.
	MaxBufferedDeleteTerms int

	// PerThreadHardLimitMB forces the flush of a single buffer.
	PerThreadHardLimitMB int

	// MaxThreadStates bounds the number of concurrent indexing buffers.
	MaxThreadStates int

	WriteLockTimeout time.Duration

	// UseCompoundFile packs flushed segments into compound files. Merged
	// segments follow the merge policy.
	UseCompoundFile bool

	// CheckIntegrityAtMerge verifies the checksums of the merged segments
	// before merging them.
	CheckIntegrityAtMerge bool

	// CommitOnClose commits pending changes in Close. Otherwise Close
	// discards them like Rollback.
	CommitOnClose bool

	Logger  *slog.Logger
	Metrics MetricsCollector

	// Clock stamps commits. Tests replace it.
	Clock func() time.Time
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Codec:                  standard.New(),
		Analyzer:               document.WhitespaceAnalyzer{},
		OpenMode:               CreateOrAppend,
		DeletionPolicy:         KeepOnlyLastCommit{},
		MergePolicy:            merge.NewTiered(),
		RAMBufferSizeMB:        DefaultRAMBufferSizeMB,
		MaxBufferedDocs:        DefaultMaxBufferedDocs,
		MaxBufferedDeleteTerms: DefaultMaxBufferedDeleteTerms,
		PerThreadHardLimitMB:   DefaultPerThreadHardLimitMB,
		MaxThreadStates:        DefaultMaxThreadStates,
		WriteLockTimeout:       DefaultWriteLockTimeout,
		UseCompoundFile:        DefaultUseCompoundFile,
		CheckIntegrityAtMerge:  DefaultCheckIntegrityAtMerge,
		CommitOnClose:          DefaultCommitOnClose,
		Logger:                 slog.New(slog.DiscardHandler),
		Metrics:                noopMetrics{},
		Clock:                  time.Now,
	}
}

// Option configures a Writer.
type Option func(*Config)

// WithCodec sets the codec of new segments.
func WithCodec(c codec.Codec) Option {
	return func(cfg *Config) {
		if c != nil {
			cfg.Codec = c
		}
	}
}

// WithAnalyzer sets the analyzer of tokenized fields.
func WithAnalyzer(a document.Analyzer) Option {
	return func(cfg *Config) {
		if a != nil {
			cfg.Analyzer = a
		}
	}
}

// WithOpenMode sets the open mode.
func WithOpenMode(m OpenMode) Option {
	return func(cfg *Config) { cfg.OpenMode = m }
}

// WithIndexCommit opens the writer on commit. Committing afterwards makes
// the index descend from commit.
func WithIndexCommit(commit IndexCommit) Option {
	return func(cfg *Config) { cfg.IndexCommit = commit }
}

// WithDeletionPolicy sets the deletion policy.
func WithDeletionPolicy(p DeletionPolicy) Option {
	return func(cfg *Config) {
		if p != nil {
			cfg.DeletionPolicy = p
		}
	}
}

// WithMergePolicy sets the merge policy.
func WithMergePolicy(p merge.Policy) Option {
	return func(cfg *Config) {
		if p != nil {
			cfg.MergePolicy = p
		}
	}
}

// WithMergeScheduler sets the merge scheduler. The writer closes it.
func WithMergeScheduler(s merge.Scheduler) Option {
	return func(cfg *Config) {
		if s != nil {
			cfg.MergeScheduler = s
		}
	}
}

// WithRAMBufferSizeMB sets the RAM budget of buffered documents.
func WithRAMBufferSizeMB(mb float64) Option {
	return func(cfg *Config) { cfg.RAMBufferSizeMB = mb }
}

// WithMaxBufferedDocs flushes after n buffered documents.
func WithMaxBufferedDocs(n int) Option {
	return func(cfg *Config) { cfg.MaxBufferedDocs = n }
}

// WithMaxBufferedDeleteTerms applies deletes after n buffered delete terms.
func WithMaxBufferedDeleteTerms(n int) Option {
	return func(cfg *Config) { cfg.MaxBufferedDeleteTerms = n }
}

// WithPerThreadHardLimitMB sets the hard limit of a single buffer.
func WithPerThreadHardLimitMB(mb int) Option {
	return func(cfg *Config) { cfg.PerThreadHardLimitMB = mb }
}

// WithMaxThreadStates bounds the concurrent indexing buffers.
func WithMaxThreadStates(n int) Option {
	return func(cfg *Config) { cfg.MaxThreadStates = n }
}

// WithWriteLockTimeout sets how long Open waits for the write lock.
func WithWriteLockTimeout(d time.Duration) Option {
	return func(cfg *Config) { cfg.WriteLockTimeout = d }
}

// WithCompoundFile sets whether flushed segments use compound files.
func WithCompoundFile(on bool) Option {
	return func(cfg *Config) { cfg.UseCompoundFile = on }
}

// WithCheckIntegrityAtMerge verifies checksums before merging.
func WithCheckIntegrityAtMerge(on bool) Option {
	return func(cfg *Config) { cfg.CheckIntegrityAtMerge = on }
}

// WithCommitOnClose sets whether Close commits.
func WithCommitOnClose(on bool) Option {
	return func(cfg *Config) { cfg.CommitOnClose = on }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(cfg *Config) {
		if l != nil {
			cfg.Logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(cfg *Config) {
		if m != nil {
			cfg.Metrics = m
		}
	}
}

// WithClock sets the clock stamping commits.
func WithClock(now func() time.Time) Option {
	return func(cfg *Config) {
		if now != nil {
			cfg.Clock = now
		}
	}
}

func (c Config) ramBufferBytes() int64 {
	if c.RAMBufferSizeMB == Disabled || c.RAMBufferSizeMB <= 0 {
		return Disabled
	}
	return int64(c.RAMBufferSizeMB * 1024 * 1024)
}

func (c Config) flushConfig() flush.Config {
	return flush.Config{
		RAMBufferBytes:          c.ramBufferBytes(),
		MaxBufferedDocs:         c.MaxBufferedDocs,
		MaxBufferedDeleteTerms:  c.MaxBufferedDeleteTerms,
		PerThreadHardLimitBytes: int64(c.PerThreadHardLimitMB) << 20,
	}
}

func (c Config) validate() error {
	if c.RAMBufferSizeMB == Disabled && c.MaxBufferedDocs == Disabled {
		return errorf(ErrIllegalArgument, "at least one of RAMBufferSizeMB and MaxBufferedDocs must be enabled")
	}
	if c.MaxBufferedDocs != Disabled && c.MaxBufferedDocs < 2 {
		return errorf(ErrIllegalArgument, "MaxBufferedDocs must be at least 2, got %d", c.MaxBufferedDocs)
	}
	if c.MaxBufferedDeleteTerms != Disabled && c.MaxBufferedDeleteTerms < 1 {
		return errorf(ErrIllegalArgument, "MaxBufferedDeleteTerms must be at least 1, got %d", c.MaxBufferedDeleteTerms)
	}
	if c.PerThreadHardLimitMB <= 0 || c.PerThreadHardLimitMB >= 2048 {
		return errorf(ErrIllegalArgument, "PerThreadHardLimitMB must be in (0, 2048), got %d", c.PerThreadHardLimitMB)
	}
	return nil
}

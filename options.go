package invgo

import (
	"log/slog"

	"github.com/hupe1980/invgo/index"
	"github.com/hupe1980/invgo/store"
)

type options struct {
	dirKind          store.Kind
	configPath       string
	collectors       []MetricsCollector
	metricsCollector MetricsCollector
	logger           *Logger
	writerOptions    []index.Option
}

// Option configures Open.
type Option func(*options)

// WithDirectoryKind selects the directory implementation. The default is
// store.KindFS.
func WithDirectoryKind(kind store.Kind) Option {
	return func(o *options) {
		o.dirKind = kind
	}
}

// WithConfigFile loads writer settings from a YAML file. INVGO_*
// environment variables override the file and apply without it too.
//
// Example:
//
//	writer:
//	  ramBufferSizeMB: 64
//	merge:
//	  policy: tiered
//	  mbPerSec: 40
//	deletion:
//	  policy: keep_last_n
//	  keep: 3
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configPath = path
	}
}

// WithMetricsCollector adds a metrics collector for writer events. Events
// fan out to every collector added. nil is ignored.
//
// Example with BasicMetricsCollector:
//
//	metrics := &invgo.BasicMetricsCollector{}
//	idx, _ := invgo.Open("./index", invgo.WithMetricsCollector(metrics))
//	// ... use idx ...
//	stats := metrics.GetStats()
//	fmt.Printf("Flushes: %d, Avg commit: %dns\n", stats.FlushCount, stats.CommitAvgNanos)
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc != nil {
			o.collectors = append(o.collectors, mc)
		}
	}
}

// WithLogger configures structured logging. Without it the logging
// section of the configuration decides.
//
// Example with JSON logging:
//
//	logger := invgo.NewJSONLogger(slog.LevelInfo)
//	idx, _ := invgo.Open("./index", invgo.WithLogger(logger))
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// WithWriterOptions appends writer options. They are applied after the
// configuration file, so they win over it. The deletion policy is always
// wrapped in a snapshot policy so backups can pin commits.
func WithWriterOptions(opts ...index.Option) Option {
	return func(o *options) {
		o.writerOptions = append(o.writerOptions, opts...)
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		dirKind: store.KindFS,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	switch len(o.collectors) {
	case 0:
		o.metricsCollector = NoopMetricsCollector{}
	case 1:
		o.metricsCollector = o.collectors[0]
	default:
		o.metricsCollector = multiCollector(o.collectors)
	}
	return o
}

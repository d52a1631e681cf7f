package acebase

import "time"

// Options configures a Storage instance. Grounded on the teacher's MariOpts
// (a small struct carrying the file path) widened per iamNilotpal-ignite's
// options/defaults split: a plain struct plus a package-level defaults table,
// rather than the functional-options pattern, since every field here is a
// fixed layout parameter decided once at file-creation time.
type Options struct {
	// Filepath is the path to the single AceBase storage file.
	Filepath string

	// PageSize is the number of records per page.
	PageSize uint16
	// RecordSize is the number of bytes per record.
	RecordSize uint16

	// MaxInlineValueSize bounds inline (same-record) child value storage.
	MaxInlineValueSize int
	// TreePromotionThreshold is the child count above which a record body
	// switches from a linear child list to an embedded B+tree.
	TreePromotionThreshold int

	// LockTimeout bounds how long a granted lock may be held before it
	// expires (and poisons its tid) absent NoTimeout.
	LockTimeout time.Duration
	// CacheTTL is the idle timeout for Node Address Cache entries.
	CacheTTL time.Duration
	// CacheMaxEntries bounds the Node Address Cache's resident set.
	CacheMaxEntries int

	// BufferPoolMaxSize bounds the scratch-buffer pool used during record
	// encode/decode.
	BufferPoolMaxSize int
}

const (
	DefaultPageSize               uint16 = 128
	DefaultRecordSize             uint16 = 128
	DefaultMaxInlineValueSize            = 32
	DefaultTreePromotionThreshold        = 100
	DefaultLockTimeout                   = 15 * time.Second
	DefaultCacheTTL                      = 60 * time.Second
	DefaultCacheMaxEntries                = 10_000
	DefaultBufferPoolMaxSize              = 256
)

// defaultOptions holds the baseline configuration for a fresh Storage.
var defaultOptions = Options{
	PageSize:                DefaultPageSize,
	RecordSize:              DefaultRecordSize,
	MaxInlineValueSize:      DefaultMaxInlineValueSize,
	TreePromotionThreshold:  DefaultTreePromotionThreshold,
	LockTimeout:             DefaultLockTimeout,
	CacheTTL:                DefaultCacheTTL,
	CacheMaxEntries:         DefaultCacheMaxEntries,
	BufferPoolMaxSize:       DefaultBufferPoolMaxSize,
}

// NewDefaultOptions returns a copy of the default configuration with
// Filepath set to filepath.
func NewDefaultOptions(filepath string) Options {
	opts := defaultOptions
	opts.Filepath = filepath
	return opts
}

// withDefaults fills any zero-valued field of opts from defaultOptions.
func withDefaults(opts Options) Options {
	d := defaultOptions
	if opts.PageSize == 0 {
		opts.PageSize = d.PageSize
	}
	if opts.RecordSize == 0 {
		opts.RecordSize = d.RecordSize
	}
	if opts.MaxInlineValueSize == 0 {
		opts.MaxInlineValueSize = d.MaxInlineValueSize
	}
	if opts.TreePromotionThreshold == 0 {
		opts.TreePromotionThreshold = d.TreePromotionThreshold
	}
	if opts.LockTimeout == 0 {
		opts.LockTimeout = d.LockTimeout
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = d.CacheTTL
	}
	if opts.CacheMaxEntries == 0 {
		opts.CacheMaxEntries = d.CacheMaxEntries
	}
	if opts.BufferPoolMaxSize == 0 {
		opts.BufferPoolMaxSize = d.BufferPoolMaxSize
	}
	return opts
}

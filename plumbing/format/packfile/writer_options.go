package packfile

import "compress/zlib"

// WriterOptions configures Encoder's pack-writing pipeline: the delta
// search window and chain depth, how many workers search for deltas in
// parallel, the compression level applied to emitted payloads, and the
// resource caps that bound delta-search memory, delta caching, and
// per-pack output size.
type WriterOptions struct {
	// Window is the number of preceding candidates considered as a
	// delta base for each object. Zero disables delta compression.
	Window uint

	// Depth is the maximum length of a delta chain. Zero defaults to
	// DefaultMaxDepth.
	Depth int

	// Threads is the number of delta-search workers run concurrently.
	// Zero or one runs the search on the calling goroutine.
	Threads int

	// Compression is the zlib compression level applied to every
	// object payload written to the pack, using the zlib package's
	// level constants. Zero is zlib.NoCompression; use
	// zlib.DefaultCompression (-1) for the default level.
	Compression int

	// WindowMemory caps the estimated number of bytes the sliding
	// delta-search window may hold. Zero means unbounded.
	WindowMemory int64

	// DeltaCacheSize caps the total bytes of delta output the search
	// retains for reuse at emission time. Zero means unbounded.
	DeltaCacheSize int64

	// DeltaCacheLimit is the small-delta threshold: a delta smaller
	// than this many bytes is admitted to the cache whatever the
	// source and target sizes, provided DeltaCacheSize still has room
	// for it.
	DeltaCacheLimit int64

	// PackSizeLimit caps the size, in bytes, of a single output pack.
	// When emitting an object would cross it, the writer closes the
	// current pack and opens a new one. Zero means unbounded (a single
	// pack).
	PackSizeLimit int64

	// AllowOfsDelta controls whether offset deltas may be produced;
	// when false every delta is written as a reference delta instead.
	AllowOfsDelta bool
}

// DefaultMaxDepth is the delta chain depth used when WriterOptions.Depth
// is left at zero.
const DefaultMaxDepth = maxDepth

// DefaultWriterOptions returns the option set equivalent to the
// pre-WriterOptions encoder: a window of 10, the default chain depth, a
// single delta-search worker, default zlib compression, offset deltas
// allowed, and no memory, cache, or pack-size caps.
func DefaultWriterOptions() WriterOptions {
	return WriterOptions{
		Window:          10,
		Depth:           DefaultMaxDepth,
		Threads:         1,
		Compression:     zlib.DefaultCompression,
		DeltaCacheLimit: smallDeltaThreshold,
		AllowOfsDelta:   true,
	}
}

// smallDeltaThreshold is the delta size, in bytes, below which a delta
// is always admitted to the in-memory cache regardless of relative
// source/target size.
const smallDeltaThreshold = 128

// normalizeOptions fills in the zero-valued fields of opts that must
// never actually be treated as zero (chain depth, worker count) with
// their defaults, leaving true "unbounded" fields (WindowMemory,
// DeltaCacheSize, PackSizeLimit) alone.
func normalizeOptions(opts WriterOptions) WriterOptions {
	if opts.Depth <= 0 {
		opts.Depth = DefaultMaxDepth
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	return opts
}

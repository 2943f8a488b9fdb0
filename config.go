package btf

// Compat selects the wire-compatibility level (spec.md §6.1, §6.3).
// CompatV4 forbids str8 and all ext forms; bin writes degrade to raw/str.
type Compat uint8

const (
	CompatV5 Compat = iota
	CompatV4
)

// Config holds the knobs of spec.md §6.3. Values must stay consistent
// across a program, matching every other instance's view of the wire.
type Config struct {
	Compat Compat

	// ExtensionsEnabled gates the ext wire forms. When false, encoding an
	// ext tag or decoding one both fail with ErrUnsupported.
	ExtensionsEnabled bool

	// SizeOptimized selects an alternate tag-dispatch shape with identical
	// behavior (spec.md §4.2, §9). It has no observable effect in this
	// implementation — see DESIGN.md's "size_optimized dispatch" entry —
	// but is threaded through so callers can still set it for parity with
	// the source configuration surface.
	SizeOptimized bool

	// StackBufferSize is the size of an on-stack scratch buffer a caller
	// may use for small streaming operations. Advisory only; this package
	// never allocates it itself.
	StackBufferSize int

	// DefaultBufferSize is the size of the buffer NewWriter and
	// NewStreamingReader allocate when the caller supplies none.
	DefaultBufferSize int

	// NodePageSize is the target size, in node records, of each arena page
	// allocated by the tree parser in paged mode (spec.md §4.6).
	NodePageSize int

	// InitialStackDepth is the initial capacity of the tree parser's
	// nesting-depth stack.
	InitialStackDepth int

	// MaxStackDepthWithoutAlloc is carried for parity with the source
	// configuration surface. The tree parser does not consult it: its depth
	// stack grows as needed, limited only by MaxNodes/MaxSize.
	MaxStackDepthWithoutAlloc int

	// MaxNodes bounds total nodes materialized by a tree parse. Zero means
	// unbounded.
	MaxNodes int

	// MaxSize bounds total bytes a tree parse may consume. Zero means
	// unbounded.
	MaxSize int
}

// DefaultConfig returns the default configuration: v5 compatibility,
// extensions disabled, a 4KiB arena page size, and generous stream buffers.
func DefaultConfig() Config {
	return Config{
		Compat:                    CompatV5,
		ExtensionsEnabled:         false,
		SizeOptimized:             false,
		StackBufferSize:           64,
		DefaultBufferSize:         4096,
		NodePageSize:              4096 / nodeRecordSize,
		InitialStackDepth:         16,
		MaxStackDepthWithoutAlloc: 0,
		MaxNodes:                  0,
		MaxSize:                   0,
	}
}

// Option mutates a Config at construction time, following the functional-
// options idiom used throughout the example pack (e.g.
// forestrie-go-merklelog/massifs/readeroptions.go).
type Option func(*Config)

func WithCompat(c Compat) Option { return func(cfg *Config) { cfg.Compat = c } }

func WithExtensions(enabled bool) Option {
	return func(cfg *Config) { cfg.ExtensionsEnabled = enabled }
}

func WithSizeOptimized(enabled bool) Option {
	return func(cfg *Config) { cfg.SizeOptimized = enabled }
}

func WithDefaultBufferSize(n int) Option {
	return func(cfg *Config) { cfg.DefaultBufferSize = n }
}

func WithNodePageSize(nodesPerPage int) Option {
	return func(cfg *Config) { cfg.NodePageSize = nodesPerPage }
}

func WithMaxNodes(n int) Option { return func(cfg *Config) { cfg.MaxNodes = n } }

func WithMaxSize(n int) Option { return func(cfg *Config) { cfg.MaxSize = n } }

func WithMaxStackDepthWithoutAlloc(n int) Option {
	return func(cfg *Config) { cfg.MaxStackDepthWithoutAlloc = n }
}

func applyOptions(cfg Config, opts []Option) Config {
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

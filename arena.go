package btf

// node is one materialized tree record (spec.md §4.6). A scalar node carries
// its decoded value directly; a compound node carries the arena-relative
// index and count of its children, which the arena guarantees are laid out
// contiguously within a single page (invariant 4).
//
// A C implementation of this format packs a handful of variant shapes into
// one 16-byte struct via a union. Go has no unions, so this record is wider
// than that — a deliberate, documented deviation (see DESIGN.md's "node
// record size" entry) rather than an attempt to hit the same byte count.
type node struct {
	kind    Kind
	boolVal bool
	intVal  int64
	uintVal uint64
	f32Val  float32
	f64Val  float64
	extType int8

	// str/bin: byte range into the arena's retained source buffer.
	// array/map: children live contiguously at childPage[childOffset:childOffset+count];
	// for maps, children alternate key, value, key, value, ...
	dataOff     uint32
	dataLen     uint32
	childPage   uint32
	childOffset uint32
	count       uint32
}

// nodeRecordSize is the approximate footprint of one node record, used only
// to size pages from a byte budget (Config.NodePageSize is expressed in
// node records, not bytes, precisely because Go's record size is not a
// fixed, portable constant the way a C struct's sizeof is).
const nodeRecordSize = 64

// arenaPage is one fixed-capacity slab of node records. Children of a
// compound node are always allocated contiguously within a single page
// (invariant 4); if a compound's declared child count would not fit in the
// space left on the current page, a new page is started (sized by
// dedicatedOrStandardPageSize) instead of spilling the compound across two
// pages.
type arenaPage struct {
	nodes []node
	used  int
}

func (p *arenaPage) free() int { return len(p.nodes) - p.used }

// arena owns every node produced by a single tree parse. It never
// reallocates a page in place, so a uint32 (page, offset) address — stored
// in node.childPage/childOffset for compounds, and mirrored by
// Node.page/offset for query-side handles — stays valid for the arena's whole lifetime
// (spec.md §4.6, §5.2 "stable addressing").
type arena struct {
	pages    []*arenaPage
	pageSize int
	pooled   bool // true when owned pages are drawn from nodePagePool
	external bool // true when nodes came from an externally supplied slice
}

func newArena(pageSize int) *arena {
	if pageSize <= 0 {
		pageSize = 1
	}
	return &arena{pageSize: pageSize, pooled: true}
}

// newArenaFromSlice builds a single-page arena over caller-owned storage
// (spec.md §5.1's "pool mode"): the parser never allocates further pages,
// and fails with ErrMemory if the slice is exhausted.
func newArenaFromSlice(backing []node) *arena {
	return &arena{
		pages:    []*arenaPage{{nodes: backing}},
		pageSize: len(backing),
		external: true,
	}
}

// reserveContiguous returns a page and a starting offset within it that can
// hold n node records contiguously, allocating a new page if needed. In
// pool mode it fails with ErrMemory once the caller-supplied slice cannot
// hold n more records; in owned-page mode it grows by pooling a page sized
// by dedicatedOrStandardPageSize.
func (a *arena) reserveContiguous(n int) (*arenaPage, int, *Error) {
	if n < 0 {
		return nil, 0, newError(ErrBug, "negative contiguous reservation %d", n)
	}
	if len(a.pages) > 0 {
		last := a.pages[len(a.pages)-1]
		if last.free() >= n {
			off := last.used
			last.used += n
			return last, off, nil
		}
	}
	if a.external {
		return nil, 0, newError(ErrMemory, "externally supplied node storage exhausted")
	}
	size := a.dedicatedOrStandardPageSize(n)
	var nodes []node
	if a.pooled {
		nodes = getNodePage(size)
	} else {
		nodes = make([]node, size)
	}
	page := &arenaPage{nodes: nodes, used: n}
	a.pages = append(a.pages, page)
	return page, 0, nil
}

// dedicatedOrStandardPageSize picks the new page's size when the current
// page can't hold n contiguous children (spec.md §4.6's paged-mode
// heuristic). A compound bigger than a standard page, or arriving once the
// current page is nearly spent, gets a page sized exactly to it — there is
// no point carrying a standard-size page's worth of mostly-wasted headroom
// just to start it off already oversubscribed or never use the slack. A
// small compound with a current page that still has real room left instead
// gets a fresh standard-size page, so later small compounds can share it.
func (a *arena) dedicatedOrStandardPageSize(n int) int {
	mostlyFull := false
	if len(a.pages) > 0 {
		last := a.pages[len(a.pages)-1]
		mostlyFull = last.free() < a.pageSize/4
	}
	if n > a.pageSize || mostlyFull {
		return n // dedicated: exactly what the compound needs
	}
	return a.pageSize // standard: leaves room for later small compounds
}

// at returns the node at a (page, offset) address produced by
// reserveContiguous.
func (a *arena) at(pageIdx, offset uint32) *node {
	return &a.pages[pageIdx].nodes[offset]
}

// child returns the i'th child of n, which must be a compound node.
func (a *arena) child(n *node, i uint32) *node {
	return a.at(n.childPage, n.childOffset+i)
}

func (a *arena) pageIndex(p *arenaPage) int {
	for i, pg := range a.pages {
		if pg == p {
			return i
		}
	}
	return -1
}

// release returns every owned page to the pool (a no-op in pool mode, where
// the caller owns the backing slice) and drops the arena's page list. It
// must only be called once no Tree still references this arena.
func (a *arena) release() {
	if a.pooled && !a.external {
		for _, p := range a.pages {
			putNodePage(p.nodes)
		}
	}
	a.pages = nil
}

func (a *arena) totalNodes() int {
	n := 0
	for _, p := range a.pages {
		n += p.used
	}
	return n
}

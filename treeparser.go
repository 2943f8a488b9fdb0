package btf

import "math"

// parseFrame is one open compound awaiting its declared children, tracked
// on TreeParser's explicit stack rather than the Go call stack so a parse
// can suspend at any tag boundary and resume later (spec.md §4.7,
// "resumable iterative parser").
type parseFrame struct {
	page      uint32
	offset    uint32
	total     uint32
	remaining uint32
}

// TreeParser materializes a wire message into an arena-backed Tree
// (spec.md §4.6-4.7). Feed appends newly available input; TryParse makes as
// much progress as the buffered input allows and never blocks. Before
// accepting any compound header, it checks the header's declared child
// count against the remaining node budget and rejects it outright if the
// count alone would exceed a caller-configured MaxNodes; separately,
// and regardless of whether either budget was configured, it also floors
// the declared count against the bytes actually fed into the parser so far
// (totalFed/bytesReserved below) — a header can never reserve more children
// than the input could possibly back, so a handful of adversarial bytes
// claiming billions of children is simply treated as incomplete rather than
// allocated for (spec.md's "pre-reservation accounting" bounding a hostile
// oversized header to O(size(B)) work, not O(1) trust in the header alone).
//
// A str/bin/ext payload can straddle many Feed calls; TryParse copies
// whatever is currently buffered into the tree's retained data and
// suspends mid-payload rather than requiring the whole value to arrive in
// one chunk (spec.md §4.7's resumption contract, exercised by scenario S7).
type TreeParser struct {
	cfg   Config
	arena *arena

	frames []parseFrame
	buf    []byte
	data   []byte

	nodesLeft uint64
	bytesLeft uint64

	// totalFed is every byte ever passed to Feed, cumulative and never
	// decremented. bytesReserved is the running total of children declared
	// by every array/map header accepted so far, also cumulative. Since a
	// child needs at least one byte on the wire, bytesReserved must never
	// run ahead of totalFed — this floor holds even when MaxNodes/MaxSize
	// are left at their unbounded defaults, so a handful of adversarial
	// header bytes can never provoke an allocation disproportionate to the
	// input actually supplied (spec.md §4.7, §8.1 property 4), mirroring
	// possible_nodes_left/current_node_reserved in the C tree parser this
	// one is modeled on.
	totalFed      uint64
	bytesReserved uint64

	// Set while a str/bin/ext payload is only partially drained.
	pendingLeaf       bool
	pendingRemaining  uint64
	pendingDataOff    uint32
	pendingSlotPage   uint32
	pendingSlotOffset uint32
	pendingFrameIndex int

	rootPage   uint32
	rootOffset uint32
	done       bool

	lat latch
}

func unboundedIfZero(n int) uint64 {
	if n <= 0 {
		return math.MaxUint64
	}
	return uint64(n)
}

// NewTreeParser starts a new parse under cfg. opts may override cfg's
// MaxNodes/MaxSize/NodePageSize for this one parse.
func NewTreeParser(cfg Config, opts ...Option) *TreeParser {
	cfg = applyOptions(cfg, opts)
	depth := cfg.InitialStackDepth
	if depth <= 0 {
		depth = 16
	}
	p := &TreeParser{
		cfg:       cfg,
		arena:     newArena(cfg.NodePageSize),
		nodesLeft: unboundedIfZero(cfg.MaxNodes),
		bytesLeft: unboundedIfZero(cfg.MaxSize),
		frames:    make([]parseFrame, 0, depth),
	}
	page, off, err := p.arena.reserveContiguous(1)
	if err != nil {
		p.lat.fail(err.Kind, "%s", err.Msg)
		return p
	}
	if p.nodesLeft == 0 {
		p.lat.fail(ErrTooBig, "node budget exhausted before root")
		return p
	}
	p.nodesLeft--
	pageIdx := uint32(p.arena.pageIndex(page))
	p.rootPage, p.rootOffset = pageIdx, uint32(off)
	p.frames = append(p.frames, parseFrame{page: pageIdx, offset: uint32(off), total: 1, remaining: 1})
	return p
}

// Feed appends newly available input bytes. It is a no-op once the parser
// has latched an error or finished.
func (p *TreeParser) Feed(chunk []byte) *Error {
	if !p.lat.ok() {
		return p.lat.err
	}
	p.buf = append(p.buf, chunk...)
	p.totalFed += uint64(len(chunk))
	return nil
}

// Err returns the latched parse error, if any.
func (p *TreeParser) Err() error { return p.lat.Err() }

// Done reports whether the root value has been fully materialized.
func (p *TreeParser) Done() bool { return p.done }

// drainPendingLeaf copies as much of the in-flight str/bin/ext payload out
// of p.buf as is currently available. It returns true once the payload is
// fully drained and the owning node/frame have been updated; false means
// more input is needed and pendingLeaf remains set for the next call.
func (p *TreeParser) drainPendingLeaf() bool {
	if p.pendingRemaining > 0 {
		avail := uint64(len(p.buf))
		if avail == 0 {
			return false
		}
		take := avail
		if take > p.pendingRemaining {
			take = p.pendingRemaining
		}
		if take > p.bytesLeft {
			p.lat.fail(ErrTooBig, "message exceeds configured byte budget")
			return true
		}
		p.bytesLeft -= take
		p.data = append(p.data, p.buf[:take]...)
		p.buf = p.buf[take:]
		p.pendingRemaining -= take
		if p.pendingRemaining > 0 {
			return false
		}
	}
	slot := p.arena.at(p.pendingSlotPage, p.pendingSlotOffset)
	slot.dataOff = p.pendingDataOff
	slot.dataLen = uint32(len(p.data)) - p.pendingDataOff
	p.frames[p.pendingFrameIndex].remaining--
	p.pendingLeaf = false
	return true
}

// TryParse consumes as much of the buffered input as forms complete tags
// (or, for an in-flight payload, as many payload bytes as are buffered)
// and returns true once the whole value has been materialized. It returns
// (false, nil) when more input is needed — the caller should Feed more
// bytes and call TryParse again. It never blocks and never discards
// unconsumed input.
func (p *TreeParser) TryParse() (bool, *Error) {
	if !p.lat.ok() {
		return false, p.lat.err
	}
	if p.done {
		return true, nil
	}
	for {
		if p.pendingLeaf {
			if !p.drainPendingLeaf() {
				return false, nil
			}
			if !p.lat.ok() {
				return false, p.lat.err
			}
			continue
		}

		for len(p.frames) > 0 && p.frames[len(p.frames)-1].remaining == 0 {
			p.frames = p.frames[:len(p.frames)-1]
		}
		if len(p.frames) == 0 {
			p.done = true
			return true, nil
		}

		if len(p.buf) < 1 {
			return false, nil
		}
		need := tagHeaderSize(p.buf[0])
		if len(p.buf) < need {
			return false, nil
		}
		tag, hdrLen, perr := ParseTag(p.buf, p.cfg.ExtensionsEnabled)
		if perr != nil {
			return false, p.lat.fail(perr.Kind, "%s", perr.Msg)
		}
		if uint64(hdrLen) > p.bytesLeft {
			return false, p.lat.fail(ErrTooBig, "message exceeds configured byte budget")
		}
		var childSlots uint64
		if tag.Kind() == KindArray || tag.Kind() == KindMap {
			childSlots = tag.Len()
			if tag.Kind() == KindMap {
				if childSlots > math.MaxUint64/2 {
					return false, p.lat.fail(ErrTooBig, "map pair count %d overflows", childSlots)
				}
				childSlots *= 2
			}
			// A caller-configured MaxNodes gives a definite answer
			// regardless of how much input has arrived, so check it first.
			if childSlots > p.nodesLeft {
				return false, p.lat.fail(ErrTooBig, "declared child count %d exceeds remaining node budget", childSlots)
			}
			if childSlots > uint64(math.MaxUint32) {
				return false, p.lat.fail(ErrTooBig, "declared child count %d is unreasonably large", childSlots)
			}
			// Each child needs at least one byte on the wire, so a header
			// cannot be admitted until that many bytes have actually been
			// fed - this floor is unconditional, unlike nodesLeft/bytesLeft
			// above, which only bind when the caller configured
			// MaxNodes/MaxSize. Left unparsed (buf untouched), the header
			// is simply retried once more input arrives.
			reserved := p.bytesReserved + childSlots
			if reserved < p.bytesReserved {
				return false, p.lat.fail(ErrTooBig, "declared child count %d overflows the reservation counter", childSlots)
			}
			if reserved > p.totalFed {
				return false, nil
			}
			p.bytesReserved = reserved
			p.nodesLeft -= childSlots
		}

		p.bytesLeft -= uint64(hdrLen)
		p.buf = p.buf[hdrLen:]

		frameIdx := len(p.frames) - 1
		top := &p.frames[frameIdx]
		slotOffset := top.offset + (top.total - top.remaining)
		slot := p.arena.at(top.page, slotOffset)

		switch tag.Kind() {
		case KindNil:
			slot.kind = KindNil
			top.remaining--
		case KindBool:
			slot.kind, slot.boolVal = KindBool, tag.Bool()
			top.remaining--
		case KindInt:
			slot.kind, slot.intVal = KindInt, tag.Int()
			top.remaining--
		case KindUint:
			slot.kind, slot.uintVal = KindUint, tag.Uint()
			top.remaining--
		case KindFloat32:
			slot.kind, slot.f32Val = KindFloat32, tag.Float32()
			top.remaining--
		case KindFloat64:
			slot.kind, slot.f64Val = KindFloat64, tag.Float64()
			top.remaining--
		case KindStr, KindBin, KindExt:
			if tag.Len() > uint64(math.MaxUint32) {
				return false, p.lat.fail(ErrTooBig, "payload length %d is unreasonably large", tag.Len())
			}
			slot.kind = tag.Kind()
			if tag.Kind() == KindExt {
				if !p.cfg.ExtensionsEnabled {
					return false, p.lat.fail(ErrUnsupported, "extensions are disabled")
				}
				slot.extType = tag.ExtType()
			}
			p.pendingLeaf = true
			p.pendingRemaining = tag.Len()
			p.pendingDataOff = uint32(len(p.data))
			p.pendingSlotPage, p.pendingSlotOffset = top.page, slotOffset
			p.pendingFrameIndex = frameIdx
			if !p.drainPendingLeaf() {
				return false, nil
			}
			if !p.lat.ok() {
				return false, p.lat.err
			}
		case KindArray, KindMap:
			// childSlots was already computed, budget-checked, and floored
			// against bytes fed above; p.nodesLeft was already debited.
			slot.kind, slot.count = tag.Kind(), uint32(childSlots)
			top.remaining--
			if childSlots > 0 {
				page, off, aerr := p.arena.reserveContiguous(int(childSlots))
				if aerr != nil {
					return false, p.lat.fail(aerr.Kind, "%s", aerr.Msg)
				}
				pageIdx := uint32(p.arena.pageIndex(page))
				slot.childPage, slot.childOffset = pageIdx, uint32(off)
				p.frames = append(p.frames, parseFrame{page: pageIdx, offset: uint32(off), total: uint32(childSlots), remaining: uint32(childSlots)})
			}
		default:
			return false, p.lat.fail(ErrInvalid, "unexpected tag kind %s in tree input", tag.Kind())
		}
	}
}

// Parse runs TryParse to completion, calling fill to obtain more bytes
// whenever buffered input runs out. fill returns (nil, true, nil) at a
// clean end of input; any non-nil chunk is fed regardless of eof.
func (p *TreeParser) Parse(fill func() (chunk []byte, eof bool, err *Error)) (*Tree, *Error) {
	for {
		done, err := p.TryParse()
		if err != nil {
			return nil, err
		}
		if done {
			return p.Finish()
		}
		chunk, eof, ferr := fill()
		if ferr != nil {
			return nil, p.lat.fail(ferr.Kind, "%s", ferr.Msg)
		}
		if len(chunk) > 0 {
			if err := p.Feed(chunk); err != nil {
				return nil, err
			}
			continue
		}
		if eof {
			return nil, p.lat.fail(ErrEOF, "input ended with a value still incomplete")
		}
	}
}

// Finish returns the materialized Tree. It must only be called once
// TryParse has returned true.
func (p *TreeParser) Finish() (*Tree, *Error) {
	if !p.lat.ok() {
		return nil, p.lat.err
	}
	if !p.done {
		return nil, newError(ErrBug, "Finish called before the parse completed")
	}
	return &Tree{
		arena:      p.arena,
		data:       p.data,
		rootPage:   p.rootPage,
		rootOffset: p.rootOffset,
	}, nil
}

// Destroy releases the arena and any in-flight nodes. Call it when
// abandoning a parse without calling Finish (e.g. after a latched error).
func (p *TreeParser) Destroy() {
	if p.arena != nil {
		p.arena.release()
	}
}

// tagHeaderSize returns the number of header bytes a tag starting with b0
// needs, based solely on the opcode — every header length is fixed once
// the opcode is known, regardless of the length/count value it carries.
func tagHeaderSize(b0 byte) int {
	switch {
	case b0 <= opPosFixIntMax, b0 >= opFixMapMin && b0 <= opFixMapMax,
		b0 >= opFixArrMin && b0 <= opFixArrMax, b0 >= opFixStrMin && b0 <= opFixStrMax,
		b0 >= opNegFixIntMin:
		return 1
	}
	switch b0 {
	case opNil, opReserved, opFalse, opTrue:
		return 1
	case opBin8, opU8, opI8, opFixExt1, opFixExt2, opFixExt4, opFixExt8, opFixExt16, opStr8:
		return 2
	case opBin16, opU16, opI16, opExt8, opStr16, opArray16, opMap16:
		return 3
	case opExt16:
		return 4
	case opBin32, opU32, opI32, opFloat32, opStr32, opArray32, opMap32:
		return 5
	case opExt32:
		return 6
	case opU64, opI64, opFloat64:
		return 9
	}
	return 1
}

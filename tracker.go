package btf

// trackFrame records one open compound on the structural tracker's stack
// (spec.md §4.3): an array counts remaining elements, a map counts
// remaining key and value halves (two per pair), a str/bin/ext counts
// remaining payload bytes.
type trackFrame struct {
	kind          Kind
	remaining     uint64
	keyNeedsValue bool // map only: true right after a key is consumed
}

// tracker is a cheap, in-memory stack enforcing invariant 3: every compound
// opened on the streaming surfaces must be closed exactly once, in LIFO
// order, with matching kind and its declared length fully consumed.
//
// Any mismatch here is a programmer error (ErrBug), not a wire-format
// error: the caller asked the writer/reader to do something structurally
// inconsistent with what it already emitted/consumed.
type tracker struct {
	stack []trackFrame
}

func (t *tracker) push(kind Kind, count uint64) {
	if t.stack == nil {
		t.stack = getTrackFrames()
	}
	t.stack = append(t.stack, trackFrame{kind: kind, remaining: count})
}

// release returns the tracker's backing slice to its pool. Call it once,
// from the owning Writer/Reader's Destroy, after checkEmpty has confirmed
// nothing is still open.
func (t *tracker) release() {
	putTrackFrames(t.stack)
	t.stack = nil
}

func (t *tracker) depth() int { return len(t.stack) }

func (t *tracker) top() (*trackFrame, bool) {
	if len(t.stack) == 0 {
		return nil, false
	}
	return &t.stack[len(t.stack)-1], true
}

// element accounts for one array element or one map key/value half being
// produced/consumed. For maps it alternates key/value, decrementing the
// half counter on each and recording in keyNeedsValue whether a key still
// awaits its value.
func (t *tracker) element() *Error {
	f, ok := t.top()
	if !ok {
		return nil // not inside any compound: nothing to track
	}
	switch f.kind {
	case KindArray:
		if f.remaining == 0 {
			return newError(ErrBug, "array element written past declared length")
		}
		f.remaining--
		return nil
	case KindMap:
		if f.keyNeedsValue {
			if f.remaining == 0 {
				return newError(ErrBug, "map value written past declared length")
			}
			f.remaining--
			f.keyNeedsValue = false
			return nil
		}
		if f.remaining == 0 {
			return newError(ErrBug, "map key written past declared length")
		}
		f.remaining--
		f.keyNeedsValue = true
		return nil
	default:
		return nil // str/bin/ext track bytes, not elements
	}
}

// peekElement reports the kind of the innermost open compound and whether
// any compound is open at all, without mutating state.
func (t *tracker) peekElement() (Kind, bool) {
	f, ok := t.top()
	if !ok {
		return KindNil, false
	}
	return f.kind, true
}

// bytesConsumed accounts for n payload bytes of the top str/bin/ext frame.
func (t *tracker) bytesConsumed(n uint64) *Error {
	f, ok := t.top()
	if !ok {
		return nil
	}
	switch f.kind {
	case KindStr, KindBin, KindExt:
		if n > f.remaining {
			return newError(ErrBug, "read/write %d bytes exceeds %d remaining", n, f.remaining)
		}
		f.remaining -= n
		return nil
	default:
		return nil
	}
}

// pop closes the top compound. It requires the top frame's kind to match
// and its remaining counter to be zero; for maps it additionally requires
// that no key is awaiting its value.
func (t *tracker) pop(kind Kind) *Error {
	f, ok := t.top()
	if !ok {
		return newError(ErrBug, "close %s with nothing open", kind)
	}
	if f.kind != kind {
		return newError(ErrBug, "close %s but %s is open", kind, f.kind)
	}
	if f.remaining != 0 {
		return newError(ErrBug, "close %s with %d elements still declared", kind, f.remaining)
	}
	if f.kind == KindMap && f.keyNeedsValue {
		return newError(ErrBug, "close map with a key awaiting its value")
	}
	t.stack = t.stack[:len(t.stack)-1]
	return nil
}

// checkEmpty is asserted at destroy time (spec.md §3.3, §4.3).
func (t *tracker) checkEmpty() *Error {
	if len(t.stack) != 0 {
		top, _ := t.top()
		return newError(ErrBug, "destroyed with %d compound(s) still open (innermost %s)", len(t.stack), top.kind)
	}
	return nil
}

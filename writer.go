package btf

import "github.com/delaneyj/toolbelt/bytebufferpool"

// Sink receives a full buffer's worth of encoded bytes during a flush.
// It returns an error if the bytes could not be delivered (e.g. a short
// or failed underlying write); the Writer latches that as ErrIO.
type Sink func(chunk []byte) error

// Writer is the streaming tag encoder (spec.md §4.4). It accumulates
// encoded bytes into a bounded buffer and, once full, either flushes to a
// Sink (bounded streaming mode) or fails with ErrTooBig (fixed-capacity
// mode with no sink). A Writer opened with NewGrowableWriter instead grows
// its buffer on demand and never flushes, for callers that want one
// complete in-memory message.
type Writer struct {
	cfg Config

	buf       []byte
	pos       int
	bufPooled bool
	sink      Sink

	growable *bytebufferpool.ByteBuffer

	tr  tracker
	lat latch

	teardown func()
}

// NewWriter creates a bounded-buffer Writer over buf (or a fresh
// DefaultBufferSize-d buffer if buf is nil). sink may be nil, in which case
// the buffer must hold an entire message or writes fail with ErrTooBig.
func NewWriter(cfg Config, buf []byte, sink Sink) *Writer {
	pooled := false
	if buf == nil {
		size := cfg.DefaultBufferSize
		if size <= 0 {
			size = 4096
		}
		buf = getScratchBytes(size)
		pooled = true
	}
	return &Writer{cfg: cfg, buf: buf, sink: sink, bufPooled: pooled}
}

// NewGrowableWriter creates a Writer backed by a pooled, growable buffer
// (spec.md §4.4's growable-flush variant) built on
// github.com/delaneyj/toolbelt/bytebufferpool, the same buffer type the
// teacher's own encoder uses (encode.go, value.go).
func NewGrowableWriter(cfg Config) *Writer {
	return &Writer{cfg: cfg, growable: bytebufferpool.Get()}
}

// SetErrorCallback installs a callback invoked exactly once, the first
// time an error is latched.
func (w *Writer) SetErrorCallback(fn func(*Error)) { w.lat.onError = fn }

// SetTeardown installs a callback invoked exactly once, from Destroy.
func (w *Writer) SetTeardown(fn func()) { w.teardown = fn }

// Err returns the latched error, if any.
func (w *Writer) Err() error { return w.lat.Err() }

// Len returns the number of bytes written so far that have not yet been
// flushed (bounded mode) or the total bytes written (growable mode).
func (w *Writer) Len() int {
	if w.growable != nil {
		return w.growable.Len()
	}
	return w.pos
}

// Bytes returns the accumulated bytes of a growable Writer. It must not be
// called on a bounded (flushing) Writer, whose bytes are delivered to the
// Sink incrementally instead.
func (w *Writer) Bytes() ([]byte, *Error) {
	if w.growable == nil {
		return nil, newError(ErrBug, "Bytes is only valid on a growable Writer")
	}
	return w.growable.Bytes(), nil
}

func (w *Writer) flush() *Error {
	if w.pos == 0 {
		return nil
	}
	if w.sink == nil {
		return w.lat.fail(ErrTooBig, "buffer full with no sink to flush to")
	}
	if err := w.sink(w.buf[:w.pos]); err != nil {
		return w.lat.fail(ErrIO, "sink: %v", err)
	}
	w.pos = 0
	return nil
}

// writeRaw appends b to the buffer, flushing as many times as needed when
// b is larger than the remaining bounded space.
func (w *Writer) writeRaw(b []byte) *Error {
	if !w.lat.ok() {
		return w.lat.err
	}
	if w.growable != nil {
		if _, err := w.growable.Write(b); err != nil {
			return w.lat.fail(ErrMemory, "growable buffer write: %v", err)
		}
		return nil
	}
	for len(b) > 0 {
		room := len(w.buf) - w.pos
		if room == 0 {
			if err := w.flush(); err != nil {
				return err
			}
			room = len(w.buf)
			if room == 0 {
				return w.lat.fail(ErrBug, "writer has a zero-length buffer")
			}
			continue
		}
		n := room
		if n > len(b) {
			n = len(b)
		}
		copy(w.buf[w.pos:], b[:n])
		w.pos += n
		b = b[n:]
	}
	return nil
}

func (w *Writer) writeTag(tag Tag) *Error {
	var hdr [MaxTagSize + HeaderExt32Tot]byte
	out, _, err := EncodeTag(hdr[:0], tag, w.cfg.Compat, w.cfg.ExtensionsEnabled)
	if err != nil {
		btfErr, _ := err.(*Error)
		if btfErr == nil {
			btfErr = newError(ErrInvalid, "%v", err)
		}
		return w.lat.fail(btfErr.Kind, "%s", btfErr.Msg)
	}
	return w.writeRaw(out)
}

// element accounts for one value written inside the currently open
// compound, if any, mirroring structural bookkeeping onto the tracker.
func (w *Writer) element() *Error {
	if err := w.tr.element(); err != nil {
		debugAssert(false, "%s", err.Msg)
		return w.lat.fail(err.Kind, "%s", err.Msg)
	}
	return nil
}

func (w *Writer) WriteNil() *Error {
	if err := w.writeTag(TagNil()); err != nil {
		return err
	}
	return w.element()
}

func (w *Writer) WriteBool(v bool) *Error {
	if err := w.writeTag(TagBool(v)); err != nil {
		return err
	}
	return w.element()
}

func (w *Writer) WriteInt(v int64) *Error {
	if err := w.writeTag(TagInt(v)); err != nil {
		return err
	}
	return w.element()
}

func (w *Writer) WriteUint(v uint64) *Error {
	if err := w.writeTag(TagUint(v)); err != nil {
		return err
	}
	return w.element()
}

func (w *Writer) WriteFloat32(v float32) *Error {
	if err := w.writeTag(TagFloat32(v)); err != nil {
		return err
	}
	return w.element()
}

func (w *Writer) WriteFloat64(v float64) *Error {
	if err := w.writeTag(TagFloat64(v)); err != nil {
		return err
	}
	return w.element()
}

func (w *Writer) WriteStr(s string) *Error {
	if err := w.writeTag(TagStr(uint64(len(s)))); err != nil {
		return err
	}
	if err := w.writeRaw([]byte(s)); err != nil {
		return err
	}
	return w.element()
}

func (w *Writer) WriteBin(b []byte) *Error {
	if err := w.writeTag(TagBin(uint64(len(b)))); err != nil {
		return err
	}
	if err := w.writeRaw(b); err != nil {
		return err
	}
	return w.element()
}

func (w *Writer) WriteExt(extType int8, payload []byte) *Error {
	if err := w.writeTag(TagExt(extType, uint64(len(payload)))); err != nil {
		return err
	}
	if err := w.writeRaw(payload); err != nil {
		return err
	}
	return w.element()
}

// WriteTimestamp writes an ext(-1) timestamp in its minimal representation
// (spec.md §6.1, invariant 6).
func (w *Writer) WriteTimestamp(sec int64, nsec int32) *Error {
	payload, err := EncodeTimestampPayload(sec, nsec)
	if err != nil {
		return w.lat.fail(err.Kind, "%s", err.Msg)
	}
	return w.WriteExt(ExtTimestamp, payload)
}

// OpenArray writes an array header declaring count elements; the caller
// must write exactly count values before calling CloseArray.
func (w *Writer) OpenArray(count uint64) *Error {
	if err := w.writeTag(TagArray(count)); err != nil {
		return err
	}
	if err := w.element(); err != nil {
		return err
	}
	w.tr.push(KindArray, count)
	return nil
}

func (w *Writer) CloseArray() *Error {
	if err := w.tr.pop(KindArray); err != nil {
		debugAssert(false, "%s", err.Msg)
		return w.lat.fail(err.Kind, "%s", err.Msg)
	}
	return nil
}

// OpenMap writes a map header declaring count key/value pairs; the caller
// must write exactly 2*count values (alternating key, value) before
// calling CloseMap.
func (w *Writer) OpenMap(count uint64) *Error {
	if err := w.writeTag(TagMap(count)); err != nil {
		return err
	}
	if err := w.element(); err != nil {
		return err
	}
	w.tr.push(KindMap, count*2)
	return nil
}

func (w *Writer) CloseMap() *Error {
	if err := w.tr.pop(KindMap); err != nil {
		debugAssert(false, "%s", err.Msg)
		return w.lat.fail(err.Kind, "%s", err.Msg)
	}
	return nil
}

// Flush forces any buffered bytes out to the Sink. It is a no-op in
// growable mode.
func (w *Writer) Flush() *Error { return w.flush() }

// Destroy asserts (under btf_debug_assertions) that every opened compound
// was closed, flushes any remaining bytes, releases the growable buffer if
// any, and invokes the teardown callback exactly once.
func (w *Writer) Destroy() *Error {
	if err := w.tr.checkEmpty(); err != nil {
		debugAssert(false, "%s", err.Msg)
		w.lat.fail(err.Kind, "%s", err.Msg)
	}
	if w.lat.ok() {
		w.flush()
	}
	if w.growable != nil {
		bytebufferpool.Put(w.growable)
		w.growable = nil
	}
	if w.bufPooled {
		putScratchBytes(w.buf)
		w.buf, w.bufPooled = nil, false
	}
	w.tr.release()
	if w.teardown != nil {
		w.teardown()
		w.teardown = nil
	}
	return w.lat.err
}

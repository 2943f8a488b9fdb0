package btf

import (
	"io"
	"math"
	"unicode/utf8"
)

// Fill pulls more bytes into dst and returns how many it wrote. It returns
// io.EOF once the source is exhausted. A non-nil, non-io.EOF error is
// latched as ErrIO.
type Fill func(dst []byte) (n int, err error)

// Skip advances a seekable source by n bytes without reading them.
type Skip func(n uint64) error

// Reader is the streaming tag reader (spec.md §4.5): a cursor over a lazy
// tag sequence, either over a fully pre-loaded buffer or a bounded buffer
// topped up on demand by a Fill callback.
type Reader struct {
	cfg Config

	buf       []byte
	pos, end  int
	bufPooled bool
	fill      Fill
	skip      Skip

	tr  tracker
	lat latch

	teardown func()
}

// NewReader creates a Reader over a complete, already-available message.
func NewReader(cfg Config, data []byte) *Reader {
	return &Reader{cfg: cfg, buf: data, pos: 0, end: len(data)}
}

// NewStreamingReader creates a Reader over a bounded scratch buffer (or a
// fresh DefaultBufferSize-d one if buf is nil) that fill tops up whenever
// more bytes are needed than are currently buffered.
func NewStreamingReader(cfg Config, buf []byte, fill Fill) *Reader {
	pooled := false
	if buf == nil {
		size := cfg.DefaultBufferSize
		if size <= 0 {
			size = 4096
		}
		buf = getScratchBytes(size)
		pooled = true
	}
	return &Reader{cfg: cfg, buf: buf, fill: fill, bufPooled: pooled}
}

func (r *Reader) SetErrorCallback(fn func(*Error)) { r.lat.onError = fn }
func (r *Reader) SetTeardown(fn func())            { r.teardown = fn }
func (r *Reader) Err() error                       { return r.lat.Err() }

// SetSkip installs a callback for seekable sources. skipBytes uses it to
// jump past large discard runs instead of filling and dropping.
func (r *Reader) SetSkip(fn Skip) { r.skip = fn }

// Depth returns the current compound nesting depth.
func (r *Reader) Depth() int { return r.tr.depth() }

// ensure guarantees r.buf[r.pos:r.pos+n] is a contiguous, valid view,
// compacting already-read bytes out of the way and pulling more from fill
// as needed. eofOK allows treating a fully-drained source as a clean
// ErrEOF instead of ErrIO; callers only pass true when ensuring the first
// byte of a brand-new top-level tag.
func (r *Reader) ensure(n int, eofOK bool) *Error {
	if n > len(r.buf) {
		return r.lat.fail(ErrTooBig, "requested %d bytes exceeds the %d-byte buffer", n, len(r.buf))
	}
	if r.end-r.pos >= n {
		return nil
	}
	if r.pos > 0 {
		copy(r.buf, r.buf[r.pos:r.end])
		r.end -= r.pos
		r.pos = 0
	}
	for r.end < n {
		if r.fill == nil {
			return r.exhausted(eofOK)
		}
		m, ferr := r.fill(r.buf[r.end:])
		if m > 0 {
			r.end += m
			continue
		}
		if ferr != nil && ferr != io.EOF {
			return r.lat.fail(ErrIO, "fill: %v", ferr)
		}
		return r.exhausted(eofOK)
	}
	return nil
}

func (r *Reader) exhausted(eofOK bool) *Error {
	if eofOK && r.end == r.pos {
		return r.lat.fail(ErrEOF, "clean end of input")
	}
	return r.lat.fail(ErrIO, "unexpected end of input")
}

// PeekTag parses the next tag header without consuming it or updating
// structural tracking.
func (r *Reader) PeekTag() (Tag, *Error) {
	if !r.lat.ok() {
		return Tag{}, r.lat.err
	}
	eofOK := r.tr.depth() == 0
	if err := r.ensure(1, eofOK); err != nil {
		return Tag{}, err
	}
	need := tagHeaderSize(r.buf[r.pos])
	if err := r.ensure(need, false); err != nil {
		return Tag{}, err
	}
	tag, _, perr := ParseTag(r.buf[r.pos:r.end], r.cfg.ExtensionsEnabled)
	if perr != nil {
		return Tag{}, r.lat.fail(perr.Kind, "%s", perr.Msg)
	}
	return tag, nil
}

func (r *Reader) accountElement() *Error {
	if err := r.tr.element(); err != nil {
		debugAssert(false, "%s", err.Msg)
		return r.lat.fail(err.Kind, "%s", err.Msg)
	}
	return nil
}

func (r *Reader) closeBytesFrame(kind Kind) *Error {
	if err := r.tr.pop(kind); err != nil {
		debugAssert(false, "%s", err.Msg)
		return r.lat.fail(err.Kind, "%s", err.Msg)
	}
	return r.accountElement()
}

// ReadTag parses and consumes the next tag header. For array/map it pushes
// a new tracker frame and accounts for the compound itself as one element
// of its parent. For str/bin/ext it pushes a byte-counted frame that the
// caller must drain with ReadFull (or ReadStr/ReadBin/ReadStrInPlace/
// ReadBinInPlace) before reading anything else; Discard cannot drain it,
// since Discard starts by reading a new tag. For every other kind it accounts for the value directly.
func (r *Reader) ReadTag() (Tag, *Error) {
	if !r.lat.ok() {
		return Tag{}, r.lat.err
	}
	eofOK := r.tr.depth() == 0
	if err := r.ensure(1, eofOK); err != nil {
		return Tag{}, err
	}
	need := tagHeaderSize(r.buf[r.pos])
	if err := r.ensure(need, false); err != nil {
		return Tag{}, err
	}
	tag, n, perr := ParseTag(r.buf[r.pos:r.end], r.cfg.ExtensionsEnabled)
	if perr != nil {
		return Tag{}, r.lat.fail(perr.Kind, "%s", perr.Msg)
	}
	r.pos += n

	switch tag.Kind() {
	case KindArray, KindMap:
		if err := r.accountElement(); err != nil {
			return Tag{}, err
		}
		count := tag.Len()
		if tag.Kind() == KindMap {
			count *= 2
		}
		r.tr.push(tag.Kind(), count)
	case KindStr, KindBin, KindExt:
		r.tr.push(tag.Kind(), tag.Len())
		if tag.Len() == 0 {
			if err := r.closeBytesFrame(tag.Kind()); err != nil {
				return Tag{}, err
			}
		}
	default:
		if err := r.accountElement(); err != nil {
			return Tag{}, err
		}
	}
	return tag, nil
}

// ReadFull drains exactly len(dst) bytes of the currently open str/bin/ext
// payload into dst, pulling more input as needed rather than requiring it
// all to be buffered contiguously up front. It follows the "small fraction"
// read-run rule: once what's left to read drops to buffer_size/32 or below,
// it tops up the internal buffer and copies out of that; above that
// fraction it reads straight into dst, skipping the extra copy through the
// buffer entirely.
func (r *Reader) ReadFull(dst []byte) *Error {
	if !r.lat.ok() {
		return r.lat.err
	}
	top, ok := r.tr.top()
	if !ok || uint64(len(dst)) > top.remaining {
		return r.lat.fail(ErrBug, "ReadFull(%d) exceeds the open payload's remaining bytes", len(dst))
	}
	smallFraction := len(r.buf) / 32
	remaining := dst
	for len(remaining) > 0 {
		buffered := r.end - r.pos
		if buffered == 0 && r.fill != nil && len(remaining) > smallFraction {
			n, ferr := r.fill(remaining)
			if n > 0 {
				remaining = remaining[n:]
				continue
			}
			if ferr != nil && ferr != io.EOF {
				return r.lat.fail(ErrIO, "fill: %v", ferr)
			}
			return r.exhausted(false)
		}
		if buffered == 0 {
			if err := r.ensure(1, false); err != nil {
				return err
			}
			buffered = r.end - r.pos
		}
		k := buffered
		if k > len(remaining) {
			k = len(remaining)
		}
		copy(remaining[:k], r.buf[r.pos:r.pos+k])
		r.pos += k
		remaining = remaining[k:]
	}
	return r.finishBytes(top.kind, uint64(len(dst)))
}

func (r *Reader) finishBytes(kind Kind, n uint64) *Error {
	if err := r.tr.bytesConsumed(n); err != nil {
		debugAssert(false, "%s", err.Msg)
		return r.lat.fail(err.Kind, "%s", err.Msg)
	}
	if top, ok := r.tr.top(); ok && top.remaining == 0 {
		return r.closeBytesFrame(kind)
	}
	return nil
}

// ReadStr and ReadBin copy the full payload declared by a preceding
// ReadTag out of the stream.
func (r *Reader) ReadStr(length uint64) (string, *Error) {
	buf := make([]byte, length)
	if err := r.ReadFull(buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

func (r *Reader) ReadBin(length uint64) ([]byte, *Error) {
	buf := make([]byte, length)
	if err := r.ReadFull(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func (r *Reader) ReadExtPayload(length uint64) ([]byte, *Error) {
	return r.ReadBin(length)
}

// ReadStrChecked reads a str payload and validates it as UTF-8, latching
// ErrType on failure (spec.md §4.5's "UTF-8 variants of read operations").
func (r *Reader) ReadStrChecked(length uint64) (string, *Error) {
	s, err := r.ReadStr(length)
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(s) {
		return "", r.lat.fail(ErrType, "str payload is not valid UTF-8")
	}
	return s, nil
}

// ReadStrInPlaceChecked is the zero-copy counterpart of ReadStrChecked.
func (r *Reader) ReadStrInPlaceChecked(length uint64) ([]byte, *Error) {
	b, err := r.ReadStrInPlace(length)
	if err != nil {
		return nil, err
	}
	if !utf8.Valid(b) {
		return nil, r.lat.fail(ErrType, "str payload is not valid UTF-8")
	}
	return b, nil
}

// ReadStrInPlace and ReadBinInPlace return a zero-copy view into the
// Reader's own buffer instead of a fresh allocation. The view is only
// valid until the next Read/Peek/Discard call, and length must not exceed
// the Reader's buffer capacity (ErrTooBig otherwise) — in-place reads are
// for payloads the caller knows are buffer-sized; larger ones must use
// ReadStr/ReadBin's chunked copy instead.
func (r *Reader) ReadStrInPlace(length uint64) ([]byte, *Error) {
	return r.readInPlace(KindStr, length)
}

func (r *Reader) ReadBinInPlace(length uint64) ([]byte, *Error) {
	return r.readInPlace(KindBin, length)
}

func (r *Reader) readInPlace(kind Kind, length uint64) ([]byte, *Error) {
	if !r.lat.ok() {
		return nil, r.lat.err
	}
	if length > uint64(math.MaxInt) {
		return nil, r.lat.fail(ErrTooBig, "length %d is unreasonably large", length)
	}
	if err := r.ensure(int(length), false); err != nil {
		return nil, err
	}
	view := r.buf[r.pos : r.pos+int(length)]
	r.pos += int(length)
	if err := r.finishBytes(kind, length); err != nil {
		return nil, err
	}
	return view, nil
}

// skipBytes advances past n payload bytes without copying them anywhere. It
// first discards whatever is already buffered, then either seeks past the
// rest with Skip (when what's left exceeds buffer_size/16 and a Skip
// callback is installed) or falls back to repeatedly filling and dropping.
func (r *Reader) skipBytes(n uint64) *Error {
	if buffered := uint64(r.end - r.pos); buffered > 0 {
		k := buffered
		if k > n {
			k = n
		}
		r.pos += int(k)
		n -= k
	}
	if n == 0 {
		return nil
	}
	if r.skip != nil && n > uint64(len(r.buf))/16 {
		if err := r.skip(n); err != nil {
			return r.lat.fail(ErrIO, "skip: %v", err)
		}
		return nil
	}
	for n > 0 {
		if r.pos == r.end {
			if err := r.ensure(1, false); err != nil {
				return err
			}
		}
		k := uint64(r.end - r.pos)
		if k > n {
			k = n
		}
		r.pos += int(k)
		n -= k
	}
	return nil
}

// Discard reads and throws away the next whole value, recursing into
// arrays and maps, without materializing anything.
func (r *Reader) Discard() *Error {
	tag, err := r.ReadTag()
	if err != nil {
		return err
	}
	switch tag.Kind() {
	case KindStr, KindBin, KindExt:
		if tag.Len() == 0 {
			return nil
		}
		if err := r.skipBytes(tag.Len()); err != nil {
			return err
		}
		return r.finishBytes(tag.Kind(), tag.Len())
	case KindArray:
		for i := uint64(0); i < tag.Len(); i++ {
			if err := r.Discard(); err != nil {
				return err
			}
		}
		if err := r.tr.pop(KindArray); err != nil {
			debugAssert(false, "%s", err.Msg)
			return r.lat.fail(err.Kind, "%s", err.Msg)
		}
		return nil
	case KindMap:
		n := tag.Len() * 2
		for i := uint64(0); i < n; i++ {
			if err := r.Discard(); err != nil {
				return err
			}
		}
		if err := r.tr.pop(KindMap); err != nil {
			debugAssert(false, "%s", err.Msg)
			return r.lat.fail(err.Kind, "%s", err.Msg)
		}
		return nil
	default:
		return nil
	}
}

// Destroy asserts (under btf_debug_assertions) that no compound or
// str/bin/ext payload is left half-read, and invokes the teardown
// callback exactly once.
func (r *Reader) Destroy() *Error {
	if err := r.tr.checkEmpty(); err != nil {
		debugAssert(false, "%s", err.Msg)
		r.lat.fail(err.Kind, "%s", err.Msg)
	}
	if r.bufPooled {
		putScratchBytes(r.buf)
		r.buf, r.bufPooled = nil, false
	}
	r.tr.release()
	if r.teardown != nil {
		r.teardown()
		r.teardown = nil
	}
	return r.lat.err
}

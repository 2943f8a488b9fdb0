package btf

import (
	"bytes"
	"io"
	"testing"
)

func encodeForReader(t *testing.T, build func(w *Writer)) []byte {
	t.Helper()
	w := NewGrowableWriter(DefaultConfig())
	build(w)
	out, err := w.Bytes()
	if err != nil {
		t.Fatal(err)
	}
	cp := append([]byte(nil), out...)
	if err := w.Destroy(); err != nil {
		t.Fatal(err)
	}
	return cp
}

func TestReaderScalarSequence(t *testing.T) {
	data := encodeForReader(t, func(w *Writer) {
		w.WriteUint(7)
		w.WriteBool(true)
		w.WriteNil()
	})
	r := NewReader(DefaultConfig(), data)
	tag, err := r.ReadTag()
	if err != nil || tag.Kind() != KindUint || tag.Uint() != 7 {
		t.Fatalf("first tag = %v, err = %v", tag, err)
	}
	tag, err = r.ReadTag()
	if err != nil || tag.Kind() != KindBool || !tag.Bool() {
		t.Fatalf("second tag = %v, err = %v", tag, err)
	}
	tag, err = r.ReadTag()
	if err != nil || tag.Kind() != KindNil {
		t.Fatalf("third tag = %v, err = %v", tag, err)
	}
	if _, err := r.ReadTag(); err == nil || err.Kind != ErrEOF {
		t.Fatalf("reading past the end at depth 0 must be a clean ErrEOF, got %v", err)
	}
}

func TestReaderStrPayload(t *testing.T) {
	data := encodeForReader(t, func(w *Writer) { w.WriteStr("payload") })
	r := NewReader(DefaultConfig(), data)
	tag, err := r.ReadTag()
	if err != nil {
		t.Fatal(err)
	}
	got, rerr := r.ReadStr(tag.Len())
	if rerr != nil {
		t.Fatal(rerr)
	}
	if got != "payload" {
		t.Fatalf("got %q", got)
	}
}

func TestReaderArrayAndMapTracking(t *testing.T) {
	data := encodeForReader(t, func(w *Writer) {
		w.OpenArray(2)
		w.WriteUint(1)
		w.OpenMap(1)
		w.WriteStr("k")
		w.WriteUint(9)
		w.CloseMap()
		w.CloseArray()
	})
	r := NewReader(DefaultConfig(), data)
	tag, err := r.ReadTag()
	if err != nil || tag.Kind() != KindArray || tag.Len() != 2 {
		t.Fatalf("array header: %v %v", tag, err)
	}
	if _, err := r.ReadTag(); err != nil { // element 0: uint 1
		t.Fatal(err)
	}
	mapTag, err := r.ReadTag()
	if err != nil || mapTag.Kind() != KindMap || mapTag.Len() != 1 {
		t.Fatalf("map header: %v %v", mapTag, err)
	}
	keyTag, err := r.ReadTag()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadStr(keyTag.Len()); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadTag(); err != nil { // value 9
		t.Fatal(err)
	}
	if r.Depth() != 0 {
		t.Fatalf("depth after both compounds closed = %d, want 0", r.Depth())
	}
	if err := r.Destroy(); err != nil {
		t.Fatal(err)
	}
}

func TestReaderPeekDoesNotAdvance(t *testing.T) {
	data := encodeForReader(t, func(w *Writer) { w.WriteUint(5) })
	r := NewReader(DefaultConfig(), data)
	peeked, err := r.PeekTag()
	if err != nil {
		t.Fatal(err)
	}
	read, err := r.ReadTag()
	if err != nil {
		t.Fatal(err)
	}
	if !Equal(peeked, read) {
		t.Fatalf("peek %v != subsequent read %v", peeked, read)
	}
}

func TestReaderDiscardRecursesThroughCompounds(t *testing.T) {
	data := encodeForReader(t, func(w *Writer) {
		w.OpenArray(2)
		w.WriteStr("skip me")
		w.OpenMap(1)
		w.WriteStr("k")
		w.WriteBool(false)
		w.CloseMap()
		w.CloseArray()
		w.WriteUint(99)
	})
	r := NewReader(DefaultConfig(), data)
	if err := r.Discard(); err != nil {
		t.Fatalf("discard array: %v", err)
	}
	tag, err := r.ReadTag()
	if err != nil || tag.Kind() != KindUint || tag.Uint() != 99 {
		t.Fatalf("value after discard = %v, err = %v", tag, err)
	}
}

// ReadFull's small-fraction rule: a read of at most buffer_size/32 copies
// through the internal buffer; a larger one reads straight from fill.
func TestReaderReadFullSmallFractionThresholds(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 256)
	data := encodeForReader(t, func(w *Writer) { w.WriteBin(payload) })

	src := bytes.NewReader(data)
	buf := make([]byte, 32) // buffer_size/32 == 1
	r := NewStreamingReader(DefaultConfig(), buf, func(dst []byte) (int, error) { return src.Read(dst) })
	tag, err := r.ReadTag()
	if err != nil || tag.Kind() != KindBin {
		t.Fatalf("tag = %v, err = %v", tag, err)
	}
	got, rerr := r.ReadBin(tag.Len())
	if rerr != nil {
		t.Fatal(rerr)
	}
	if !bytes.Equal(got, payload) {
		t.Fatal("large read-through-fill did not reproduce the payload")
	}
}

func TestReaderSkipBytesThreshold(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), 200)
	data := encodeForReader(t, func(w *Writer) {
		w.WriteBin(payload)
		w.WriteUint(123)
	})
	skipCalls := 0
	src := bytes.NewReader(data)
	buf := make([]byte, 16) // buffer_size/16 == 1, so any multi-byte skip uses Skip
	r := NewStreamingReader(DefaultConfig(), buf, func(dst []byte) (int, error) { return src.Read(dst) })
	r.SetSkip(func(n uint64) error {
		skipCalls++
		_, err := src.Seek(int64(n), io.SeekCurrent)
		return err
	})
	if err := r.Discard(); err != nil { // discards the bin payload via skipBytes
		t.Fatal(err)
	}
	if skipCalls == 0 {
		t.Fatal("expected skipBytes to use the Skip callback for a large discard")
	}
	next, err := r.ReadTag()
	if err != nil || next.Kind() != KindUint || next.Uint() != 123 {
		t.Fatalf("value after skip = %v, err = %v", next, err)
	}
}

func TestReaderStrChecked(t *testing.T) {
	data := encodeForReader(t, func(w *Writer) { w.WriteStr("valid utf8 é") })
	r := NewReader(DefaultConfig(), data)
	tag, err := r.ReadTag()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadStrChecked(tag.Len()); err != nil {
		t.Fatalf("valid UTF-8 must pass: %v", err)
	}
}

func TestReaderStrCheckedRejectsInvalidUTF8(t *testing.T) {
	r := NewReader(DefaultConfig(), []byte{0xa2, 0xff, 0xfe})
	tag, err := r.ReadTag()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.ReadStrChecked(tag.Len()); err == nil || err.Kind != ErrType {
		t.Fatalf("invalid UTF-8 must latch ErrType, got %v", err)
	}
}

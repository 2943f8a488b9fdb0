package btf

import (
	"math"
	"testing"
)

// FuzzEncodeDecodeTag round-trips a single tag through EncodeTag/ParseTag.
// Seeds cover a sample of the non-ext opcode families; no ext form is seeded.
func FuzzEncodeDecodeTag(f *testing.F) {
	seeds := [][]byte{
		{0x00},
		{0xc0},
		{0xc2},
		{0xc3},
		{0x2a},
		{0xff},
		{0xcc, 0x80},
		{0xd0, 0x80},
		{0xca, 0x00, 0x00, 0x80, 0x3f},
		{0xcb, 0x3f, 0xf0, 0, 0, 0, 0, 0, 0},
		{0xa3, 'h', 'i', '!'},
		{0x91, 0x01},
		{0x81, 0xa1, 'k', 0x01},
		{0xc4, 0x02, 0x01, 0x02},
	}
	for _, seed := range seeds {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, data []byte) {
		tag, n, perr := ParseTag(data, true)
		if perr != nil {
			return
		}
		if n <= 0 || n > len(data) {
			t.Fatalf("ParseTag reported consuming %d of %d available bytes", n, len(data))
		}
		var out [MaxTagSize + HeaderExt32Tot]byte
		enc, _, eerr := EncodeTag(out[:0], tag, CompatV5, true)
		if eerr != nil {
			t.Fatalf("re-encoding a tag ParseTag just accepted failed: %v", eerr)
		}
		tag2, n2, perr2 := ParseTag(enc, true)
		if perr2 != nil {
			t.Fatalf("re-parsing the re-encoded tag failed: %v", perr2)
		}
		if n2 != len(enc) {
			t.Fatalf("re-encoded tag length %d != parsed length %d", len(enc), n2)
		}
		if !Equal(tag, tag2) {
			t.Fatalf("roundtrip mismatch: %#v != %#v", tag, tag2)
		}
	})
}

// FuzzTreeParserNeverPanics feeds arbitrary bytes through the streaming
// writer's sibling, the bounded tree parser, in small chunks: malformed
// input must surface as a latched *Error, never a panic, regardless of how
// the input is split across Feed calls.
func FuzzTreeParserNeverPanics(f *testing.F) {
	f.Add([]byte{0x92, 0x07, 0xa2, 'o', 'k'})   // [7, "ok"]
	f.Add([]byte{0xc1})                         // reserved opcode
	f.Add([]byte{0x91})                         // array header with no elements following
	f.Add([]byte{0xdd, 0xff, 0xff, 0xff, 0xff}) // array32 declaring ~4 billion children
	f.Fuzz(func(t *testing.T, data []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("TreeParser panicked on input % x: %v", data, r)
			}
		}()
		p := NewTreeParser(DefaultConfig(), WithMaxNodes(1<<16), WithMaxSize(1<<20))
		defer p.Destroy()
		const chunk = 3
		for i := 0; i < len(data); i += chunk {
			end := i + chunk
			if end > len(data) {
				end = len(data)
			}
			if err := p.Feed(data[i:end]); err != nil {
				return
			}
			if _, err := p.TryParse(); err != nil {
				return
			}
		}
	})
}

// FuzzTreeParserDefaultBudgetNeverPanics repeats FuzzTreeParserNeverPanics
// with MaxNodes/MaxSize left at their unbounded defaults, so the only thing
// standing between an adversarial header and a disproportionate allocation
// is the unconditional bytes-fed floor in TryParse's array/map branch.
func FuzzTreeParserDefaultBudgetNeverPanics(f *testing.F) {
	f.Add([]byte{0xdd, 0xff, 0xff, 0xff, 0xff})             // array32 declaring ~4 billion children
	f.Add([]byte{0xdf, 0xff, 0xff, 0xff, 0xff})             // map32 declaring ~4 billion pairs
	f.Add([]byte{0xdd, 0xff, 0xff, 0xff, 0xff, 0x01, 0x02}) // same header, a little real payload trailing
	f.Fuzz(func(t *testing.T, data []byte) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("TreeParser panicked on input % x: %v", data, r)
			}
		}()
		p := NewTreeParser(DefaultConfig())
		defer p.Destroy()
		const chunk = 3
		for i := 0; i < len(data); i += chunk {
			end := i + chunk
			if end > len(data) {
				end = len(data)
			}
			if err := p.Feed(data[i:end]); err != nil {
				return
			}
			if _, err := p.TryParse(); err != nil {
				return
			}
		}
	})
}

// FuzzTimestampPayload exercises the 4/8/12-byte timestamp packing in both
// directions without panicking on malformed or boundary input.
func FuzzTimestampPayload(f *testing.F) {
	f.Add(int64(0), int32(0))
	f.Add(int64(1_700_000_000), int32(500_000_000))
	f.Add(int64(-1), int32(0))
	f.Add(int64(math.MaxInt64), int32(999_999_999))
	f.Fuzz(func(t *testing.T, sec int64, nsec int32) {
		payload, err := EncodeTimestampPayload(sec, nsec)
		if err != nil {
			return
		}
		gotSec, gotNsec, derr := DecodeTimestampPayload(payload)
		if derr != nil {
			t.Fatalf("decode of a just-encoded payload failed: %v", derr)
		}
		if gotSec != sec || gotNsec != nsec {
			t.Fatalf("roundtrip mismatch: (%d,%d) != (%d,%d)", gotSec, gotNsec, sec, nsec)
		}
	})
}

package btf

import "github.com/delaneyj/toolbelt"

// Package-level sync.Pool-backed slice pools: one pool per pooled slice
// type, each seeded with a small starting capacity and grown on demand by
// the caller.
var (
	nodePagePool    = toolbelt.New(func() []node { return make([]node, 0, 64) })
	trackFramePool  = toolbelt.New(func() []trackFrame { return make([]trackFrame, 0, 16) })
	scratchBytePool = toolbelt.New(func() []byte { return make([]byte, 0, 4096) })
)

func getNodePage(n int) []node {
	if n <= 0 {
		return nil
	}
	s := nodePagePool.Get()
	if cap(s) < n {
		return make([]node, n)
	}
	return s[:n]
}

func putNodePage(s []node) {
	if s == nil {
		return
	}
	nodePagePool.Put(s[:0])
}

func getTrackFrames() []trackFrame {
	return trackFramePool.Get()
}

func putTrackFrames(s []trackFrame) {
	if s == nil {
		return
	}
	trackFramePool.Put(s[:0])
}

func getScratchBytes(n int) []byte {
	s := scratchBytePool.Get()
	if cap(s) < n {
		return make([]byte, n)
	}
	return s[:n]
}

func putScratchBytes(s []byte) {
	if s == nil {
		return
	}
	scratchBytePool.Put(s[:0])
}

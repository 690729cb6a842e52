// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package video

// gopCache is the single-slot decoded-frame cache. It holds exactly the GOP
// containing the last missed frame, as one dense row-major block. Workloads
// read frames in walks and batches, so one GOP covers every access inside
// the enclosing keyframe interval; a more general cache is deliberately not
// provided.
type gopCache struct {
	startFrame int // 0-based first cached frame; -1 when empty
	numFrames  int
	frameSize  int
	block      []byte
}

func newGopCache() gopCache {
	return gopCache{startFrame: -1}
}

// lookup returns the cached pixels of 0-based frame i, or nil on miss. The
// returned slice aliases the cache block; callers copy before returning
// data across the API surface.
func (c *gopCache) lookup(i int) []byte {
	if c.startFrame < 0 || i < c.startFrame || i >= c.startFrame+c.numFrames {
		return nil
	}
	off := (i - c.startFrame) * c.frameSize
	return c.block[off : off+c.frameSize]
}

// reset prepares the cache to hold count frames starting at startFrame,
// reusing the block when capacity allows.
func (c *gopCache) reset(startFrame, count, frameSize int) {
	need := count * frameSize
	if cap(c.block) < need {
		c.block = make([]byte, need)
	}
	c.block = c.block[:need]
	c.startFrame = startFrame
	c.numFrames = 0 // filled by store; becomes visible frame by frame
	c.frameSize = frameSize
}

// store copies one frame into the slot for 0-based frame i. Frames arrive
// in presentation order, so the visible prefix is always contiguous.
func (c *gopCache) store(i int, pix []byte) {
	off := (i - c.startFrame) * c.frameSize
	copy(c.block[off:off+c.frameSize], pix)
	if n := i - c.startFrame + 1; n > c.numFrames {
		c.numFrames = n
	}
}

// clear empties the cache. Called on populate failure so a later read never
// observes a partial GOP.
func (c *gopCache) clear() {
	c.startFrame = -1
	c.numFrames = 0
}

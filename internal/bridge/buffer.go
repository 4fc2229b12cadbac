package bridge

// frameBuffer queues base64 audio payloads while no backend link is available.
// It is bounded: once full, the oldest frame is dropped so a long outage
// degrades audio instead of growing without limit or killing the session.
// Not safe for concurrent use; the owning session serializes access.
type frameBuffer struct {
	max     int
	frames  []string
	dropped int
}

func newFrameBuffer(max int) *frameBuffer {
	if max <= 0 {
		max = 1
	}
	return &frameBuffer{max: max}
}

// push appends a frame, evicting the oldest when at capacity. It reports
// whether an eviction happened.
func (b *frameBuffer) push(payload string) bool {
	evicted := false
	if len(b.frames) >= b.max {
		b.frames = b.frames[1:]
		b.dropped++
		evicted = true
	}
	b.frames = append(b.frames, payload)
	return evicted
}

// drain returns all buffered frames in arrival order and resets the buffer.
func (b *frameBuffer) drain() []string {
	out := b.frames
	b.frames = nil
	return out
}

func (b *frameBuffer) len() int { return len(b.frames) }

func (b *frameBuffer) droppedTotal() int { return b.dropped }

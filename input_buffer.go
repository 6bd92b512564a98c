package main

import "sync"

const defaultInputBufferSize = 512

// InputBuffer stages input frames in a fixed-size ring between the
// connection goroutines and the session tick. Safe for concurrent producers
// and a single consumer.
type InputBuffer struct {
	mu      sync.Mutex
	data    []InputFrame
	head    int
	tail    int
	count   int
	dropped uint64
}

// NewInputBuffer creates a buffer holding at most capacity frames
func NewInputBuffer(capacity int) *InputBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &InputBuffer{data: make([]InputFrame, capacity)}
}

// Push stages a frame, returning false if the buffer is full
func (b *InputBuffer) Push(frame InputFrame) bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == len(b.data) {
		b.dropped++
		return false
	}
	b.data[b.tail] = frame
	b.tail = (b.tail + 1) % len(b.data)
	b.count++
	return true
}

// Drain returns all staged frames in arrival order and clears the buffer
func (b *InputBuffer) Drain() []InputFrame {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return nil
	}
	frames := make([]InputFrame, b.count)
	for i := 0; i < b.count; i++ {
		frames[i] = b.data[(b.head+i)%len(b.data)]
	}
	b.head, b.tail, b.count = 0, 0, 0
	return frames
}

// Len reports the number of staged frames
func (b *InputBuffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Dropped reports how many frames were rejected because the buffer was full
func (b *InputBuffer) Dropped() uint64 {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

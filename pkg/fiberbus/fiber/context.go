package fiber

import (
	"runtime"

	"github.com/randalmurphal/fiberbus/pkg/fiberbus/heap"
)

// execContext is a goroutine that executes fibers one at a time.
//
// Exactly one execContext holds the baton at any moment. Switching fibers
// sends on the incoming context's resume channel and then blocks on the
// outgoing one. The first send to a fresh fiber carries its launch function;
// later sends carry nil and simply unpark it.
type execContext struct {
	resume chan func()
}

// newExecContext starts an idle goroutine waiting for work.
func newExecContext() *execContext {
	c := &execContext{resume: make(chan func(), 1)}
	go c.loop()
	return c
}

// newAdoptedContext wraps the calling goroutine. It has no loop of its own,
// so it can only ever be parked and resumed.
func newAdoptedContext() *execContext {
	return &execContext{resume: make(chan func(), 1)}
}

func (c *execContext) loop() {
	for task := range c.resume {
		if task != nil {
			task()
		}
	}
}

// park blocks the calling goroutine until the context is resumed.
func (c *execContext) park() {
	<-c.resume
}

// wake resumes a parked context, or starts task on an idle one.
func (c *execContext) wake(task func()) {
	c.resume <- task
}

// takeContext returns a spare context, starting a new goroutine if none is free.
// Callers hold s.mu.
func (s *Scheduler) takeContext() *execContext {
	if n := len(s.spare); n > 0 {
		c := s.spare[n-1]
		s.spare = s.spare[:n-1]
		return c
	}
	return newExecContext()
}

// putContext keeps c for reuse, or ends its goroutine when enough are spare.
// The goroutine running on c may still be unwinding; it returns to its loop
// once the current task finishes. Callers hold s.mu.
func (s *Scheduler) putContext(c *execContext) {
	if c == nil {
		return
	}
	if len(s.spare) < s.cfg.poolSize+1 {
		s.spare = append(s.spare, c)
		return
	}
	close(c.resume)
}

// stackBuffer is the heap region a suspended fiber's stack is charged to.
// It only ever grows.
type stackBuffer struct {
	block heap.Block
}

func (b *stackBuffer) size() int {
	return b.block.Size()
}

func (b *stackBuffer) free(a heap.Allocator) {
	a.Free(b.block)
	b.block = heap.Block{}
}

// stackDepth estimates the live stack of the calling goroutine.
func stackDepth(frameSize int) int {
	var pcs [128]uintptr
	return runtime.Callers(2, pcs[:]) * frameSize
}

// roundStack rounds depth up to the next 32 byte multiple above it.
func roundStack(depth int) int {
	return (depth + 32) &^ 31
}

// verifyStack grows the stack buffer of the fiber at idx if the calling
// goroutine's stack no longer fits. It must run on that fiber's own context.
// On allocation failure the existing buffer is kept. Callers hold s.mu.
func (s *Scheduler) verifyStack(idx uint32) {
	f := &s.fibers[idx]
	depth := stackDepth(s.cfg.stackFrameSize)
	if f.stack.size() >= depth {
		return
	}

	size := roundStack(depth)
	block, err := s.alloc.Alloc(size)
	if err != nil {
		logStackGrowthError(s, idx, size, err)
		return
	}
	from := f.stack.size()
	f.stack.free(s.alloc)
	f.stack.block = block
	logStackGrowth(s, idx, from, size)
}

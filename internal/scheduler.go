package internal

import (
	"sync"
	"sync/atomic"
)

// FrameScheduler serializes frames and counts them.
type FrameScheduler struct {
	frameMu sync.Mutex

	// incremented each time a frame completes
	clock atomic.Int64

	// set when work was queued since the last frame
	scheduled atomic.Bool

	// goroutine running the current frame, -1 when idle
	runningOn atomic.Int64
}

func NewFrameScheduler() *FrameScheduler {
	s := &FrameScheduler{}
	s.runningOn.Store(-1)
	return s
}

// Run runs fn as one frame. Frames from different goroutines run one after the
// other; a frame started from inside a running frame is refused and Run returns false.
func (s *FrameScheduler) Run(fn func()) bool {
	gid := getGID()
	if s.runningOn.Load() == gid {
		return false
	}

	s.frameMu.Lock()
	s.runningOn.Store(gid)
	s.scheduled.Store(false)

	defer func() {
		s.clock.Add(1)
		s.runningOn.Store(-1)
		s.frameMu.Unlock()
	}()

	fn()
	return true
}

func (s *FrameScheduler) Schedule() {
	s.scheduled.Store(true)
}

func (s *FrameScheduler) Scheduled() bool {
	return s.scheduled.Load()
}

// Time returns the number of completed frames.
func (s *FrameScheduler) Time() int64 {
	return s.clock.Load()
}

package switcher

import (
	"time"

	"camera-switcher/internal/engine"
)

// loopScheduler hands expired callbacks to the manager's Run loop, so
// engines are only ever evaluated on that goroutine.
type loopScheduler struct {
	deferred chan<- func()
	stopped  <-chan struct{}
}

func (s loopScheduler) Schedule(d time.Duration, fn func()) engine.Handle {
	t := time.AfterFunc(d, func() {
		select {
		case s.deferred <- fn:
		case <-s.stopped:
		}
	})
	return loopHandle{t}
}

type loopHandle struct {
	t *time.Timer
}

func (h loopHandle) Cancel() bool {
	return h.t.Stop()
}

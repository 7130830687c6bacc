package cache

import (
	"runtime"
	"sync"
	"sync/atomic"
)

const maxSpinBackoff = 64

// SpinLock is a test-and-test-and-set lock for very short critical sections. It
// spins with a growing pause and then yields the processor.
type SpinLock struct {
	state atomic.Int32
}

var _ sync.Locker = (*SpinLock)(nil)

func (l *SpinLock) Lock() {
	backoff := 1
	for {
		if l.state.Load() == 0 && l.state.CompareAndSwap(0, 1) {
			return
		}
		if backoff < maxSpinBackoff {
			for i := 0; i < backoff; i++ {
				spinPause()
			}
			backoff <<= 1
		} else {
			runtime.Gosched()
		}
	}
}

func (l *SpinLock) TryLock() bool {
	return l.state.CompareAndSwap(0, 1)
}

func (l *SpinLock) Unlock() {
	l.state.Store(0)
}

//go:noinline
func spinPause() {}

package surge

import (
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// delayed runs a function once after a delay, unless canceled first.
// Operators hold one per pending timer so a newer event can supersede it.
type delayed struct {
	timer clockz.Timer
	done  chan struct{}
	once  sync.Once
}

func runAfter(clock clockz.Clock, d time.Duration, fn func()) *delayed {
	dl := &delayed{
		timer: clock.NewTimer(d),
		done:  make(chan struct{}),
	}
	go func() {
		select {
		case <-dl.timer.C():
			fn()
		case <-dl.done:
		}
	}()
	return dl
}

func (d *delayed) cancel() {
	if d == nil {
		return
	}
	d.once.Do(func() {
		d.timer.Stop()
		close(d.done)
	})
}

package machine

import "sync"

// broadcast wakes every waiter on each Notify.
type broadcast struct {
	mx sync.Mutex
	ch chan struct{}
}

func (b *broadcast) Wait() <-chan struct{} {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.ch == nil {
		b.ch = make(chan struct{})
	}
	return b.ch
}

func (b *broadcast) Notify() {
	b.mx.Lock()
	defer b.mx.Unlock()
	if b.ch != nil {
		close(b.ch)
		b.ch = nil
	}
}

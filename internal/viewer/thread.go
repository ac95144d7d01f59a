package viewer

import (
	"errors"
	"runtime"
	"sync"
)

var ErrThreadClosed = errors.New("thread is closed")

// Thread runs functions one at a time on a single locked OS thread. GUI toolkits that
// are not thread safe need every call to come from the same thread.
type Thread struct {
	calls chan func()
	done  chan struct{}
	once  sync.Once
}

func NewThread() *Thread {
	t := &Thread{
		calls: make(chan func()),
		done:  make(chan struct{}),
	}
	go t.loop()
	return t
}

func (t *Thread) loop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	for {
		select {
		case f := <-t.calls:
			f()
		case <-t.done:
			return
		}
	}
}

// Do runs f on the thread and waits for it to return.
func (t *Thread) Do(f func()) error {
	select {
	case <-t.done:
		return ErrThreadClosed
	default:
	}
	finished := make(chan struct{})
	select {
	case t.calls <- func() {
		defer close(finished)
		f()
	}:
	case <-t.done:
		return ErrThreadClosed
	}
	<-finished
	return nil
}

// Close stops the thread once the call in progress, if any, has returned.
func (t *Thread) Close() {
	t.once.Do(func() {
		close(t.done)
	})
}

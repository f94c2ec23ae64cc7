package common

import (
	"context"
	"sync"
)

// dispatcher runs handler callbacks.
type dispatcher interface {
	post(fn func())
}

// inlineDispatcher runs callbacks on the calling engine goroutine.
type inlineDispatcher struct{}

func (inlineDispatcher) post(fn func()) { fn() }

// MessageLoop queues handler callbacks so that they all run on the goroutine
// calling Run. It is used when Settings.MultiThreadedMessageLoop is false.
type MessageLoop struct {
	tasks    chan func()
	quit     chan struct{}
	quitOnce sync.Once
}

// NewMessageLoop returns a message loop that is not yet running.
func NewMessageLoop() *MessageLoop {
	return &MessageLoop{
		tasks: make(chan func(), 64),
		quit:  make(chan struct{}),
	}
}

func (l *MessageLoop) post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.quit:
	}
}

// Run runs queued callbacks until Quit is called or ctx is done.
func (l *MessageLoop) Run(ctx context.Context) {
	for {
		select {
		case fn := <-l.tasks:
			fn()
		case <-l.quit:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Quit stops Run and drops any callback posted afterwards.
func (l *MessageLoop) Quit() {
	l.quitOnce.Do(func() { close(l.quit) })
}

// dispatchWait runs fn through d and waits for it to return.
// It returns false when ctx is done first.
func dispatchWait(ctx context.Context, d dispatcher, fn func()) bool {
	done := make(chan struct{})
	go d.post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

package state

import (
	"io"
	"sync"
)

// ConsoleWriter syncs writes with a mutex shared between stdout and stderr,
// so that lines printed from engine goroutines are never interleaved.
type ConsoleWriter struct {
	RawOut io.Writer
	Mutex  *sync.Mutex
	Writer io.Writer
	IsTTY  bool
}

// Write writes p to the wrapped writer while holding the mutex.
func (w *ConsoleWriter) Write(p []byte) (n int, err error) {
	w.Mutex.Lock()
	defer w.Mutex.Unlock()

	return w.Writer.Write(p)
}

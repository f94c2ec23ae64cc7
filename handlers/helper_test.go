package handlers

import (
	"bytes"
	"errors"
	"sync"

	"github.com/chromedp/cdproto/target"

	"github.com/liuxd6825/testrender/common"
)

type sentMessage struct {
	target common.ProcessID
	msg    *common.ProcessMessage
}

// stubBrowser records the messages handlers send through it.
type stubBrowser struct {
	main *common.Frame
	fail map[common.ProcessID]bool

	mu   sync.Mutex
	sent []sentMessage
}

func newStubBrowser(url string) *stubBrowser {
	return &stubBrowser{main: common.NewFrame("main", "", url)}
}

func (b *stubBrowser) ID() target.ID            { return "stub-target" }
func (b *stubBrowser) MainFrame() *common.Frame { return b.main }

func (b *stubBrowser) SendProcessMessage(target common.ProcessID, msg *common.ProcessMessage) error {
	if b.fail[target] {
		return errors.New("target unreachable")
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sent = append(b.sent, sentMessage{target: target, msg: msg})
	return nil
}

func (b *stubBrowser) messages() []sentMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]sentMessage(nil), b.sent...)
}

// syncBuffer is a bytes.Buffer safe for handlers writing from several goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.buf.String()
}

package handlers

import (
	"fmt"
	"io"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/log"
)

// Ensure LoadHandler implements the common.LoadHandler interface.
var _ common.LoadHandler = &LoadHandler{}

// LoadHandler prints the load start and end of the main frame.
// Sub-frame loads are ignored.
type LoadHandler struct {
	out    io.Writer
	logger *log.Logger

	// SendOnLoad, when set, names a message sent to the render process
	// every time the main frame finished loading.
	SendOnLoad string
}

// NewLoadHandler returns a handler printing to out.
func NewLoadHandler(out io.Writer, logger *log.Logger) *LoadHandler {
	return &LoadHandler{out: out, logger: logger}
}

// OnLoadStart prints "START: <url>".
func (h *LoadHandler) OnLoadStart(b common.BrowserHandle, frame *common.Frame) {
	if !frame.IsMain() {
		return
	}
	_, _ = fmt.Fprintf(h.out, "START: %s\n", mainFrameURL(b, frame))
}

// OnLoadEnd prints "END: <url>, <status>".
func (h *LoadHandler) OnLoadEnd(b common.BrowserHandle, frame *common.Frame, httpStatusCode int) {
	if !frame.IsMain() {
		return
	}
	_, _ = fmt.Fprintf(h.out, "END: %s, %d\n", mainFrameURL(b, frame), httpStatusCode)

	if h.SendOnLoad == "" {
		return
	}
	err := b.SendProcessMessage(common.ProcessRenderer, common.NewProcessMessage(h.SendOnLoad))
	if err != nil {
		h.logger.Warnf("LoadHandler:OnLoadEnd", "sending %q: %v", h.SendOnLoad, err)
	}
}

func mainFrameURL(b common.BrowserHandle, frame *common.Frame) string {
	if mf := b.MainFrame(); mf != nil {
		return mf.URL()
	}
	return frame.URL()
}

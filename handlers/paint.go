// Package handlers holds the demo handlers wired into the engine: paint to
// PNG, load lifecycle printing, local content interception, the render
// process message relay and the command line hooks.
package handlers

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"sync"
	"sync/atomic"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/log"
	"github.com/liuxd6825/testrender/storage"
)

// Ensure PaintHandler implements the RenderHandler interface.
var _ common.RenderHandler = &PaintHandler{}

// PaintHandler saves every painted frame as a PNG, overwriting the
// previous one.
type PaintHandler struct {
	width, height int
	path          string
	persister     storage.FilePersister
	logger        *log.Logger

	// mu serializes encoding so that the file always holds one whole frame.
	mu     sync.Mutex
	buf    bytes.Buffer
	paints int64
}

// NewPaintHandler returns a handler for a view of width x height pixels
// that writes the frames to path through persister.
func NewPaintHandler(width, height int, path string, persister storage.FilePersister, logger *log.Logger) *PaintHandler {
	return &PaintHandler{
		width:     width,
		height:    height,
		path:      path,
		persister: persister,
		logger:    logger,
	}
}

// GetViewRect returns the fixed view rectangle at the origin.
func (h *PaintHandler) GetViewRect(common.BrowserHandle) (common.Rect, bool) {
	return common.Rect{Width: h.width, Height: h.height}, true
}

// GetScreenInfo leaves the screen to the defaults of the view rectangle.
func (h *PaintHandler) GetScreenInfo(common.BrowserHandle) (common.ScreenInfo, bool) {
	return common.ScreenInfo{}, false
}

// OnPaint encodes the whole buffer, dirty rectangles are not looked at.
func (h *PaintHandler) OnPaint(b common.BrowserHandle, ev *common.PaintEvent) {
	if ev.Type != common.PaintElementView {
		return
	}
	img, err := bgraImage(ev.Buffer, ev.Width, ev.Height)
	if err != nil {
		h.logger.Errorf("PaintHandler:OnPaint", "tid:%v %v", b.ID(), err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := png.Encode(&h.buf, img); err != nil {
		h.logger.Errorf("PaintHandler:OnPaint", "encoding png: %v", err)
		return
	}
	if err := h.persister.Persist(context.Background(), h.path, &h.buf); err != nil {
		h.logger.Errorf("PaintHandler:OnPaint", "%v", err)
		return
	}
	n := atomic.AddInt64(&h.paints, 1)
	h.logger.Debugf("PaintHandler:OnPaint", "tid:%v frame:%d size:%dx%d path:%q", b.ID(), n, ev.Width, ev.Height, h.path)
}

// Paints returns the number of frames written so far.
func (h *PaintHandler) Paints() int64 {
	return atomic.LoadInt64(&h.paints)
}

// Path returns the file the frames are written to.
func (h *PaintHandler) Path() string {
	return h.path
}

// bgraImage copies a tightly packed BGRA buffer into an opaque RGBA image.
func bgraImage(buf []byte, width, height int) (*image.RGBA, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid paint size %dx%d", width, height)
	}
	if want := width * height * 4; len(buf) != want {
		return nil, fmt.Errorf("paint buffer has %d bytes, want %d for %dx%d", len(buf), want, width, height)
	}

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(buf); i += 4 {
		img.Pix[i+0] = buf[i+2]
		img.Pix[i+1] = buf[i+1]
		img.Pix[i+2] = buf[i+0]
		img.Pix[i+3] = 0xff
	}

	return img, nil
}

package handlers

import (
	"mime"
	"path/filepath"
	"sync/atomic"

	"github.com/spf13/afero"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/log"
)

// Ensure LocalContentHandler implements the RequestHandler interface.
var _ common.RequestHandler = &LocalContentHandler{}

const defaultContentType = "text/html"

// LocalContentHandler keeps every request off the network and answers it
// with the contents of one local file. The file is read again for each
// request so edits show up on the next load.
type LocalContentHandler struct {
	fs     afero.Fs
	path   string
	logger *log.Logger

	served int64
}

// NewLocalContentHandler returns a handler serving path from fs.
func NewLocalContentHandler(fs afero.Fs, path string, logger *log.Logger) *LocalContentHandler {
	return &LocalContentHandler{fs: fs, path: path, logger: logger}
}

// OnBeforeResourceLoad fulfills req with the file contents. The request is
// cancelled when the file cannot be read.
func (h *LocalContentHandler) OnBeforeResourceLoad(
	b common.BrowserHandle, _ *common.Frame, req *common.Request,
) common.ResourceAction {
	data, err := afero.ReadFile(h.fs, h.path)
	if err != nil {
		h.logger.Errorf("LocalContentHandler:OnBeforeResourceLoad", "tid:%v url:%q %v", b.ID(), req.URL, err)
		return common.CancelResource()
	}
	atomic.AddInt64(&h.served, 1)
	h.logger.Debugf("LocalContentHandler:OnBeforeResourceLoad", "url:%q path:%q bytes:%d", req.URL, h.path, len(data))

	return common.FulfillResource(data, contentType(h.path))
}

// Served returns the number of requests answered with the file.
func (h *LocalContentHandler) Served() int64 {
	return atomic.LoadInt64(&h.served)
}

func contentType(path string) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return defaultContentType
}

package common

import (
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/tidwall/gjson"
)

// Settings configure the engine.
type Settings struct {
	// SingleProcess runs the renderer inside the browser process.
	SingleProcess bool
	// MultiThreadedMessageLoop delivers handler callbacks on the engine
	// goroutines. When false they are queued and run by MessageLoop.Run.
	MultiThreadedMessageLoop bool
	// WindowlessRenderingEnabled runs the engine without any window.
	WindowlessRenderingEnabled bool
	// ExecutablePath of the engine, looked up when empty.
	ExecutablePath string
	// UserDataDir of the engine, a temporary directory when empty.
	UserDataDir string
	// Timeout for engine start up and CDP commands.
	Timeout time.Duration
	// Args are extra engine switches in "name" or "name=value" form.
	Args []string
}

// WindowInfo describes how a view is displayed.
type WindowInfo struct {
	Windowless  bool
	Transparent bool
}

// SetAsWindowless makes the view render off-screen.
func (w *WindowInfo) SetAsWindowless(transparent bool) {
	w.Windowless = true
	w.Transparent = transparent
}

// BrowserSettings configure a single view.
type BrowserSettings struct {
	JavaScriptDisabled bool
}

// Rect is a rectangle in view coordinates.
type Rect struct {
	X, Y          int
	Width, Height int
}

// ScreenInfo describes the screen a view is shown on.
type ScreenInfo struct {
	DeviceScaleFactor float64
	Rect              Rect
	AvailableRect     Rect
}

// PaintElementType identifies what was painted.
type PaintElementType int

// Paint element types.
const (
	PaintElementView PaintElementType = iota
	PaintElementPopup
)

// PaintEvent carries one painted frame.
type PaintEvent struct {
	Type       PaintElementType
	DirtyRects []Rect
	// Buffer holds Width*Height tightly packed BGRA pixels.
	Buffer []byte
	Width  int
	Height int
}

// Request is a resource request about to be issued.
type Request struct {
	ID           string
	URL          string
	Method       string
	Headers      map[string]string
	ResourceType string
}

func newRequest(id string, r *network.Request, rt network.ResourceType) *Request {
	req := &Request{
		ID:           id,
		ResourceType: rt.String(),
		Headers:      make(map[string]string),
	}
	if r == nil {
		return req
	}
	req.URL = r.URL + r.URLFragment
	req.Method = r.Method
	for k, v := range r.Headers {
		if s, ok := v.(string); ok {
			req.Headers[k] = s
		}
	}
	return req
}

// ResourceActionKind is the outcome of RequestHandler.OnBeforeResourceLoad.
type ResourceActionKind int

// Resource action kinds.
const (
	ResourceContinue ResourceActionKind = iota
	ResourceCancel
	ResourceFulfill
)

// ResourceAction tells the engine what to do with a request.
type ResourceAction struct {
	Kind        ResourceActionKind
	Status      int
	ContentType string
	Body        []byte
}

// ContinueResource lets the request go to the network.
func ContinueResource() ResourceAction {
	return ResourceAction{Kind: ResourceContinue}
}

// CancelResource aborts the request.
func CancelResource() ResourceAction {
	return ResourceAction{Kind: ResourceCancel}
}

// FulfillResource answers the request with body without touching the network.
func FulfillResource(body []byte, contentType string) ResourceAction {
	return ResourceAction{
		Kind:        ResourceFulfill,
		Status:      200,
		ContentType: contentType,
		Body:        body,
	}
}

// Frame is a document frame of a view.
type Frame struct {
	mu sync.RWMutex

	id       cdp.FrameID
	parentID cdp.FrameID
	name     string
	url      string
	status   int
}

// NewFrame returns a frame; an empty parentID makes it the main frame.
func NewFrame(id, parentID cdp.FrameID, url string) *Frame {
	return &Frame{id: id, parentID: parentID, url: url}
}

// ID returns the frame ID.
func (f *Frame) ID() cdp.FrameID { return f.id }

// ParentID returns the parent frame ID, empty for the main frame.
func (f *Frame) ParentID() cdp.FrameID {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.parentID
}

// IsMain reports whether f is the main frame.
func (f *Frame) IsMain() bool {
	return f.ParentID() == ""
}

// URL returns the URL of the document loaded in the frame.
func (f *Frame) URL() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.url
}

// Name returns the frame name.
func (f *Frame) Name() string {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.name
}

// Status returns the HTTP status of the last document response, 0 if none.
func (f *Frame) Status() int {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.status
}

func (f *Frame) navigated(cf *cdp.Frame) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.parentID = cf.ParentID
	f.name = cf.Name
	f.url = cf.URL + cf.URLFragment
}

func (f *Frame) setStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.status = status
}

// ScriptContext is a JavaScript execution context of a frame.
type ScriptContext struct {
	ID        runtime.ExecutionContextID
	Origin    string
	Name      string
	FrameID   cdp.FrameID
	IsDefault bool
}

func newScriptContext(desc *runtime.ExecutionContextDescription) *ScriptContext {
	aux := gjson.ParseBytes(desc.AuxData)
	sc := &ScriptContext{
		ID:        desc.ID,
		Origin:    desc.Origin,
		Name:      desc.Name,
		FrameID:   cdp.FrameID(aux.Get("frameId").String()),
		IsDefault: aux.Get("isDefault").Bool(),
	}
	if t := aux.Get("type"); t.Exists() {
		sc.IsDefault = sc.IsDefault || strings.EqualFold(t.String(), "default")
	}
	return sc
}

package common

import (
	"github.com/chromedp/cdproto/target"
)

// BrowserHandle is the view as seen from a handler callback.
//
// SendProcessMessage sends as the process the callback runs in: client
// handlers send as the browser process, render-process handlers as the
// render process.
type BrowserHandle interface {
	ID() target.ID
	MainFrame() *Frame
	SendProcessMessage(target ProcessID, msg *ProcessMessage) error
}

// App provides the engine wide handlers. Nil handlers are skipped.
type App interface {
	// OnBeforeCommandLineProcessing is called with the command line of the
	// current process before the engine is started. processType is empty
	// for the main process.
	OnBeforeCommandLineProcessing(processType string, cl *CommandLine)
	BrowserProcessHandler() BrowserProcessHandler
	RenderProcessHandler() RenderProcessHandler
}

// BrowserProcessHandler handles browser process events.
type BrowserProcessHandler interface {
	// OnBeforeChildProcessLaunch may modify the command line of an engine
	// process before it is started.
	OnBeforeChildProcessLaunch(cl *CommandLine)
}

// RenderProcessHandler handles events of the render process side of a view.
type RenderProcessHandler interface {
	OnContextCreated(b BrowserHandle, frame *Frame, sc *ScriptContext)
	OnContextReleased(b BrowserHandle, frame *Frame, sc *ScriptContext)
	// OnProcessMessageReceived returns true when the message was handled.
	OnProcessMessageReceived(b BrowserHandle, source ProcessID, msg *ProcessMessage) bool
}

// Client provides the per view handlers. Nil handlers are skipped.
type Client interface {
	RenderHandler() RenderHandler
	LoadHandler() LoadHandler
	RequestHandler() RequestHandler
	ProcessMessageHandler() ProcessMessageHandler
}

// RenderHandler receives the off-screen rendering output.
type RenderHandler interface {
	// GetViewRect returns the view rectangle in screen coordinates.
	GetViewRect(b BrowserHandle) (Rect, bool)
	// GetScreenInfo returns false to use the defaults derived from the view rectangle.
	GetScreenInfo(b BrowserHandle) (ScreenInfo, bool)
	// OnPaint is called with a BGRA buffer that is only valid during the call.
	OnPaint(b BrowserHandle, ev *PaintEvent)
}

// LoadHandler receives frame load lifecycle events.
type LoadHandler interface {
	OnLoadStart(b BrowserHandle, frame *Frame)
	OnLoadEnd(b BrowserHandle, frame *Frame, httpStatusCode int)
}

// RequestHandler decides what happens to each resource request.
type RequestHandler interface {
	OnBeforeResourceLoad(b BrowserHandle, frame *Frame, req *Request) ResourceAction
}

// ProcessMessageHandler receives messages delivered to the browser process.
type ProcessMessageHandler interface {
	OnProcessMessageReceived(b BrowserHandle, source ProcessID, msg *ProcessMessage) bool
}

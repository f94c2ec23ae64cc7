package common

import (
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/runtime"
)

// MessageHandlerFunc handles a routed process message in the script
// context sc. It returns true when the message was handled.
type MessageHandlerFunc func(b BrowserHandle, sc *ScriptContext, source ProcessID, msg *ProcessMessage) bool

// MessageRouter is a render process side router. It is fed the context and
// message callbacks of a RenderProcessHandler and dispatches messages by
// name to registered handlers, in the default script context of the frame
// the message targets.
//
// A message is handled only when a handler is registered for its name and
// the main frame of the view has a live default script context.
type MessageRouter struct {
	mu       sync.RWMutex
	contexts map[runtime.ExecutionContextID]routedContext
	handlers map[string]MessageHandlerFunc
}

type routedContext struct {
	sc      *ScriptContext
	frameID cdp.FrameID
}

// NewMessageRouter returns a router without handlers.
func NewMessageRouter() *MessageRouter {
	return &MessageRouter{
		contexts: make(map[runtime.ExecutionContextID]routedContext),
		handlers: make(map[string]MessageHandlerFunc),
	}
}

// Handle registers fn for messages named name, replacing any previous one.
func (r *MessageRouter) Handle(name string, fn MessageHandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[name] = fn
}

// Remove unregisters the handler for name.
func (r *MessageRouter) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.handlers, name)
}

// OnContextCreated records a new script context.
func (r *MessageRouter) OnContextCreated(_ BrowserHandle, frame *Frame, sc *ScriptContext) {
	if sc == nil {
		return
	}
	fid := sc.FrameID
	if frame != nil {
		fid = frame.ID()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.contexts[sc.ID] = routedContext{sc: sc, frameID: fid}
}

// OnContextReleased forgets a script context.
func (r *MessageRouter) OnContextReleased(_ BrowserHandle, _ *Frame, sc *ScriptContext) {
	if sc == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.contexts, sc.ID)
}

// OnProcessMessageReceived routes msg and reports whether it was handled.
func (r *MessageRouter) OnProcessMessageReceived(b BrowserHandle, source ProcessID, msg *ProcessMessage) bool {
	if !msg.IsValid() {
		return false
	}

	r.mu.RLock()
	fn := r.handlers[msg.Name()]
	var mainID cdp.FrameID
	if b != nil {
		if mf := b.MainFrame(); mf != nil {
			mainID = mf.ID()
		}
	}
	sc := r.contextFor(mainID)
	r.mu.RUnlock()

	if fn == nil || sc == nil {
		return false
	}
	return fn(b, sc, source, msg)
}

// contextFor returns the default script context of the frame fid, or of
// any frame when fid is empty. The newest context wins.
func (r *MessageRouter) contextFor(fid cdp.FrameID) *ScriptContext {
	var found *ScriptContext
	for _, rc := range r.contexts {
		if !rc.sc.IsDefault || (fid != "" && rc.frameID != fid) {
			continue
		}
		if found == nil || rc.sc.ID > found.ID {
			found = rc.sc
		}
	}
	return found
}

// Contexts returns the number of tracked script contexts.
func (r *MessageRouter) Contexts() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.contexts)
}

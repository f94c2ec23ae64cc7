package handlers

import (
	"fmt"
	"io"
	"strconv"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/log"
)

// Relay message names. Messages with these names are never relayed again.
const (
	RelayToRenderer = "myMessage2"
	RelayToBrowser  = "myMessage3"
)

// Ensure RelayHandler implements the RenderProcessHandler interface.
var _ common.RenderProcessHandler = &RelayHandler{}

// RelayHandler is the render process handler of the demo. Messages go to
// the message router first; a message the router does not handle is
// answered with one message to the render process and one to the browser
// process.
type RelayHandler struct {
	out    io.Writer
	dump   bool
	router *common.MessageRouter
	logger *log.Logger
}

// NewRelayHandler returns a relay printing to out. With dump every received
// message is printed with its arguments before it is handled.
func NewRelayHandler(out io.Writer, dump bool, router *common.MessageRouter, logger *log.Logger) *RelayHandler {
	if router == nil {
		router = common.NewMessageRouter()
	}
	return &RelayHandler{
		out:    out,
		dump:   dump,
		router: router,
		logger: logger,
	}
}

// Router returns the message router messages are offered to first.
func (h *RelayHandler) Router() *common.MessageRouter {
	return h.router
}

// OnContextCreated forwards to the router.
func (h *RelayHandler) OnContextCreated(b common.BrowserHandle, frame *common.Frame, sc *common.ScriptContext) {
	h.router.OnContextCreated(b, frame, sc)
}

// OnContextReleased forwards to the router.
func (h *RelayHandler) OnContextReleased(b common.BrowserHandle, frame *common.Frame, sc *common.ScriptContext) {
	h.router.OnContextReleased(b, frame, sc)
}

// OnProcessMessageReceived dumps, routes and relays msg.
func (h *RelayHandler) OnProcessMessageReceived(
	b common.BrowserHandle, source common.ProcessID, msg *common.ProcessMessage,
) bool {
	if h.dump {
		h.dumpMessage(source, msg)
	}

	if h.router.OnProcessMessageReceived(b, source, msg) {
		return true
	}
	if msg.Name() == RelayToRenderer || msg.Name() == RelayToBrowser {
		return true
	}

	err := b.SendProcessMessage(common.ProcessRenderer, common.NewProcessMessage(RelayToRenderer))
	_, _ = fmt.Fprintf(h.out, "Sending %s to renderer process = %t\n", RelayToRenderer, err == nil)
	if err != nil {
		h.logger.Debugf("RelayHandler:OnProcessMessageReceived", "sending %s: %v", RelayToRenderer, err)
	}

	err = b.SendProcessMessage(common.ProcessBrowser, common.NewProcessMessage(RelayToBrowser))
	_, _ = fmt.Fprintf(h.out, "Sending %s to browser process = %t\n", RelayToBrowser, err == nil)
	if err != nil {
		h.logger.Debugf("RelayHandler:OnProcessMessageReceived", "sending %s: %v", RelayToBrowser, err)
	}

	return false
}

func (h *RelayHandler) dumpMessage(source common.ProcessID, msg *common.ProcessMessage) {
	_, _ = fmt.Fprintf(h.out, "Render::OnProcessMessageReceived: SourceProcess=%v\n", source)
	_, _ = fmt.Fprintf(h.out, "Message Name=%s IsValid=%t IsReadOnly=%t\n", msg.Name(), msg.IsValid(), msg.IsReadOnly())

	args := msg.Arguments()
	for i := 0; i < args.Len(); i++ {
		_, _ = fmt.Fprintf(h.out, "  [%d] (%v) = %s\n", i, args.Type(i), formatValue(args.Get(i)))
	}
}

// formatValue renders v the way the dump prints it; null and unknown
// values print as nothing.
func formatValue(v common.Value) string {
	switch x := v.Interface().(type) {
	case string:
		return x
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

package handlers

import (
	"strings"
	"sync/atomic"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/log"
)

// Ensure MessageLogger implements the ProcessMessageHandler interface.
var _ common.ProcessMessageHandler = &MessageLogger{}

// MessageLogger is the browser process end of the relay: it logs every
// message it receives and reports it as handled.
type MessageLogger struct {
	logger   *log.Logger
	received int64
}

// NewMessageLogger returns a handler logging to logger.
func NewMessageLogger(logger *log.Logger) *MessageLogger {
	return &MessageLogger{logger: logger}
}

// OnProcessMessageReceived logs msg.
func (h *MessageLogger) OnProcessMessageReceived(
	b common.BrowserHandle, source common.ProcessID, msg *common.ProcessMessage,
) bool {
	atomic.AddInt64(&h.received, 1)

	args := msg.Arguments()
	vals := make([]string, 0, args.Len())
	for i := 0; i < args.Len(); i++ {
		vals = append(vals, args.Type(i).String()+"="+formatValue(args.Get(i)))
	}
	h.logger.Infof("Browser:OnProcessMessageReceived", "tid:%v source:%v name:%q args:[%s]",
		b.ID(), source, msg.Name(), strings.Join(vals, " "))

	return true
}

// Received returns the number of messages received.
func (h *MessageLogger) Received() int64 {
	return atomic.LoadInt64(&h.received)
}

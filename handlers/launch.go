package handlers

import (
	"fmt"
	"io"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/log"
)

// MarkerSwitch is appended to a command line once it has been wrapped.
const MarkerSwitch = "testrender"

// Ensure LaunchHandler implements the BrowserProcessHandler interface.
var _ common.BrowserProcessHandler = &LaunchHandler{}

// LaunchHandler prints the engine command lines before they are launched.
// With an interpreter configured the program is started through it:
// "interpreter /abs/program switches... --testrender=w".
type LaunchHandler struct {
	out         io.Writer
	interpreter string
	logger      *log.Logger

	resolve func(program string) (string, error)
}

// NewLaunchHandler returns a handler printing to out. An empty interpreter
// leaves the command lines untouched.
func NewLaunchHandler(out io.Writer, interpreter string, logger *log.Logger) *LaunchHandler {
	return &LaunchHandler{
		out:         out,
		interpreter: interpreter,
		logger:      logger,
		resolve:     common.ResolveProgram,
	}
}

// OnBeforeChildProcessLaunch prints cl and wraps it when needed.
func (h *LaunchHandler) OnBeforeChildProcessLaunch(cl *common.CommandLine) {
	_, _ = fmt.Fprintf(h.out, "AppendExtraCommandLineSwitches: %s\n", cl)
	_, _ = fmt.Fprintf(h.out, " Program == %s\n", cl.Program())

	if h.interpreter != "" && !cl.HasSwitch(MarkerSwitch) {
		program, err := h.resolve(cl.Program())
		if err != nil {
			h.logger.Warnf("LaunchHandler:OnBeforeChildProcessLaunch", "%v", err)
			program = cl.Program()
		}
		cl.SetProgram(program)
		cl.PrependWrapper(h.interpreter)
		cl.AppendSwitchWithValue(MarkerSwitch, "w")
	}

	_, _ = fmt.Fprintf(h.out, "  -> %s\n", cl)
}

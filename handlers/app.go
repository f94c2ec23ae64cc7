package handlers

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"

	"github.com/liuxd6825/testrender/common"
)

// Ensure DemoApp implements the App interface.
var _ common.App = &DemoApp{}

// AppOptions configure NewDemoApp.
type AppOptions struct {
	Out io.Writer
	// Platform defaults to runtime.GOOS.
	Platform string
	// ExeDir holds the engine resources; the directory of the running
	// executable when empty.
	ExeDir string

	BrowserProcessHandler common.BrowserProcessHandler
	RenderProcessHandler  common.RenderProcessHandler
}

// DemoApp is the engine wide handler of the demo.
type DemoApp struct {
	out      io.Writer
	platform string
	exeDir   string

	browser common.BrowserProcessHandler
	render  common.RenderProcessHandler
}

// NewDemoApp returns an app built from opts.
func NewDemoApp(opts AppOptions) *DemoApp {
	a := &DemoApp{
		out:      opts.Out,
		platform: opts.Platform,
		exeDir:   opts.ExeDir,
		browser:  opts.BrowserProcessHandler,
		render:   opts.RenderProcessHandler,
	}
	if a.out == nil {
		a.out = io.Discard
	}
	if a.platform == "" {
		a.platform = runtime.GOOS
	}
	if a.exeDir == "" {
		if exe, err := os.Executable(); err == nil {
			a.exeDir = filepath.Dir(exe)
		}
	}

	return a
}

// OnBeforeCommandLineProcessing prints the command line. On Linux the
// engine resource and locale directories are pointed at the executable
// directory.
func (a *DemoApp) OnBeforeCommandLineProcessing(processType string, cl *common.CommandLine) {
	_, _ = fmt.Fprintf(a.out, "OnBeforeCommandLineProcessing: %s %s\n", processType, cl)

	if a.platform != "linux" || a.exeDir == "" {
		return
	}
	cl.AppendSwitchWithValue("resources-dir-path", a.exeDir)
	cl.AppendSwitchWithValue("locales-dir-path", filepath.Join(a.exeDir, "locales"))
}

// BrowserProcessHandler returns the browser process handler, or nil.
func (a *DemoApp) BrowserProcessHandler() common.BrowserProcessHandler {
	return a.browser
}

// RenderProcessHandler returns the render process handler, or nil.
func (a *DemoApp) RenderProcessHandler() common.RenderProcessHandler {
	return a.render
}

// Package chromium loads, launches and shuts down the Chromium engine and
// creates the windowless views the demo renders into.
package chromium

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/errext/exitcodes"
	"github.com/liuxd6825/testrender/log"
	"github.com/liuxd6825/testrender/storage"
)

// Runtime errors.
var (
	ErrEngineNotFound     = errors.New("engine executable not found")
	ErrNotLoaded          = errors.New("engine is not loaded")
	ErrNotInitialized     = errors.New("engine is not initialized")
	ErrAlreadyInitialized = errors.New("engine is already initialized")
)

// Runtime is the lifecycle of one engine: Load, ExecuteProcess, Initialize
// or Connect, CreateBrowser and finally Shutdown.
type Runtime struct {
	logger *log.Logger

	mu       sync.Mutex
	execPath string
	cancel   context.CancelFunc
	browser  *common.Browser
	loop     *common.MessageLoop
}

// New returns a runtime that logs to logger.
func New(logger *log.Logger) *Runtime {
	return &Runtime{
		logger: logger,
		loop:   common.NewMessageLoop(),
	}
}

// Load resolves the engine executable. An empty execPath picks the first
// well-known executable installed on the system.
func (r *Runtime) Load(execPath string) error {
	if execPath == "" {
		execPath = ExecutablePath()
	}
	if execPath == "" {
		return ErrEngineNotFound
	}
	if _, err := exec.LookPath(execPath); err != nil {
		return fmt.Errorf("%w: %w", ErrEngineNotFound, err)
	}
	r.logger.Debugf("Runtime:Load", "path:%q", execPath)

	r.mu.Lock()
	r.execPath = execPath
	r.mu.Unlock()

	return nil
}

// ExecutablePath returns the loaded engine executable.
func (r *Runtime) ExecutablePath() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.execPath
}

// ExecuteProcess inspects argv, the full command line of the current
// process. It returns -1 when the process is the browser host and must go
// on with Initialize. Otherwise the process was started as an engine
// sub-process; the app sees its command line and the returned exit code
// must be used to terminate.
func (r *Runtime) ExecuteProcess(argv []string, app common.App) int {
	cl := common.ParseCommandLine(argv)
	pt := cl.ProcessType()
	if pt == "" {
		return -1
	}
	if app != nil {
		app.OnBeforeCommandLineProcessing(pt, cl)
	}
	r.logger.Errorf("Runtime:ExecuteProcess", "%q sub-processes are run by the engine itself", pt)

	return int(exitcodes.SubProcess)
}

// Initialize launches the engine with settings and connects to it.
// The engine command line is passed to the app hooks before it is started.
func (r *Runtime) Initialize(ctx context.Context, settings common.Settings, app common.App) (rerr error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.execPath == "" {
		return ErrNotLoaded
	}
	if r.browser != nil {
		return ErrAlreadyInitialized
	}
	if settings.Timeout <= 0 {
		settings.Timeout = common.DefaultTimeout
	}

	flags := prepareFlags(settings)
	dataDir := &storage.Dir{}
	if err := dataDir.Make("", settings.UserDataDir); err != nil {
		return fmt.Errorf("making user data directory: %w", err)
	}
	flags["user-data-dir"] = dataDir.Dir

	cl, err := commandLine(r.execPath, flags)
	if err != nil {
		return err
	}
	if app != nil {
		app.OnBeforeCommandLineProcessing("", cl)
		if bph := app.BrowserProcessHandler(); bph != nil {
			bph.OnBeforeChildProcessLaunch(cl)
		}
	}
	r.logger.Debugf("Runtime:Initialize", "cmd:%s", cl)

	// If this context is cancelled we'll initiate an engine wide
	// cancellation and shutdown.
	browserCtx, browserCtxCancel := context.WithCancel(ctx)
	defer func() {
		if rerr != nil {
			browserCtxCancel()
			if err := dataDir.Cleanup(); err != nil {
				r.logger.Errorf("Runtime:Initialize", "cleaning up the user data directory: %v", err)
			}
		}
	}()

	proc, err := common.NewLocalBrowserProcess(browserCtx, cl, dataDir, settings.Timeout, browserCtxCancel, r.logger)
	if err != nil {
		return fmt.Errorf("launching engine: %w", err)
	}

	return r.connect(browserCtx, browserCtxCancel, proc, settings, app)
}

// Connect attaches to an already running engine listening on wsURL.
func (r *Runtime) Connect(ctx context.Context, wsURL string, settings common.Settings, app common.App) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.browser != nil {
		return ErrAlreadyInitialized
	}

	browserCtx, browserCtxCancel := context.WithCancel(ctx)
	proc := common.NewRemoteBrowserProcess(browserCtx, wsURL, browserCtxCancel, r.logger)
	if err := r.connect(browserCtx, browserCtxCancel, proc, settings, app); err != nil {
		browserCtxCancel()
		return err
	}

	return nil
}

func (r *Runtime) connect(
	ctx context.Context, cancel context.CancelFunc, proc *common.BrowserProcess,
	settings common.Settings, app common.App,
) error {
	opts := common.BrowserOptions{
		App:      app,
		Settings: settings,
	}
	if !settings.MultiThreadedMessageLoop {
		opts.Loop = r.loop
	}
	browser, err := common.NewBrowser(ctx, cancel, proc, opts, r.logger)
	if err != nil {
		return fmt.Errorf("connecting to engine: %w", err)
	}

	r.cancel = cancel
	r.browser = browser

	return nil
}

// Browser returns the connected engine, or nil.
func (r *Runtime) Browser() *common.Browser {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.browser
}

// CreateBrowser creates the windowless view and navigates it to url.
// A failed navigation is logged; the view stays usable. Without a
// multi-threaded message loop the navigation can wait on handler callbacks,
// so pass an empty url and call View.Navigate once RunMessageLoop runs.
func (r *Runtime) CreateBrowser(
	ctx context.Context, window common.WindowInfo, client common.Client,
	settings common.BrowserSettings, url string,
) (*common.View, error) {
	browser := r.Browser()
	if browser == nil {
		return nil, ErrNotInitialized
	}

	v, err := browser.CreateView(window, client, settings)
	if err != nil {
		return nil, fmt.Errorf("creating browser: %w", err)
	}
	if url == "" {
		return v, nil
	}
	if err := v.Navigate(ctx, url); err != nil {
		r.logger.Warnf("Runtime:CreateBrowser", "%v", err)
	}

	return v, nil
}

// RunMessageLoop runs the handler callbacks on the calling goroutine until
// QuitMessageLoop is called or ctx is done. With a multi-threaded message
// loop the callbacks run on engine goroutines and it only blocks.
func (r *Runtime) RunMessageLoop(ctx context.Context) {
	r.loop.Run(ctx)
}

// QuitMessageLoop makes RunMessageLoop return.
func (r *Runtime) QuitMessageLoop() {
	r.loop.Quit()
}

// Shutdown closes the view and the engine. A user data directory created by
// Initialize is removed once the engine process has exited. Shutdown is
// safe to call more than once.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	browser, cancel := r.browser, r.cancel
	r.browser, r.cancel = nil, nil
	r.mu.Unlock()

	r.loop.Quit()
	if browser == nil {
		return nil
	}
	defer cancel()

	if err := browser.Close(ctx); err != nil {
		return fmt.Errorf("shutting down engine: %w", err)
	}

	return nil
}

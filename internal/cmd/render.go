package cmd

import (
	"context"
	"errors"
	"os"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/liuxd6825/testrender/cmd/state"
	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/errext"
	"github.com/liuxd6825/testrender/errext/exitcodes"
	"github.com/liuxd6825/testrender/handlers"
	"github.com/liuxd6825/testrender/storage"
)

const shutdownTimeout = 10 * time.Second

// render runs the demo: it starts the engine, opens one windowless view on
// the configured URL and keeps it rendering until it is told to stop.
func (c *rootCommand) render(_ *cobra.Command, args []string) (err error) {
	gs := c.globalState

	conf, err := getConsolidatedConfig(gs.TempDir(), gs.Env, args)
	if err != nil {
		return err
	}
	c.logger.Debugf("render", "url:%q size:%dx%d paint:%q",
		conf.URL.String, conf.Width.Int64, conf.Height.Int64, conf.PaintPath.String)

	app, client := c.newHandlers(conf)

	// A stop request only ends the wait, the engine is shut down afterwards.
	runCtx, runCancel := context.WithCancel(gs.Ctx)
	defer runCancel()
	stopSignalHandling := handleAbortSignals(gs, func(sig os.Signal) {
		gs.Logger.WithField("sig", sig).Debug("Stopping testrender in response to signal...")
		runCancel()
	})
	defer stopSignalHandling()

	if err := c.startEngine(gs.Ctx, conf, app); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if serr := c.rt.Shutdown(ctx); serr != nil {
			c.logger.Errorf("render", "%v", serr)
			if err == nil {
				err = errext.WithExitCodeIfNone(serr, exitcodes.GenericEngine)
			}
		}
	}()

	// The view navigates only once the message loop runs: with a single
	// threaded loop the engine waits on handler callbacks to commit it.
	var window common.WindowInfo
	window.SetAsWindowless(false)
	view, err := c.rt.CreateBrowser(gs.Ctx, window, client, common.BrowserSettings{}, "")
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.GenericEngine)
	}

	prompt := getColor(gs.Flags.NoColor || !gs.Stdout.IsTTY, color.FgCyan)
	_, _ = prompt.Fprintln(gs.Stdout, "Press Ctrl+C at any time to end the program.")

	return c.wait(runCtx, view, conf.URL.String)
}

func (c *rootCommand) newHandlers(conf Config) (*handlers.DemoApp, *handlers.DemoClient) {
	gs := c.globalState
	out := gs.Stdout

	app := handlers.NewDemoApp(handlers.AppOptions{
		Out:                   out,
		BrowserProcessHandler: handlers.NewLaunchHandler(out, conf.Interpreter.String, c.logger),
		RenderProcessHandler:  handlers.NewRelayHandler(out, conf.DumpMessages.Bool, nil, c.logger),
	})

	load := handlers.NewLoadHandler(out, c.logger)
	load.SendOnLoad = conf.SendOnLoad.String
	opts := handlers.ClientOptions{
		Render: handlers.NewPaintHandler(
			int(conf.Width.Int64), int(conf.Height.Int64), conf.PaintPath.String,
			storage.NewLocalFilePersister(gs.FS), c.logger,
		),
		Load:     load,
		Messages: handlers.NewMessageLogger(c.logger),
	}
	if conf.Intercept.Bool {
		opts.Request = handlers.NewLocalContentHandler(gs.FS, conf.ContentPath.String, c.logger)
	}

	return app, handlers.NewDemoClient(opts)
}

// startEngine connects to the engine at the remote URL, or loads and
// launches a local one.
func (c *rootCommand) startEngine(ctx context.Context, conf Config, app common.App) error {
	settings := conf.settings()

	if wsURL := conf.RemoteURL.String; wsURL != "" {
		if err := c.rt.Connect(ctx, wsURL, settings, app); err != nil {
			return errext.WithExitCodeIfNone(err, exitcodes.EngineLaunch)
		}
	} else {
		if err := c.rt.Load(settings.ExecutablePath); err != nil {
			err = errext.WithHint(err, "install Chromium or set TESTRENDER_EXECUTABLE_PATH")
			return errext.WithExitCodeIfNone(err, exitcodes.EngineLaunch)
		}
		if err := c.rt.Initialize(ctx, settings, app); err != nil {
			return errext.WithExitCodeIfNone(err, exitcodes.EngineLaunch)
		}
	}

	if version, err := c.rt.Browser().Version(); err == nil {
		c.logger.Infof("render", "engine version: %s", version)
	}

	return nil
}

// wait runs the message loop, navigates the view to url and keeps going
// until ctx is done. A view or engine that goes away on its own is an error.
func (c *rootCommand) wait(ctx context.Context, view *common.View, url string) error {
	browser := c.rt.Browser()
	if browser == nil {
		return errext.WithExitCodeIfNone(errors.New("engine is gone"), exitcodes.GenericEngine)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.rt.RunMessageLoop(gctx)
		return nil
	})
	g.Go(func() error {
		if err := view.Navigate(gctx, url); err != nil && gctx.Err() == nil {
			c.logger.Warnf("render", "%v", err)
		}
		return nil
	})
	g.Go(func() error {
		defer c.rt.QuitMessageLoop()

		select {
		case <-gctx.Done():
			return nil
		case <-view.Done():
			return errext.WithExitCodeIfNone(errors.New("the browser session was closed"), exitcodes.GenericEngine)
		case <-browser.Done():
			return errext.WithExitCodeIfNone(errors.New("lost the connection to the engine"), exitcodes.GenericEngine)
		}
	})

	return g.Wait()
}

// handleAbortSignals calls gracefulStop on the first SIGINT or SIGTERM and
// exits on the second one. The returned function stops the handling.
func handleAbortSignals(gs *state.GlobalState, gracefulStop func(os.Signal)) (stop func()) {
	sigC := make(chan os.Signal, 2)
	done := make(chan struct{})
	gs.SignalNotify(sigC, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigC:
			gracefulStop(sig)
		case <-done:
			return
		}

		select {
		case sig := <-sigC:
			gs.Logger.WithField("sig", sig).Error("Aborting testrender in response to signal")
			gs.OSExit(int(exitcodes.ExternalAbort))
		case <-done:
		}
	}()

	return func() {
		close(done)
		gs.SignalStop(sigC)
	}
}

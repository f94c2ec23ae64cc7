/*
 *
 * xk6-browser - a browser automation extension for k6
 * Copyright (C) 2021 Load Impact
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

package common

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"go.opentelemetry.io/otel/attribute"

	"github.com/liuxd6825/testrender/log"
)

// Ensure View and its render process side implement BrowserHandle.
var (
	_ BrowserHandle = &View{}
	_ BrowserHandle = rendererHandle{}
)

// View is a windowless browser: one page target rendered off-screen, whose
// events are reported to the handlers of a Client and an App.
type View struct {
	ctx     context.Context
	cancel  context.CancelFunc
	session session
	logger  *log.Logger
	timeout time.Duration

	client   Client
	app      App
	window   WindowInfo
	settings BrowserSettings
	dispatch dispatcher
	renderer BrowserHandle

	width, height int

	frames     *FrameManager
	network    *NetworkManager
	screencast *Screencaster
	bridge     *RenderBridge

	// wg tracks the event goroutines of the managers and the browser
	// process deliveries. closeMu orders wg.Add against closing.
	wg      sync.WaitGroup
	closeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
	onClose   func(context.Context) error
}

// ViewOptions configure NewView.
type ViewOptions struct {
	Client   Client
	App      App
	Window   WindowInfo
	Settings BrowserSettings
	// Timeout bounds the CDP commands sent on behalf of handlers.
	Timeout time.Duration
	// OnClose is called once when the view is closed.
	OnClose func(context.Context) error

	dispatch dispatcher
}

// NewView creates a view for the page target behind s. The view is inert
// until Init is called.
func NewView(ctx context.Context, s session, opts ViewOptions, logger *log.Logger) *View {
	ctx, cancel := context.WithCancel(ctx)
	v := &View{
		ctx:      ctx,
		cancel:   cancel,
		session:  s,
		logger:   logger,
		timeout:  opts.Timeout,
		client:   opts.Client,
		app:      opts.App,
		window:   opts.Window,
		settings: opts.Settings,
		dispatch: opts.dispatch,
		closed:   make(chan struct{}),
		onClose:  opts.OnClose,
	}
	if v.timeout <= 0 {
		v.timeout = DefaultTimeout
	}
	if v.dispatch == nil {
		v.dispatch = inlineDispatcher{}
	}
	v.renderer = rendererHandle{v}
	v.width, v.height = v.viewSize()

	v.frames = NewFrameManager(ctx, s, v, logger)
	v.network = NewNetworkManager(ctx, s, v, logger)
	v.screencast = NewScreencaster(ctx, s, v, v.width, v.height, logger)
	v.bridge = NewRenderBridge(ctx, s, v, logger)

	return v
}

// Init subscribes the managers to the target events and enables the CDP
// domains the view needs.
func (v *View) Init() error {
	v.logger.Debugf("View:Init", "tid:%v sid:%v size:%dx%d", v.ID(), v.session.ID(), v.width, v.height)

	v.frames.initEvents()
	v.network.initEvents()
	v.bridge.initEvents()
	if v.renderHandler() != nil {
		v.screencast.initEvents()
	}

	if err := page.Enable().Do(cdp.WithExecutor(v.ctx, v.session)); err != nil {
		return fmt.Errorf("enabling page domain: %w", err)
	}
	if err := v.frames.initFrameTree(); err != nil {
		return err
	}
	if err := v.network.initDomains(); err != nil {
		return err
	}
	if err := v.emulate(); err != nil {
		return err
	}
	if err := v.bridge.initDomains(); err != nil {
		return err
	}
	if v.renderHandler() != nil {
		if err := v.screencast.start(); err != nil {
			return err
		}
	}

	return nil
}

func (v *View) viewSize() (int, int) {
	w, h := int(DefaultViewWidth), int(DefaultViewHeight)
	if rh := v.renderHandler(); rh != nil {
		if r, ok := rh.GetViewRect(v); ok && r.Width > 0 && r.Height > 0 {
			w, h = r.Width, r.Height
		}
	}
	return w, h
}

func (v *View) emulate() error {
	scale := 1.0
	sw, sh := v.width, v.height
	if rh := v.renderHandler(); rh != nil {
		if si, ok := rh.GetScreenInfo(v); ok {
			if si.DeviceScaleFactor > 0 {
				scale = si.DeviceScaleFactor
			}
			if si.Rect.Width > 0 && si.Rect.Height > 0 {
				sw, sh = si.Rect.Width, si.Rect.Height
			}
		}
	}

	actions := []Action{
		emulation.SetDeviceMetricsOverride(int64(v.width), int64(v.height), scale, false).
			WithScreenWidth(int64(sw)).
			WithScreenHeight(int64(sh)),
	}
	if v.window.Transparent {
		actions = append(actions,
			emulation.SetDefaultBackgroundColorOverride().WithColor(&cdp.RGBA{}))
	}
	if v.settings.JavaScriptDisabled {
		actions = append(actions, emulation.SetScriptExecutionDisabled(true))
	}
	for _, action := range actions {
		if err := action.Do(cdp.WithExecutor(v.ctx, v.session)); err != nil {
			return fmt.Errorf("emulating view %T: %w", action, err)
		}
	}

	return nil
}

// Navigate loads url in the main frame.
func (v *View) Navigate(ctx context.Context, url string) error {
	spanCtx, span := TraceAPICall(ctx, v.ID().String(), "view.navigate")
	defer span.End()
	span.SetAttributes(attribute.String("navigate.url", url))

	if v.isClosed() {
		return spanRecordErrorf(span, "navigating to %q: %w", url, ErrViewClosed)
	}

	_, _, errorText, err := page.Navigate(url).Do(cdp.WithExecutor(spanCtx, v.session))
	if err != nil {
		return spanRecordErrorf(span, "navigating to %q: %w", url, err)
	}
	if errorText != "" {
		return spanRecordErrorf(span, "navigating to %q: %s", url, errorText)
	}

	return nil
}

// ID returns the target ID of the view.
func (v *View) ID() target.ID {
	return v.session.TargetID()
}

// MainFrame returns the main frame of the view.
func (v *View) MainFrame() *Frame {
	return v.frames.MainFrame()
}

// Size returns the view size in pixels.
func (v *View) Size() (width, height int) {
	return v.width, v.height
}

// SendProcessMessage sends msg from the browser process to target.
func (v *View) SendProcessMessage(target ProcessID, msg *ProcessMessage) error {
	return v.sendProcessMessage(ProcessBrowser, target, msg)
}

func (v *View) sendProcessMessage(source, target ProcessID, msg *ProcessMessage) error {
	if v.isClosed() {
		return ErrViewClosed
	}
	if !msg.IsValid() {
		return fmt.Errorf("%w: message has no name", ErrInvalidMessage)
	}
	env := envelope{source: source, target: target, msg: msg.Copy().freeze()}

	switch target {
	case ProcessRenderer:
		ctx, cancel := context.WithTimeout(v.ctx, v.timeout)
		defer cancel()
		return v.bridge.deliver(ctx, env)
	case ProcessBrowser:
		v.closeMu.Lock()
		if v.isClosed() {
			v.closeMu.Unlock()
			return ErrViewClosed
		}
		v.wg.Add(1)
		v.closeMu.Unlock()
		go func() {
			defer v.wg.Done()
			v.receive(env)
		}()
		return nil
	default:
		return fmt.Errorf("%w: unknown target process %v", ErrInvalidMessage, target)
	}
}

// receive hands a message arriving at its target process to the handler
// of that process.
func (v *View) receive(env envelope) {
	switch env.target {
	case ProcessRenderer:
		rph := v.renderProcessHandler()
		if rph == nil {
			v.logger.Debugf("View:receive", "no render process handler for %q", env.msg.Name())
			return
		}
		v.dispatch.post(func() { rph.OnProcessMessageReceived(v.renderer, env.source, env.msg) })
	case ProcessBrowser:
		pmh := v.processMessageHandler()
		if pmh == nil {
			v.logger.Debugf("View:receive", "no process message handler for %q", env.msg.Name())
			return
		}
		v.dispatch.post(func() { pmh.OnProcessMessageReceived(v, env.source, env.msg) })
	}
}

// Done returns a channel that is closed when the view is closed.
func (v *View) Done() <-chan struct{} {
	return v.closed
}

func (v *View) isClosed() bool {
	select {
	case <-v.closed:
		return true
	default:
		return false
	}
}

// Close stops the screencast, closes the page target and waits for the
// event goroutines to return.
func (v *View) Close(ctx context.Context) error {
	var err error
	v.closeOnce.Do(func() {
		v.logger.Debugf("View:Close", "tid:%v", v.ID())
		v.closeMu.Lock()
		close(v.closed)
		v.closeMu.Unlock()

		if v.renderHandler() != nil {
			if serr := v.screencast.stop(ctx); serr != nil {
				v.logger.Debugf("View:Close", "%v", serr)
			}
		}
		if v.onClose != nil {
			err = v.onClose(ctx)
		}
		v.cancel()
		v.wg.Wait()
	})

	return err
}

func (v *View) renderHandler() RenderHandler {
	if v.client == nil {
		return nil
	}
	return v.client.RenderHandler()
}

func (v *View) loadHandler() LoadHandler {
	if v.client == nil {
		return nil
	}
	return v.client.LoadHandler()
}

func (v *View) requestHandler() RequestHandler {
	if v.client == nil {
		return nil
	}
	return v.client.RequestHandler()
}

func (v *View) processMessageHandler() ProcessMessageHandler {
	if v.client == nil {
		return nil
	}
	return v.client.ProcessMessageHandler()
}

func (v *View) renderProcessHandler() RenderProcessHandler {
	if v.app == nil {
		return nil
	}
	return v.app.RenderProcessHandler()
}

// rendererHandle is the view as seen by render process handlers:
// messages it sends originate in the render process.
type rendererHandle struct {
	v *View
}

func (r rendererHandle) ID() target.ID {
	return r.v.ID()
}

func (r rendererHandle) MainFrame() *Frame {
	return r.v.MainFrame()
}

func (r rendererHandle) SendProcessMessage(target ProcessID, msg *ProcessMessage) error {
	return r.v.sendProcessMessage(ProcessRenderer, target, msg)
}

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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chromedp/cdproto"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/gorilla/websocket"

	"github.com/liuxd6825/testrender/log"
)

// Browser states.
const (
	BrowserStateOpen int64 = iota
	BrowserStateClosing
	BrowserStateClosed
)

// BrowserOptions configure NewBrowser.
type BrowserOptions struct {
	App      App
	Settings Settings
	// Loop receives the handler callbacks when it is not nil.
	Loop *MessageLoop
}

// Browser is the root of the CDP connection to the engine.
// It owns at most one View at a time.
type Browser struct {
	ctx      context.Context
	cancelFn context.CancelFunc

	state int64

	browserProc *BrowserProcess
	conn        *Connection
	opts        BrowserOptions
	dispatch    dispatcher

	viewMu sync.Mutex
	view   *View

	logger *log.Logger
}

// NewBrowser connects to the engine behind browserProc.
func NewBrowser(
	ctx context.Context, cancelFn context.CancelFunc, browserProc *BrowserProcess,
	opts BrowserOptions, logger *log.Logger,
) (*Browser, error) {
	b := Browser{
		ctx:         ctx,
		cancelFn:    cancelFn,
		state:       BrowserStateOpen,
		browserProc: browserProc,
		opts:        opts,
		dispatch:    inlineDispatcher{},
		logger:      logger,
	}
	if opts.Loop != nil {
		b.dispatch = opts.Loop
	}
	if b.opts.Settings.Timeout <= 0 {
		b.opts.Settings.Timeout = DefaultTimeout
	}
	if err := b.connect(); err != nil {
		return nil, err
	}

	return &b, nil
}

func (b *Browser) connect() error {
	b.logger.Debugf("Browser:connect", "wsURL:%q", b.browserProc.WsURL())

	var err error
	b.conn, err = NewConnection(b.ctx, b.browserProc.WsURL(), b.logger)
	if err != nil {
		return fmt.Errorf("connecting to browser DevTools URL: %w", err)
	}

	return b.initEvents()
}

func (b *Browser) initEvents() error {
	chHandler := make(chan Event)
	b.conn.on(b.ctx, []string{
		cdproto.EventTargetDetachedFromTarget,
		cdproto.EventTargetTargetCrashed,
		EventConnectionClose,
	}, chHandler)

	go func() {
		for {
			select {
			case <-b.ctx.Done():
				return
			case event := <-chHandler:
				switch ev := event.data.(type) {
				case *target.EventDetachedFromTarget:
					b.onDetachedFromTarget(ev)
				case *target.EventTargetCrashed:
					b.onTargetCrashed(ev)
				default:
					if event.typ == EventConnectionClose {
						b.logger.Debugf("Browser:initEvents:EventConnectionClose", "")
						b.browserProc.didLoseConnection()
						b.cancelFn()
						return
					}
				}
			}
		}
	}()

	action := target.SetDiscoverTargets(true)
	if err := action.Do(cdp.WithExecutor(b.ctx, b.conn)); err != nil {
		return fmt.Errorf("internal error while discovering targets: %w", err)
	}

	return nil
}

func (b *Browser) currentView() *View {
	b.viewMu.Lock()
	defer b.viewMu.Unlock()

	return b.view
}

func (b *Browser) onDetachedFromTarget(ev *target.EventDetachedFromTarget) {
	v := b.currentView()
	if v == nil || v.session.ID() != ev.SessionID {
		return
	}
	b.logger.Debugf("Browser:onDetachedFromTarget", "sid:%v", ev.SessionID)

	go func() {
		if err := v.Close(b.ctx); err != nil {
			b.logger.Debugf("Browser:onDetachedFromTarget", "closing view: %v", err)
		}
	}()
}

func (b *Browser) onTargetCrashed(ev *target.EventTargetCrashed) {
	v := b.currentView()
	if v == nil || v.ID() != ev.TargetID {
		return
	}
	b.logger.Errorf("Browser:onTargetCrashed", "render process of %v crashed: status:%s code:%d", ev.TargetID, ev.Status, ev.ErrorCode)

	if s, ok := v.session.(*Session); ok {
		s.markAsCrashed()
	}
}

// CreateView opens a page target and wraps it in an initialized View.
// It fails with ErrSessionActive while another view is open and with
// ErrWindowed unless window is windowless.
func (b *Browser) CreateView(window WindowInfo, client Client, settings BrowserSettings) (*View, error) {
	if !window.Windowless {
		return nil, ErrWindowed
	}

	b.viewMu.Lock()
	defer b.viewMu.Unlock()

	if b.view != nil {
		return nil, ErrSessionActive
	}
	if !b.IsConnected() {
		return nil, fmt.Errorf("creating view: %w", ErrChannelClosed)
	}

	tid, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(b.ctx, b.conn))
	if err != nil {
		return nil, fmt.Errorf("creating page target: %w", err)
	}
	sess, err := b.conn.createSession(&target.Info{TargetID: tid, Type: "page"})
	if err != nil {
		return nil, err
	}

	v := NewView(b.ctx, sess, ViewOptions{
		Client:   client,
		App:      b.opts.App,
		Window:   window,
		Settings: settings,
		Timeout:  b.opts.Settings.Timeout,
		OnClose:  func(ctx context.Context) error { return b.closeView(ctx, tid) },
		dispatch: b.dispatch,
	}, b.logger)
	b.view = v

	if err := v.Init(); err != nil {
		b.view = nil
		v.onClose = nil
		_ = v.Close(b.ctx)
		return nil, fmt.Errorf("initializing view: %w", err)
	}

	return v, nil
}

func (b *Browser) closeView(ctx context.Context, tid target.ID) error {
	b.viewMu.Lock()
	b.view = nil
	b.viewMu.Unlock()

	if !b.IsConnected() {
		return nil
	}
	err := target.CloseTarget(tid).Do(cdp.WithExecutor(ctx, b.conn))
	var cerr *websocket.CloseError
	if err != nil && !errors.As(err, &cerr) && !errors.Is(err, ErrChannelClosed) {
		return fmt.Errorf("closing target %v: %w", tid, err)
	}

	return nil
}

// View returns the open view, or nil.
func (b *Browser) View() *View {
	return b.currentView()
}

// IsConnected reports whether the connection to the engine is alive.
func (b *Browser) IsConnected() bool {
	return b.browserProc.isConnected() && atomic.LoadInt64(&b.state) == BrowserStateOpen
}

// Done returns a channel that is closed when the connection to the engine
// is gone.
func (b *Browser) Done() <-chan struct{} {
	return b.ctx.Done()
}

// Version returns the engine product version.
func (b *Browser) Version() (string, error) {
	_, product, _, _, _, err := cdpbrowser.GetVersion().Do(cdp.WithExecutor(b.ctx, b.conn))
	if err != nil {
		return "", fmt.Errorf("getting browser version: %w", err)
	}

	return product, nil
}

// Close closes the open view and shuts the engine down.
func (b *Browser) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt64(&b.state, BrowserStateOpen, BrowserStateClosing) {
		// If we're already in a closing state then no need to continue.
		b.logger.Debugf("Browser:Close", "already in a closing state")
		return nil
	}
	b.logger.Debugf("Browser:Close", "pid:%d", b.browserProc.Pid())

	if v := b.currentView(); v != nil {
		v.onClose = nil
		if err := v.Close(ctx); err != nil {
			b.logger.Debugf("Browser:Close", "closing view: %v", err)
		}
		b.viewMu.Lock()
		b.view = nil
		b.viewMu.Unlock()
	}

	b.browserProc.GracefulClose()
	defer func() {
		b.browserProc.Terminate()
		atomic.StoreInt64(&b.state, BrowserStateClosed)
	}()

	action := cdpbrowser.Close()
	err := action.Do(cdp.WithExecutor(ctx, b.conn))
	var cerr *websocket.CloseError
	if err != nil && !errors.As(err, &cerr) && !errors.Is(err, ErrChannelClosed) {
		return fmt.Errorf("closing the browser: %w", err)
	}
	b.conn.Close()

	return nil
}

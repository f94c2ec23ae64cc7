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

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"

	"github.com/liuxd6825/testrender/log"
)

// FrameManager tracks the frames of a view and reports their load
// lifecycle to the LoadHandler.
//
// A load starts when a frame commits a navigation and ends when the frame
// stops loading. The status passed to OnLoadEnd is the HTTP status of the
// last document response of the frame, 0 when there was none.
type FrameManager struct {
	ctx     context.Context
	session session
	view    *View
	logger  *log.Logger

	mu        sync.RWMutex
	frames    map[cdp.FrameID]*Frame
	mainFrame *Frame
	statuses  map[cdp.FrameID]int
	loading   map[cdp.FrameID]bool
}

// NewFrameManager creates a frame manager for the view v.
func NewFrameManager(ctx context.Context, s session, v *View, logger *log.Logger) *FrameManager {
	return &FrameManager{
		ctx:      ctx,
		session:  s,
		view:     v,
		logger:   logger,
		frames:   make(map[cdp.FrameID]*Frame),
		statuses: make(map[cdp.FrameID]int),
		loading:  make(map[cdp.FrameID]bool),
	}
}

func (m *FrameManager) initFrameTree() error {
	tree, err := page.GetFrameTree().Do(cdp.WithExecutor(m.ctx, m.session))
	if err != nil {
		return fmt.Errorf("getting frame tree: %w", err)
	}
	m.addFrameTree(tree)

	return nil
}

func (m *FrameManager) addFrameTree(tree *page.FrameTree) {
	if tree == nil || tree.Frame == nil {
		return
	}
	m.frameNavigated(tree.Frame)
	for _, child := range tree.ChildFrames {
		m.addFrameTree(child)
	}
}

func (m *FrameManager) initEvents() {
	chHandler := make(chan Event)
	m.session.on(m.ctx, []string{
		cdproto.EventPageFrameAttached,
		cdproto.EventPageFrameDetached,
		cdproto.EventPageFrameNavigated,
		cdproto.EventPageFrameStartedLoading,
		cdproto.EventPageFrameStoppedLoading,
		cdproto.EventNetworkResponseReceived,
	}, chHandler)

	m.view.wg.Add(1)
	go func() {
		defer m.view.wg.Done()
		for m.handleEvents(chHandler) {
		}
	}()
}

func (m *FrameManager) handleEvents(in <-chan Event) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-m.session.Done():
		return false
	case event := <-in:
		switch ev := event.data.(type) {
		case *page.EventFrameAttached:
			m.frameAttached(ev.FrameID, ev.ParentFrameID)
		case *page.EventFrameDetached:
			m.frameDetached(ev.FrameID)
		case *page.EventFrameNavigated:
			m.onFrameNavigated(ev.Frame)
		case *page.EventFrameStartedLoading:
			m.frameStartedLoading(ev.FrameID)
		case *page.EventFrameStoppedLoading:
			m.frameStoppedLoading(ev.FrameID)
		case *network.EventResponseReceived:
			m.responseReceived(ev)
		}
	}
	return true
}

// Frame returns the frame with the given ID, or nil.
func (m *FrameManager) Frame(id cdp.FrameID) *Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.frames[id]
}

// MainFrame returns the main frame, or nil before the first navigation.
func (m *FrameManager) MainFrame() *Frame {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.mainFrame
}

// Frames returns the number of known frames.
func (m *FrameManager) Frames() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.frames)
}

func (m *FrameManager) frameAttached(id, parentID cdp.FrameID) {
	m.logger.Debugf("FrameManager:frameAttached", "fid:%v pfid:%v", id, parentID)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.frames[id]; ok {
		return
	}
	f := NewFrame(id, parentID, "")
	m.frames[id] = f
	if parentID == "" {
		m.mainFrame = f
	}
}

func (m *FrameManager) frameDetached(id cdp.FrameID) {
	m.logger.Debugf("FrameManager:frameDetached", "fid:%v", id)

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.frames, id)
	delete(m.statuses, id)
	delete(m.loading, id)
}

// frameNavigated records the frame committed by a navigation.
func (m *FrameManager) frameNavigated(cf *cdp.Frame) *Frame {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.frames[cf.ID]
	if !ok && cf.ParentID == "" && m.mainFrame != nil {
		// The main frame ID changes on a cross process navigation.
		delete(m.frames, m.mainFrame.ID())
	}
	if !ok {
		f = NewFrame(cf.ID, cf.ParentID, "")
		m.frames[cf.ID] = f
	}
	f.navigated(cf)
	if cf.ParentID == "" {
		m.mainFrame = f
	}

	return f
}

func (m *FrameManager) onFrameNavigated(cf *cdp.Frame) {
	m.logger.Debugf("FrameManager:onFrameNavigated", "fid:%v pfid:%v url:%s", cf.ID, cf.ParentID, cf.URL)

	f := m.frameNavigated(cf)

	m.mu.Lock()
	m.loading[cf.ID] = true
	m.mu.Unlock()

	lh := m.view.loadHandler()
	if lh == nil {
		return
	}
	m.view.dispatch.post(func() { lh.OnLoadStart(m.view, f) })
}

func (m *FrameManager) frameStartedLoading(id cdp.FrameID) {
	m.logger.Debugf("FrameManager:frameStartedLoading", "fid:%v", id)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses[id] = 0
}

func (m *FrameManager) frameStoppedLoading(id cdp.FrameID) {
	m.logger.Debugf("FrameManager:frameStoppedLoading", "fid:%v", id)

	m.mu.Lock()
	f := m.frames[id]
	started := m.loading[id]
	status := m.statuses[id]
	delete(m.loading, id)
	m.mu.Unlock()

	if f == nil || !started {
		return
	}
	f.setStatus(status)

	lh := m.view.loadHandler()
	if lh == nil {
		return
	}
	m.view.dispatch.post(func() { lh.OnLoadEnd(m.view, f, status) })
}

func (m *FrameManager) responseReceived(ev *network.EventResponseReceived) {
	if ev.Type != network.ResourceTypeDocument || ev.Response == nil || ev.FrameID == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses[ev.FrameID] = int(ev.Response.Status)
}

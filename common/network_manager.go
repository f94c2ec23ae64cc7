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
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"

	"github.com/liuxd6825/testrender/log"
)

// NetworkManager enables the network domain of a view and, when a
// RequestHandler is set, pauses every request and applies the handler's
// ResourceAction to it.
type NetworkManager struct {
	ctx     context.Context
	session session
	view    *View
	logger  *log.Logger

	reqInterceptionEnabled bool
}

// NewNetworkManager creates a network manager for the view v.
func NewNetworkManager(ctx context.Context, s session, v *View, logger *log.Logger) *NetworkManager {
	return &NetworkManager{
		ctx:                    ctx,
		session:                s,
		view:                   v,
		logger:                 logger,
		reqInterceptionEnabled: v.requestHandler() != nil,
	}
}

func (m *NetworkManager) initDomains() error {
	actions := []Action{network.Enable()}

	// Only enable the Fetch domain if necessary, as it has a performance overhead.
	if m.reqInterceptionEnabled {
		actions = append(actions,
			network.SetCacheDisabled(true),
			fetch.Enable().WithPatterns([]*fetch.RequestPattern{
				{
					URLPattern:   "*",
					RequestStage: fetch.RequestStageRequest,
				},
			}))
	}
	for _, action := range actions {
		if err := action.Do(cdp.WithExecutor(m.ctx, m.session)); err != nil {
			return fmt.Errorf("initializing networking %T: %w", action, err)
		}
	}

	return nil
}

func (m *NetworkManager) initEvents() {
	if !m.reqInterceptionEnabled {
		return
	}

	chHandler := make(chan Event)
	m.session.on(m.ctx, []string{cdproto.EventFetchRequestPaused}, chHandler)

	m.view.wg.Add(1)
	go func() {
		defer m.view.wg.Done()
		for m.handleEvents(chHandler) {
		}
	}()
}

func (m *NetworkManager) handleEvents(in <-chan Event) bool {
	select {
	case <-m.ctx.Done():
		return false
	case <-m.session.Done():
		return false
	case event := <-in:
		if ev, ok := event.data.(*fetch.EventRequestPaused); ok {
			m.onRequestPaused(ev)
		}
	}
	return true
}

func (m *NetworkManager) onRequestPaused(event *fetch.EventRequestPaused) {
	req := newRequest(string(event.RequestID), event.Request, event.ResourceType)

	m.logger.Debugf("NetworkManager:onRequestPaused", "url:%v sid:%s", req.URL, m.session.ID())

	action := ContinueResource()
	if rh := m.view.requestHandler(); rh != nil {
		frame := m.view.frames.Frame(event.FrameID)
		var a ResourceAction
		if !dispatchWait(m.ctx, m.view.dispatch, func() { a = rh.OnBeforeResourceLoad(m.view, frame, req) }) {
			return
		}
		action = a
	}

	var err error
	switch action.Kind {
	case ResourceCancel:
		err = m.AbortRequest(event.RequestID)
	case ResourceFulfill:
		err = m.FulfillRequest(event.RequestID, action)
	default:
		err = m.ContinueRequest(event.RequestID)
	}
	if err != nil {
		m.logger.Errorf("NetworkManager:onRequestPaused", "%s %s: %v", req.Method, req.URL, err)
	}
}

// AbortRequest fails a paused request.
func (m *NetworkManager) AbortRequest(requestID fetch.RequestID) error {
	m.logger.Debugf("NetworkManager:AbortRequest", "aborting request (id: %s)", requestID)

	action := fetch.FailRequest(requestID, network.ErrorReasonAborted)
	if err := action.Do(cdp.WithExecutor(m.ctx, m.session)); err != nil {
		// Most probably the view is being closed.
		if errors.Is(err, context.Canceled) {
			m.logger.Debugf("NetworkManager:AbortRequest", "context canceled interrupting request")
			return nil
		}
		return fmt.Errorf("fail to abort request (id: %s): %w", requestID, err)
	}

	return nil
}

// ContinueRequest lets a paused request go to the network.
func (m *NetworkManager) ContinueRequest(requestID fetch.RequestID) error {
	m.logger.Debugf("NetworkManager:ContinueRequest", "continuing request (id: %s)", requestID)

	action := fetch.ContinueRequest(requestID)
	if err := action.Do(cdp.WithExecutor(m.ctx, m.session)); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debugf("NetworkManager:ContinueRequest", "context canceled continuing request")
			return nil
		}
		// The page navigated away and the request is no longer tracked.
		if strings.Contains(err.Error(), "Invalid InterceptionId") {
			m.logger.Debugf("NetworkManager:ContinueRequest", "invalid interception ID (%s) continuing request: %s",
				requestID, err)
			return nil
		}
		return fmt.Errorf("fail to continue request (id: %s): %w", requestID, err)
	}

	return nil
}

// FulfillRequest answers a paused request with the response in ra.
func (m *NetworkManager) FulfillRequest(requestID fetch.RequestID, ra ResourceAction) error {
	m.logger.Debugf("NetworkManager:FulfillRequest", "fulfilling request (id: %s, bytes: %d)", requestID, len(ra.Body))

	responseCode := int64(http.StatusOK)
	if ra.Status != 0 {
		responseCode = int64(ra.Status)
	}

	action := fetch.FulfillRequest(requestID, responseCode)
	if ra.ContentType != "" {
		action = action.WithResponseHeaders([]*fetch.HeaderEntry{
			{Name: "Content-Type", Value: ra.ContentType},
		})
	}
	if len(ra.Body) > 0 {
		action = action.WithBody(base64.StdEncoding.EncodeToString(ra.Body))
	}

	if err := action.Do(cdp.WithExecutor(m.ctx, m.session)); err != nil {
		if errors.Is(err, context.Canceled) {
			m.logger.Debugf("NetworkManager:FulfillRequest", "context canceled fulfilling request")
			return nil
		}
		return fmt.Errorf("fail to fulfill request (id: %s): %w", requestID, err)
	}

	return nil
}

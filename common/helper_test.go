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
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto/target"
	"github.com/mailru/easyjson"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/liuxd6825/testrender/log"
)

const (
	defaultWait = 5 * time.Second
	tick        = 5 * time.Millisecond
)

// fakeCall is a CDP command sent through a fakeSession.
type fakeCall struct {
	method string
	params gjson.Result
}

// fakeSession is an in-memory session. Commands are recorded and answered
// from replies; events are injected with emit.
type fakeSession struct {
	BaseEventEmitter

	mu      sync.Mutex
	calls   []fakeCall
	replies map[string]string
	errs    map[string]error
	done    chan struct{}
}

var _ session = &fakeSession{}

func newFakeSession(ctx context.Context) *fakeSession {
	return &fakeSession{
		BaseEventEmitter: NewBaseEventEmitter(ctx),
		replies:          make(map[string]string),
		errs:             make(map[string]error),
		done:             make(chan struct{}),
	}
}

func (s *fakeSession) reply(method, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.replies[method] = result
}

func (s *fakeSession) fail(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.errs[method] = err
}

func (s *fakeSession) Execute(_ context.Context, method string, params easyjson.Marshaler, res easyjson.Unmarshaler) error {
	var raw []byte
	if params != nil {
		b, err := easyjson.Marshal(params)
		if err != nil {
			return err //nolint:wrapcheck
		}
		raw = b
	}

	s.mu.Lock()
	s.calls = append(s.calls, fakeCall{method: method, params: gjson.ParseBytes(raw)})
	reply, err := s.replies[method], s.errs[method]
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if reply == "" || res == nil {
		return nil
	}
	return easyjson.Unmarshal([]byte(reply), res) //nolint:wrapcheck
}

func (s *fakeSession) ExecuteWithoutExpectationOnReply(
	ctx context.Context, method string, params easyjson.Marshaler, _ easyjson.Unmarshaler,
) error {
	return s.Execute(ctx, method, params, nil)
}

func (s *fakeSession) ID() target.SessionID { return "fake-session" }

func (s *fakeSession) TargetID() target.ID { return "fake-target" }

func (s *fakeSession) Done() <-chan struct{} { return s.done }

// methods returns the recorded command methods in order.
func (s *fakeSession) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := make([]string, 0, len(s.calls))
	for _, c := range s.calls {
		m = append(m, c.method)
	}
	return m
}

// lastCall returns the last recorded call of method.
func (s *fakeSession) lastCall(method string) (fakeCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.calls) - 1; i >= 0; i-- {
		if s.calls[i].method == method {
			return s.calls[i], true
		}
	}
	return fakeCall{}, false
}

// waitCall waits until method was called.
func (s *fakeSession) waitCall(t *testing.T, method string) fakeCall {
	t.Helper()

	var c fakeCall
	require.Eventually(t, func() bool {
		var ok bool
		c, ok = s.lastCall(method)
		return ok
	}, defaultWait, tick, "waiting for %s", method)

	return c
}

// newTestView returns an initialized view over a fake session. The view
// is closed when the test ends.
func newTestView(t *testing.T, opts ViewOptions) (*View, *fakeSession) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	s := newFakeSession(ctx)
	s.reply(`Runtime.evaluate`, `{"result":{"type":"boolean","value":true}}`)
	v := NewView(ctx, s, opts, log.NewNullLogger())
	require.NoError(t, v.Init())
	t.Cleanup(func() { _ = v.Close(context.Background()) })

	return v, s
}

// recv waits for a value on ch.
func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()

	select {
	case v := <-ch:
		return v
	case <-time.After(defaultWait):
		t.Fatal("timed out waiting for a handler call")
	}
	var zero T
	return zero
}

// testClient is a Client with optional handlers.
type testClient struct {
	render  RenderHandler
	load    LoadHandler
	request RequestHandler
	message ProcessMessageHandler
}

func (c *testClient) RenderHandler() RenderHandler                 { return c.render }
func (c *testClient) LoadHandler() LoadHandler                     { return c.load }
func (c *testClient) RequestHandler() RequestHandler               { return c.request }
func (c *testClient) ProcessMessageHandler() ProcessMessageHandler { return c.message }

// testApp is an App with an optional render process handler.
type testApp struct {
	render RenderProcessHandler
}

func (a *testApp) OnBeforeCommandLineProcessing(string, *CommandLine) {}
func (a *testApp) BrowserProcessHandler() BrowserProcessHandler       { return nil }
func (a *testApp) RenderProcessHandler() RenderProcessHandler         { return a.render }

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

// Package ws provides a fake DevTools WebSocket endpoint for tests that
// exercise the CDP binding without a real Chromium.
package ws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/chromedp/cdproto"
	"github.com/gorilla/websocket"
	"github.com/mailru/easyjson"
	"github.com/mailru/easyjson/jlexer"
	"github.com/mailru/easyjson/jwriter"
	"github.com/mccutchen/go-httpbin/httpbin"
	"github.com/stretchr/testify/require"
)

// Default identifiers used by CDPDefaultHandler.
const (
	DefaultSessionID        = "session_id_0123456789"
	DefaultTargetID         = "target_id_0123456789"
	DefaultBrowserContextID = "browser_context_id_0123456789"
)

// CDPHandlerFunc handles one message received by the fake browser.
// Replies are queued on writeCh; closing done ends the connection.
type CDPHandlerFunc func(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{})

// Server can be used as a test alternative to a real CDP compatible browser.
type Server struct {
	t          testing.TB
	Mux        *http.ServeMux
	ServerHTTP *httptest.Server
	Context    context.Context

	mu sync.Mutex
}

// NewServer returns a fully configured and running WS test server.
func NewServer(t testing.TB, opts ...func(*Server)) *Server {
	t.Helper()

	// Create a http.ServeMux and set the httpbin handler as the default
	mux := http.NewServeMux()
	mux.Handle("/", httpbin.New().Handler())

	server := httptest.NewServer(mux)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	s := &Server{
		t:          t,
		Mux:        mux,
		ServerHTTP: server,
		Context:    ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WebSocketURL returns the ws:// URL of the handler mounted at path.
func (s *Server) WebSocketURL(path string) string {
	u, err := url.Parse(s.ServerHTTP.URL)
	require.NoError(s.t, err)

	return fmt.Sprintf("ws://%s%s", u.Host, path)
}

// WithClosureAbnormalHandler attaches an abnormal closure behavior to Server.
func WithClosureAbnormalHandler(path string) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		// This forces a connection closure without a proper WS close message exchange
		_ = conn.Close()
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// WithEchoHandler attaches an echo handler to Server.
func WithEchoHandler(path string) func(*Server) {
	handler := func(w http.ResponseWriter, req *http.Request) {
		conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
		if err != nil {
			return
		}
		messageType, r, e := conn.NextReader()
		if e != nil {
			return
		}
		var wc io.WriteCloser
		wc, err = conn.NextWriter(messageType)
		if err != nil {
			return
		}
		if _, err = io.Copy(wc, r); err != nil {
			return
		}
		if err = wc.Close(); err != nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(10*time.Second),
		)
	}
	return func(s *Server) {
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// WithCDPHandler attaches a custom CDP handler function to Server.
// Every received method is appended to cmdsReceived when it is not nil.
func WithCDPHandler(path string, fn CDPHandlerFunc, cmdsReceived *[]cdproto.MethodType) func(*Server) {
	return func(s *Server) {
		handler := func(w http.ResponseWriter, req *http.Request) {
			conn, err := (&websocket.Upgrader{}).Upgrade(w, req, w.Header())
			if err != nil {
				return
			}

			done := make(chan struct{})
			writeCh := make(chan cdproto.Message)

			go s.readLoop(conn, fn, writeCh, done, cmdsReceived)
			go writeLoop(conn, writeCh, done)

			<-done // Wait for done channel to be closed before closing connection
		}
		s.Mux.Handle(path, http.HandlerFunc(handler))
	}
}

// Received returns a copy of cmds taken under the server lock.
func (s *Server) Received(cmds *[]cdproto.MethodType) []cdproto.MethodType {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]cdproto.MethodType(nil), *cmds...)
}

func (s *Server) readLoop(
	conn *websocket.Conn, fn CDPHandlerFunc, writeCh chan cdproto.Message, done chan struct{},
	cmdsReceived *[]cdproto.MethodType,
) {
	read := func() (*cdproto.Message, error) {
		_, buf, err := conn.ReadMessage()
		if err != nil {
			return nil, err //nolint:wrapcheck
		}

		var msg cdproto.Message
		decoder := jlexer.Lexer{Data: buf}
		msg.UnmarshalEasyJSON(&decoder)
		if err := decoder.Error(); err != nil {
			return nil, err //nolint:wrapcheck
		}

		return &msg, nil
	}

	for {
		select {
		case <-done:
			return
		default:
		}

		msg, err := read()
		if err != nil {
			close(done)
			return
		}

		if msg.Method != "" && cmdsReceived != nil {
			s.mu.Lock()
			*cmdsReceived = append(*cmdsReceived, msg.Method)
			s.mu.Unlock()
		}

		fn(conn, msg, writeCh, done)
	}
}

func writeLoop(conn *websocket.Conn, writeCh chan cdproto.Message, done chan struct{}) {
	write := func(msg *cdproto.Message) {
		encoder := jwriter.Writer{}
		msg.MarshalEasyJSON(&encoder)
		if err := encoder.Error; err != nil {
			return
		}

		writer, err := conn.NextWriter(websocket.TextMessage)
		if err != nil {
			return
		}
		if _, err := encoder.DumpTo(writer); err != nil {
			return
		}
		_ = writer.Close()
	}

	for {
		select {
		case msg := <-writeCh:
			write(&msg)
		case <-done:
			return
		}
	}
}

// TargetAttachedEvent returns the Target.attachedToTarget event for the
// default page target.
func TargetAttachedEvent() cdproto.Message {
	const targetAttachedToTargetEvent = `
	{
		"sessionId": "` + DefaultSessionID + `",
		"targetInfo": {
			"targetId": "` + DefaultTargetID + `",
			"type": "page",
			"title": "",
			"url": "about:blank",
			"attached": true,
			"browserContextId": "` + DefaultBrowserContextID + `"
		},
		"waitingForDebugger": false
	}`

	return cdproto.Message{
		Method: cdproto.EventTargetAttachedToTarget,
		Params: easyjson.RawMessage([]byte(targetAttachedToTargetEvent)),
	}
}

// CDPDefaultHandler is a default handler for the CDP WS server.
// Session commands get an empty reply, Target.attachToTarget attaches the
// default page target, Target.createTarget returns the default target ID.
func CDPDefaultHandler(conn *websocket.Conn, msg *cdproto.Message, writeCh chan cdproto.Message, done chan struct{}) {
	const (
		targetAttachedToTargetResult = `{"sessionId":"` + DefaultSessionID + `"}`
		targetCreateTargetResult     = `{"targetId":"` + DefaultTargetID + `"}`
	)

	if msg.Method == "" {
		return
	}
	if msg.SessionID != "" {
		writeCh <- cdproto.Message{
			ID:        msg.ID,
			SessionID: msg.SessionID,
			Result:    easyjson.RawMessage([]byte("{}")),
		}
		return
	}

	switch msg.Method {
	case cdproto.MethodType(cdproto.CommandTargetAttachToTarget):
		writeCh <- TargetAttachedEvent()
		writeCh <- cdproto.Message{
			ID:     msg.ID,
			Result: easyjson.RawMessage([]byte(targetAttachedToTargetResult)),
		}
	case cdproto.MethodType(cdproto.CommandTargetCreateTarget):
		writeCh <- cdproto.Message{
			ID:     msg.ID,
			Result: easyjson.RawMessage([]byte(targetCreateTargetResult)),
		}
	default:
		writeCh <- cdproto.Message{
			ID:     msg.ID,
			Result: easyjson.RawMessage([]byte("{}")),
		}
	}
}

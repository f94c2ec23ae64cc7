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
	"errors"
	"time"
)

const (
	// Defaults

	DefaultViewWidth  int64         = 1280
	DefaultViewHeight int64         = 768
	DefaultURL        string        = "about:blank"
	DefaultTimeout    time.Duration = 30 * time.Second

	// Render-process bridge

	BridgeBindingName = "__testrenderPost"
	BridgeGlobalName  = "testrender"
)

var (
	// ErrChannelClosed is returned when the connection went away
	// while waiting for a reply.
	ErrChannelClosed = errors.New("channel closed")

	// ErrTargetCrashed is returned when a command is sent to a crashed target.
	ErrTargetCrashed = errors.New("target has crashed")

	// ErrNoSession is returned when a target attached without a session.
	ErrNoSession = errors.New("no session")

	// ErrSessionActive is returned when a second view is requested while
	// one is still open.
	ErrSessionActive = errors.New("a browser session is already active")

	// ErrWindowed is returned when a view is requested for a native window.
	// Views only render off-screen.
	ErrWindowed = errors.New("only windowless views are supported")

	// ErrViewClosed is returned when using a view that has been closed.
	ErrViewClosed = errors.New("view is closed")

	// ErrInvalidMessage is returned when a process message cannot be sent
	// or decoded.
	ErrInvalidMessage = errors.New("invalid process message")
)

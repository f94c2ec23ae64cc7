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
	"strings"
	"sync"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"

	"github.com/liuxd6825/testrender/log"
)

// bridgeScript runs in every document of a view. It is the render process
// end of the process message channel: page code sends with
// testrender.send(name, ...args) or testrender.post(target, name, ...args)
// and listens with testrender.on(name, fn).
const bridgeScript = `(() => {
	if (globalThis.` + BridgeGlobalName + `) return;
	const post = globalThis.` + BridgeBindingName + `;
	if (typeof post !== "function") return;
	const typed = (v) => {
		if (v === null || v === undefined) return { type: "null" };
		switch (typeof v) {
		case "boolean": return { type: "bool", value: v };
		case "number":
			if (Number.isInteger(v) && v >= -2147483648 && v <= 2147483647) return { type: "int", value: v };
			return Number.isFinite(v) ? { type: "double", value: v } : { type: "null" };
		case "string": return { type: "string", value: v };
		default: return { type: "string", value: String(v) };
		}
	};
	const listeners = new Map();
	const send = (target, name, args) => {
		post(JSON.stringify({ name: String(name), source: "renderer", target, args: args.map(typed) }));
		return true;
	};
	Object.defineProperty(globalThis, "` + BridgeGlobalName + `", { value: Object.freeze({
		send: (name, ...args) => send("browser", name, args),
		post: (target, name, ...args) => send(target, name, args),
		on: (name, fn) => { listeners.set(String(name), fn); },
		__deliver: (m) => {
			const fn = listeners.get(m.name);
			if (fn) {
				try { fn(...m.args.map((a) => a.value === undefined ? null : a.value)); } catch (e) {}
			}
			post(JSON.stringify(m));
			return true;
		},
	}) });
})();`

// RenderBridge is the render process side of a view: it tracks script
// contexts and carries process messages through the bridge script.
type RenderBridge struct {
	ctx     context.Context
	session session
	view    *View
	logger  *log.Logger

	mu       sync.RWMutex
	contexts map[runtime.ExecutionContextID]*ScriptContext
}

// NewRenderBridge creates the render process bridge of the view v.
func NewRenderBridge(ctx context.Context, s session, v *View, logger *log.Logger) *RenderBridge {
	return &RenderBridge{
		ctx:      ctx,
		session:  s,
		view:     v,
		logger:   logger,
		contexts: make(map[runtime.ExecutionContextID]*ScriptContext),
	}
}

func (b *RenderBridge) initDomains() error {
	actions := []Action{
		runtime.AddBinding(BridgeBindingName),
		ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(bridgeScript).Do(ctx)
			return err //nolint:wrapcheck
		}),
		runtime.Enable(),
		// Install into the document that is already loaded.
		ActionFunc(func(ctx context.Context) error {
			_, _, err := runtime.Evaluate(bridgeScript).Do(ctx)
			return err //nolint:wrapcheck
		}),
	}
	for _, action := range actions {
		if err := action.Do(cdp.WithExecutor(b.ctx, b.session)); err != nil {
			return fmt.Errorf("initializing render bridge %T: %w", action, err)
		}
	}

	return nil
}

func (b *RenderBridge) initEvents() {
	chHandler := make(chan Event)
	b.session.on(b.ctx, []string{
		cdproto.EventRuntimeExecutionContextCreated,
		cdproto.EventRuntimeExecutionContextDestroyed,
		cdproto.EventRuntimeExecutionContextsCleared,
		cdproto.EventRuntimeBindingCalled,
	}, chHandler)

	b.view.wg.Add(1)
	go func() {
		defer b.view.wg.Done()
		for b.handleEvents(chHandler) {
		}
	}()
}

func (b *RenderBridge) handleEvents(in <-chan Event) bool {
	select {
	case <-b.ctx.Done():
		return false
	case <-b.session.Done():
		return false
	case event := <-in:
		switch ev := event.data.(type) {
		case *runtime.EventExecutionContextCreated:
			b.onContextCreated(ev.Context)
		case *runtime.EventExecutionContextDestroyed:
			b.onContextDestroyed(ev.ExecutionContextID)
		case *runtime.EventExecutionContextsCleared:
			b.onContextsCleared()
		case *runtime.EventBindingCalled:
			b.onBindingCalled(ev)
		}
	}
	return true
}

// Contexts returns the number of live script contexts.
func (b *RenderBridge) Contexts() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.contexts)
}

func (b *RenderBridge) onContextCreated(desc *runtime.ExecutionContextDescription) {
	if desc == nil {
		return
	}
	sc := newScriptContext(desc)
	b.logger.Debugf("RenderBridge:onContextCreated", "ecid:%d fid:%v default:%t", sc.ID, sc.FrameID, sc.IsDefault)

	b.mu.Lock()
	b.contexts[sc.ID] = sc
	b.mu.Unlock()

	rph := b.view.renderProcessHandler()
	if rph == nil {
		return
	}
	frame := b.view.frames.Frame(sc.FrameID)
	b.view.dispatch.post(func() { rph.OnContextCreated(b.view.renderer, frame, sc) })
}

func (b *RenderBridge) onContextDestroyed(id runtime.ExecutionContextID) {
	b.mu.Lock()
	sc, ok := b.contexts[id]
	delete(b.contexts, id)
	b.mu.Unlock()

	if ok {
		b.released(sc)
	}
}

func (b *RenderBridge) onContextsCleared() {
	b.mu.Lock()
	cleared := b.contexts
	b.contexts = make(map[runtime.ExecutionContextID]*ScriptContext)
	b.mu.Unlock()

	for _, sc := range cleared {
		b.released(sc)
	}
}

func (b *RenderBridge) released(sc *ScriptContext) {
	b.logger.Debugf("RenderBridge:released", "ecid:%d fid:%v", sc.ID, sc.FrameID)

	rph := b.view.renderProcessHandler()
	if rph == nil {
		return
	}
	frame := b.view.frames.Frame(sc.FrameID)
	b.view.dispatch.post(func() { rph.OnContextReleased(b.view.renderer, frame, sc) })
}

func (b *RenderBridge) onBindingCalled(ev *runtime.EventBindingCalled) {
	if ev.Name != BridgeBindingName {
		return
	}
	env, err := unmarshalEnvelope([]byte(ev.Payload))
	if err != nil {
		b.logger.Warnf("RenderBridge:onBindingCalled", "dropping message: %v", err)
		return
	}
	b.logger.Debugf("RenderBridge:onBindingCalled", "name:%s %s->%s", env.msg.Name(), env.source, env.target)

	b.view.receive(env)
}

// deliver hands the message in env to the bridge script of the main frame,
// which passes it to page listeners and posts it back for the render
// process handler.
func (b *RenderBridge) deliver(ctx context.Context, env envelope) error {
	payload, err := marshalEnvelope(env)
	if err != nil {
		return err
	}

	var sb strings.Builder
	sb.WriteString("globalThis.")
	sb.WriteString(BridgeGlobalName)
	sb.WriteString(" !== undefined && globalThis.")
	sb.WriteString(BridgeGlobalName)
	sb.WriteString(".__deliver(")
	sb.Write(payload)
	sb.WriteString(")")

	res, exc, err := runtime.Evaluate(sb.String()).
		WithReturnByValue(true).
		Do(cdp.WithExecutor(ctx, b.session))
	switch {
	case err != nil:
		return fmt.Errorf("delivering %q to the render process: %w", env.msg.Name(), err)
	case exc != nil:
		return fmt.Errorf("delivering %q to the render process: %s", env.msg.Name(), exc.Text)
	case res == nil || string(res.Value) != "true":
		return fmt.Errorf("delivering %q: render bridge not installed: %w", env.msg.Name(), ErrInvalidMessage)
	}

	return nil
}

package common

import (
	"testing"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBrowser struct {
	main *Frame
	sent []*ProcessMessage
}

func (b *stubBrowser) ID() target.ID     { return "stub" }
func (b *stubBrowser) MainFrame() *Frame { return b.main }

func (b *stubBrowser) SendProcessMessage(_ ProcessID, msg *ProcessMessage) error {
	b.sent = append(b.sent, msg)
	return nil
}

func TestMessageRouter(t *testing.T) {
	t.Parallel()

	main := NewFrame("main", "", "https://example.com/")
	child := NewFrame("child", "main", "https://ads.example.com/")
	b := &stubBrowser{main: main}

	r := NewMessageRouter()
	var handledIn []*ScriptContext
	r.Handle("ping", func(_ BrowserHandle, sc *ScriptContext, source ProcessID, msg *ProcessMessage) bool {
		assert.Equal(t, ProcessBrowser, source)
		handledIn = append(handledIn, sc)
		return true
	})

	msg := NewProcessMessage("ping")

	// No script context yet.
	assert.False(t, r.OnProcessMessageReceived(b, ProcessBrowser, msg))

	isolated := &ScriptContext{ID: 1, FrameID: "main"}
	childCtx := &ScriptContext{ID: 2, FrameID: "child", IsDefault: true}
	r.OnContextCreated(b, main, isolated)
	r.OnContextCreated(b, child, childCtx)
	assert.False(t, r.OnProcessMessageReceived(b, ProcessBrowser, msg), "only default contexts of the main frame route")

	first := &ScriptContext{ID: 3, FrameID: "main", IsDefault: true}
	second := &ScriptContext{ID: 5, FrameID: "main", IsDefault: true}
	r.OnContextCreated(b, main, first)
	r.OnContextCreated(b, nil, second)
	assert.Equal(t, 4, r.Contexts())

	require.True(t, r.OnProcessMessageReceived(b, ProcessBrowser, msg))
	require.Len(t, handledIn, 1)
	assert.Same(t, second, handledIn[0], "newest default context wins")

	r.OnContextReleased(b, main, second)
	require.True(t, r.OnProcessMessageReceived(b, ProcessBrowser, msg))
	assert.Same(t, first, handledIn[1])

	assert.False(t, r.OnProcessMessageReceived(b, ProcessBrowser, NewProcessMessage("unknown")))
	assert.False(t, r.OnProcessMessageReceived(b, ProcessBrowser, NewProcessMessage("")))

	r.Remove("ping")
	assert.False(t, r.OnProcessMessageReceived(b, ProcessBrowser, msg))

	r.OnContextCreated(b, nil, nil)
	r.OnContextReleased(b, nil, nil)
	assert.Equal(t, 3, r.Contexts())
	assert.Empty(t, b.sent)
}

func TestMessageRouterWithoutMainFrame(t *testing.T) {
	t.Parallel()

	r := NewMessageRouter()
	r.Handle("ping", func(BrowserHandle, *ScriptContext, ProcessID, *ProcessMessage) bool { return true })
	r.OnContextCreated(nil, nil, &ScriptContext{ID: 1, FrameID: cdp.FrameID("any"), IsDefault: true})

	assert.True(t, r.OnProcessMessageReceived(&stubBrowser{}, ProcessRenderer, NewProcessMessage("ping")))
	assert.True(t, r.OnProcessMessageReceived(nil, ProcessRenderer, NewProcessMessage("ping")))
}

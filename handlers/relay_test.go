package handlers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/testrender/common"
	"github.com/liuxd6825/testrender/log"
)

func TestRelayHandler(t *testing.T) {
	t.Parallel()

	t.Run("relays_unhandled", func(t *testing.T) {
		t.Parallel()

		var out syncBuffer
		h := NewRelayHandler(&out, false, nil, log.NewNullLogger())
		b := newStubBrowser("about:blank")

		assert.False(t, h.OnProcessMessageReceived(b, common.ProcessBrowser, common.NewProcessMessage("ping")))

		sent := b.messages()
		require.Len(t, sent, 2)
		assert.Equal(t, common.ProcessRenderer, sent[0].target)
		assert.Equal(t, RelayToRenderer, sent[0].msg.Name())
		assert.Equal(t, common.ProcessBrowser, sent[1].target)
		assert.Equal(t, RelayToBrowser, sent[1].msg.Name())
		assert.Equal(t,
			"Sending myMessage2 to renderer process = true\nSending myMessage3 to browser process = true\n",
			out.String())
	})
	t.Run("sentinels", func(t *testing.T) {
		t.Parallel()

		var out syncBuffer
		h := NewRelayHandler(&out, false, nil, log.NewNullLogger())
		b := newStubBrowser("about:blank")

		for _, name := range []string{RelayToRenderer, RelayToBrowser} {
			assert.True(t, h.OnProcessMessageReceived(b, common.ProcessRenderer, common.NewProcessMessage(name)), name)
		}
		assert.Empty(t, b.messages())
		assert.Empty(t, out.String())
	})
	t.Run("send_results", func(t *testing.T) {
		t.Parallel()

		var out syncBuffer
		h := NewRelayHandler(&out, false, nil, log.NewNullLogger())
		b := newStubBrowser("about:blank")
		b.fail = map[common.ProcessID]bool{common.ProcessRenderer: true}

		h.OnProcessMessageReceived(b, common.ProcessBrowser, common.NewProcessMessage("ping"))
		assert.Equal(t,
			"Sending myMessage2 to renderer process = false\nSending myMessage3 to browser process = true\n",
			out.String())
	})
	t.Run("router_first", func(t *testing.T) {
		t.Parallel()

		var out syncBuffer
		router := common.NewMessageRouter()
		h := NewRelayHandler(&out, false, router, log.NewNullLogger())
		require.Same(t, router, h.Router())
		b := newStubBrowser("about:blank")

		var routed int
		router.Handle("query", func(common.BrowserHandle, *common.ScriptContext, common.ProcessID, *common.ProcessMessage) bool {
			routed++
			return true
		})
		sc := &common.ScriptContext{ID: 1, FrameID: "main", IsDefault: true}
		h.OnContextCreated(b, b.main, sc)

		assert.True(t, h.OnProcessMessageReceived(b, common.ProcessBrowser, common.NewProcessMessage("query")))
		assert.Equal(t, 1, routed)
		assert.Empty(t, b.messages())

		h.OnContextReleased(b, b.main, sc)
		assert.Equal(t, 0, router.Contexts())
		assert.False(t, h.OnProcessMessageReceived(b, common.ProcessBrowser, common.NewProcessMessage("query")))
		assert.Equal(t, 1, routed)
		assert.Len(t, b.messages(), 2)
	})
	t.Run("dump", func(t *testing.T) {
		t.Parallel()

		var out syncBuffer
		h := NewRelayHandler(&out, true, nil, log.NewNullLogger())
		b := newStubBrowser("about:blank")

		msg := common.NewProcessMessage(RelayToRenderer,
			common.NullValue(),
			common.StringValue("hi"),
			common.IntValue(-7),
			common.DoubleValue(2.5),
			common.BoolValue(true),
		)
		h.OnProcessMessageReceived(b, common.ProcessRenderer, msg)

		assert.Equal(t, "Render::OnProcessMessageReceived: SourceProcess=Renderer\n"+
			"Message Name=myMessage2 IsValid=true IsReadOnly=false\n"+
			"  [0] (Null) = \n"+
			"  [1] (String) = hi\n"+
			"  [2] (Int) = -7\n"+
			"  [3] (Double) = 2.5\n"+
			"  [4] (Bool) = true\n", out.String())
	})
}

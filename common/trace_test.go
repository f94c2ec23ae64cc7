package common

import (
	"context"
	"image/color"
	"testing"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/page"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/liuxd6825/testrender/log"
)

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestViewTracing(t *testing.T) {
	t.Parallel()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	ctx, cancel := context.WithCancel(WithTracer(context.Background(), tp.Tracer("test")))
	defer cancel()

	rr := &paintRecorder{rect: Rect{Width: 2, Height: 2}, paints: make(chan *PaintEvent, 1)}
	s := newFakeSession(ctx)
	v := NewView(ctx, s, ViewOptions{Client: &testClient{render: rr}}, log.NewNullLogger())
	require.NoError(t, v.Init())
	defer func() { _ = v.Close(context.Background()) }()

	require.NoError(t, v.Navigate(ctx, "https://example.com/"))
	s.reply(cdproto.CommandPageNavigate, `{"errorText":"net::ERR_ABORTED"}`)
	require.Error(t, v.Navigate(ctx, "https://example.com/abort"))

	s.emit(cdproto.EventPageScreencastFrame, &page.EventScreencastFrame{
		Data:      encodePNG(t, 2, 2, color.White),
		SessionID: 1,
	})
	recv(t, rr.paints)

	require.Eventually(t, func() bool { return len(sr.Ended()) == 3 }, defaultWait, tick)
	spans := sr.Ended()

	assert.Equal(t, "view.navigate", spans[0].Name())
	url, ok := spanAttr(spans[0], "navigate.url")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/", url.AsString())
	tid, ok := spanAttr(spans[0], "target.id")
	require.True(t, ok)
	assert.Equal(t, "fake-target", tid.AsString())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	assert.Equal(t, "view.navigate", spans[1].Name())
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Contains(t, spans[1].Status().Description, "net::ERR_ABORTED")

	assert.Equal(t, "view.paint", spans[2].Name())
	w, ok := spanAttr(spans[2], "paint.width")
	require.True(t, ok)
	assert.Equal(t, int64(2), w.AsInt64())
}

package common

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventEmitterSpecificEvent(t *testing.T) {
	t.Parallel()

	t.Run("add event handler", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		eventName := "AtomicIsolationIsTheBest"
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event)

		emitter.on(ctx, []string{eventName}, ch)
		emitter.sync(func() {
			require.Len(t, emitter.handlers, 1)
			require.Contains(t, emitter.handlers, eventName)
			require.Len(t, emitter.handlers[eventName], 1)
			require.Equal(t, ch, emitter.handlers[eventName][0].ch)
		})
	})

	t.Run("remove event handler", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		cancelCtx, cancel := context.WithCancel(ctx)
		eventName := "AtomicIsolationIsTheBest"
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event)

		emitter.on(cancelCtx, []string{eventName}, ch)
		cancel()
		emitter.emit(eventName, nil) // Event handlers are removed as part of event emission

		emitter.sync(func() {
			require.Contains(t, emitter.handlers, eventName)
			require.Len(t, emitter.handlers[eventName], 0)
		})
	})

	t.Run("emit event", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		eventName := "AtomicIsolationIsTheBest"
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event, 1)

		emitter.on(ctx, []string{eventName}, ch)
		emitter.emit(eventName, "hello world")
		msg := <-ch

		emitter.sync(func() {
			require.Equal(t, eventName, msg.typ)
			require.Equal(t, "hello world", msg.data)
		})
	})
}

func TestEventEmitterAllEvents(t *testing.T) {
	t.Parallel()

	t.Run("add catch-all event handler", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event)

		emitter.onAll(ctx, ch)

		emitter.sync(func() {
			require.Len(t, emitter.handlersAll, 1)
			require.Equal(t, ch, emitter.handlersAll[0].ch)
		})
	})

	t.Run("emit event", func(t *testing.T) {
		t.Parallel()

		ctx := context.Background()
		emitter := NewBaseEventEmitter(ctx)
		ch := make(chan Event, 1)

		emitter.onAll(ctx, ch)
		emitter.emit("AtomicIsolationIsTheBest", "hello world")
		msg := <-ch

		emitter.sync(func() {
			require.Equal(t, "AtomicIsolationIsTheBest", msg.typ)
			require.Equal(t, "hello world", msg.data)
		})
	})
}

func TestEventEmitterOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	emitter := NewBaseEventEmitter(ctx)
	ch := make(chan Event)
	emitter.on(ctx, []string{"a", "b"}, ch)

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			typ := "a"
			if i%2 == 1 {
				typ = "b"
			}
			emitter.emit(typ, i)
		}
	}()

	for i := 0; i < n; i++ {
		ev := <-ch
		assert.Equal(t, i, ev.data)
	}
}

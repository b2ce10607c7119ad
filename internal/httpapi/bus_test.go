package httpapi

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventBus_PublishAndUnsubscribe(t *testing.T) {
	b := newEventBus()
	ch := b.Subscribe()
	assert.Equal(t, 1, b.Len())

	b.Publish("prompts", OpDelete, "p1")
	ev := <-ch
	assert.Equal(t, "prompts", ev.Table)
	assert.Equal(t, OpDelete, ev.Op)

	b.Unsubscribe(ch)
	assert.Equal(t, 0, b.Len())
	_, ok := <-ch
	assert.False(t, ok)
}

func TestEventBus_CloseEndsSubscribers(t *testing.T) {
	b := newEventBus()
	ch := b.Subscribe()

	b.Close()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Len())

	// Handlers still unsubscribe on their way out.
	assert.NotPanics(t, func() { b.Unsubscribe(ch) })

	late := b.Subscribe()
	_, ok = <-late
	assert.False(t, ok)
	assert.NotPanics(t, func() { b.Publish("prompts", OpUpsert, "x") })
}

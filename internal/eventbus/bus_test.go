// Copyright 2025 James Ross
package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestPublishInvokesSubscribers(t *testing.T) {
	b := New(zap.NewNop())
	var got Event
	b.Subscribe("job.completed", func(e Event) { got = e })
	b.Publish(Event{Name: "job.completed", Data: "abc"})
	assert.Equal(t, "job.completed", got.Name)
	assert.Equal(t, "abc", got.Data)
}

func TestPublishIgnoresOtherNames(t *testing.T) {
	b := New(zap.NewNop())
	called := false
	b.Subscribe("job.completed", func(e Event) { called = true })
	b.Publish(Event{Name: "job.failed"})
	assert.False(t, called)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := New(zap.NewNop())
	calls := 0
	unsub := b.Subscribe("tick", func(e Event) { calls++ })
	b.Publish(Event{Name: "tick"})
	unsub()
	b.Publish(Event{Name: "tick"})
	assert.Equal(t, 1, calls)
}

func TestPublishRecoversFromPanickingHandler(t *testing.T) {
	b := New(zap.NewNop())
	second := false
	b.Subscribe("x", func(e Event) { panic("boom") })
	b.Subscribe("x", func(e Event) { second = true })
	assert.NotPanics(t, func() { b.Publish(Event{Name: "x"}) })
	assert.True(t, second)
}

func TestMultipleSubscribersAllRun(t *testing.T) {
	b := New(zap.NewNop())
	count := 0
	b.Subscribe("multi", func(e Event) { count++ })
	b.Subscribe("multi", func(e Event) { count++ })
	b.Subscribe("multi", func(e Event) { count++ })
	b.Publish(Event{Name: "multi"})
	assert.Equal(t, 3, count)
}

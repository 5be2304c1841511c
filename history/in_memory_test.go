package history

import (
	"testing"

	"github.com/hupe1980/callmesh/core"
	"github.com/stretchr/testify/assert"
)

// Interface compliance (compile-time assertion)
var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStore_RecordLifecycle(t *testing.T) {
	s := NewInMemoryStore()

	calls := []core.Call{{ID: "call1", Prompt: "ping"}}
	id, err := s.Begin("call1: ping", calls)
	assert.NoError(t, err)
	assert.NotEmpty(t, id)

	rec, err := s.Get(id)
	assert.NoError(t, err)
	assert.Equal(t, "call1: ping", rec.Input)
	assert.Equal(t, calls, rec.Calls)
	assert.False(t, rec.Completed())

	ev := core.NewAttributedEvent(core.NewContentEvent("pong"), calls[0])
	assert.NoError(t, s.Append(id, ev))
	assert.NoError(t, s.Complete(id))

	rec, err = s.Get(id)
	assert.NoError(t, err)
	assert.Len(t, rec.Events, 1)
	assert.Equal(t, "pong", rec.Events[0].Text)
	assert.True(t, rec.Completed())
}

func TestInMemoryStore_NotFound(t *testing.T) {
	s := NewInMemoryStore()

	_, err := s.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Append("missing", core.AttributedEvent{}), ErrNotFound)
	assert.ErrorIs(t, s.Complete("missing"), ErrNotFound)
}

func TestInMemoryStore_GetReturnsClone(t *testing.T) {
	s := NewInMemoryStore()
	id, _ := s.Begin("input", nil)
	_ = s.Append(id, core.NewAttributedEvent(core.NewContentEvent("a"), core.Call{ID: "call1"}))

	rec, _ := s.Get(id)
	rec.Events[0].Text = "mutated"
	rec.Input = "mutated"

	again, _ := s.Get(id)
	assert.Equal(t, "a", again.Events[0].Text)
	assert.Equal(t, "input", again.Input)
}

func TestInMemoryStore_ListInBeginOrder(t *testing.T) {
	s := NewInMemoryStore()
	first, _ := s.Begin("one", nil)
	second, _ := s.Begin("two", nil)

	ids, err := s.List()
	assert.NoError(t, err)
	assert.Equal(t, []string{first, second}, ids)
}

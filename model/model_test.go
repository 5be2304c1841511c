package model

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hupe1980/callmesh/core"
	"github.com/hupe1980/callmesh/internal/testutil"
	"github.com/stretchr/testify/assert"
)

func drain(t *testing.T, m *MockStreamer, prompt string) ([]core.StreamEvent, error) {
	t.Helper()
	events, errCh := m.Stream(context.Background(), Request{Prompt: prompt})
	collected := testutil.Collect(t, events, time.Second)
	return collected, <-errCh
}

func TestMockStreamer_DefaultEcho(t *testing.T) {
	m := NewMockStreamer()

	events, err := drain(t, m, "anything")
	assert.NoError(t, err)
	assert.Len(t, events, 2)
	assert.Equal(t, "Mock response to: anything", events[0].Text)
	assert.Equal(t, core.EventFinished, events[1].Kind)
}

func TestMockStreamer_ScriptedResponse(t *testing.T) {
	m := NewMockStreamer()
	m.AddResponse("ping", core.NewContentEvent("po"), core.NewContentEvent("ng"))

	events, err := drain(t, m, "ping")
	assert.NoError(t, err)
	// A finished event is appended to non-terminal scripts.
	assert.Len(t, events, 3)
	assert.Equal(t, core.EventFinished, events[2].Kind)
}

func TestMockStreamer_FailuresThenSuccess(t *testing.T) {
	m := NewMockStreamer()
	m.AddResponse("ping", core.NewContentEvent("pong"))
	m.AddFailure("ping", errors.New("rate limit"), 2)

	for i := 0; i < 2; i++ {
		events, err := drain(t, m, "ping")
		assert.EqualError(t, err, "rate limit")
		assert.Empty(t, events)
	}

	events, err := drain(t, m, "ping")
	assert.NoError(t, err)
	assert.Equal(t, "pong", events[0].Text)
}

func TestMockStreamer_DelayRespectsCancellation(t *testing.T) {
	m := NewMockStreamer()
	m.AddResponse("slow", core.NewContentEvent("late"))
	m.AddDelay("slow", time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	events, errCh := m.Stream(ctx, Request{Prompt: "slow"})
	cancel()

	assert.ErrorIs(t, <-errCh, context.Canceled)
	_, open := <-events
	assert.False(t, open)
}

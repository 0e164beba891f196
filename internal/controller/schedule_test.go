package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedule_RunsSyncUntilCancelled(t *testing.T) {
	p := &fakeProvider{payloads: []string{scenarioA}}
	c := New(p)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Schedule(ctx, 10*time.Millisecond) }()

	require.Eventually(t, func() bool {
		return c.State().Phase == PhaseReady
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	calls := p.callLog()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, "sync", calls[0])
	assert.Equal(t, "get", calls[1])
}

func TestSchedule_DisabledReturnsImmediately(t *testing.T) {
	c := New(&fakeProvider{payloads: []string{scenarioA}})
	require.NoError(t, c.Schedule(context.Background(), 0))
	assert.Equal(t, PhaseIdle, c.State().Phase)
}

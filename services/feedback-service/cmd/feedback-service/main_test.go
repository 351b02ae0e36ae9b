package main

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartWorkersWaitsForInFlightWork(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var finished atomic.Int32
	slow := func(ctx context.Context) {
		<-ctx.Done()
		// Stands in for a claimed reminder still being recorded.
		time.Sleep(50 * time.Millisecond)
		finished.Add(1)
	}

	g := startWorkers(ctx, []func(context.Context){slow, slow, slow})
	cancel()
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 3, finished.Load())
}

func TestMustPanicsOnError(t *testing.T) {
	assert.Equal(t, 7, must(7, nil))
	assert.Panics(t, func() { must(0, assert.AnError) })
}

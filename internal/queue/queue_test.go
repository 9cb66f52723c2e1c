// Copyright (c) 2025, Lux Industries Inc
// SPDX-License-Identifier: BSD-3-Clause

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueueFIFO(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(8)
	defer q.Close()

	for i := range 3 {
		require.NoError(t, q.Push(ctx, &Job{ID: fmt.Sprintf("job-%d", i), Probe: []uint8{uint8(i)}}))
	}
	assert.Equal(t, 3, q.Len())

	for i := range 3 {
		job, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("job-%d", i), job.ID)
		assert.Equal(t, StatusPending, job.Status)
		assert.Equal(t, []uint8{uint8(i)}, job.Probe)
		assert.False(t, job.CreatedAt.IsZero())
	}
	assert.Zero(t, q.Len())
}

func TestMemoryQueueUpdateGet(t *testing.T) {
	ctx := context.Background()
	q := NewMemoryQueue(1)
	job := &Job{ID: "a", Probe: []uint8{1, 2}}
	require.NoError(t, q.Push(ctx, job))

	popped, err := q.Pop(ctx)
	require.NoError(t, err)
	popped.Status = StatusCompleted
	popped.Match = true
	popped.Probe[0] = 9
	require.NoError(t, q.Update(ctx, popped))

	got, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.True(t, got.Match)
	assert.Equal(t, []uint8{9, 2}, got.Probe)
	assert.False(t, got.UpdatedAt.Before(got.CreatedAt))

	// Stored jobs are copies.
	got.Probe[1] = 7
	again, err := q.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, uint8(2), again.Probe[1])

	_, err = q.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrJobNotFound)
	require.ErrorIs(t, q.Update(ctx, &Job{ID: "missing"}), ErrJobNotFound)
}

func TestMemoryQueuePopBlocks(t *testing.T) {
	q := NewMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	var wg sync.WaitGroup
	wg.Add(1)
	var popped *Job
	go func() {
		defer wg.Done()
		popped, err = q.Pop(context.Background())
	}()
	require.NoError(t, q.Push(context.Background(), &Job{ID: "late"}))
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, "late", popped.ID)
}

func TestMemoryQueueClose(t *testing.T) {
	q := NewMemoryQueue(1)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err := q.Pop(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, q.Push(context.Background(), &Job{ID: "x"}), ErrClosed)
}

func TestJobStatusJSON(t *testing.T) {
	data, err := json.Marshal(Job{ID: "j", Status: StatusFailed})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"status":"failed"`)

	var job Job
	require.NoError(t, json.Unmarshal(data, &job))
	assert.Equal(t, StatusFailed, job.Status)

	require.Error(t, json.Unmarshal([]byte(`{"status":"lost"}`), &job))
	assert.Equal(t, "JobStatus(9)", JobStatus(9).String())
}

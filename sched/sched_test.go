package sched_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/sched"
)

func TestEnqueueRunsOnAWorker(t *testing.T) {
	s := sched.New(context.Background(), 2, nil)
	s.Start()

	var mu sync.Mutex
	var ran int
	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		err := s.EnqueueTaskpool(sched.Descriptor{Run: func() {
			mu.Lock()
			ran++
			mu.Unlock()
			wg.Done()
		}})
		require.NoError(t, err)
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("not all enqueued tasks ran")
	}
	require.Equal(t, 5, ran)
}

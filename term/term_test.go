package term_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ttg-go/ttg/term"
)

func TestFenceReturnsWhenIdle(t *testing.T) {
	d := term.New()
	d.PollInterval = time.Millisecond
	d.QuietFor = 2 * time.Millisecond
	d.Execute()

	done := make(chan struct{})
	go func() {
		d.Fence()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fence never returned on an idle detector")
	}
	require.True(t, d.Quiescent())
}

func TestFenceWaitsForPendingTask(t *testing.T) {
	d := term.New()
	d.PollInterval = time.Millisecond
	d.QuietFor = 2 * time.Millisecond
	d.TaskStarted()
	require.False(t, d.Quiescent())

	done := make(chan struct{})
	go func() {
		d.Fence()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("fence returned while a task was still pending")
	case <-time.After(20 * time.Millisecond):
	}
	d.TaskDone()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("fence never returned after the pending task completed")
	}
}

func TestFenceReentrant(t *testing.T) {
	d := term.New()
	d.PollInterval = time.Millisecond
	d.QuietFor = time.Millisecond
	d.Execute()
	d.Fence()
	d.Execute()
	d.Fence() // must not deadlock or panic on a second round
}

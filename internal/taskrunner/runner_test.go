package taskrunner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialRunnerPostTaskRunsOnRunnerGoroutine(t *testing.T) {
	r := NewSerialRunner()
	defer r.Stop()

	done := make(chan bool, 1)
	r.PostTask(func() {
		done <- r.IsOnTaskRunner()
	})
	select {
	case onRunner := <-done:
		assert.True(t, onRunner)
	case <-time.After(time.Second):
		t.Fatal("task did not run")
	}
}

func TestSerialRunnerIsOnTaskRunnerFalseFromOutside(t *testing.T) {
	r := NewSerialRunner()
	defer r.Stop()
	assert.False(t, r.IsOnTaskRunner())
}

func TestSerialRunnerDelayedCancel(t *testing.T) {
	r := NewSerialRunner()
	defer r.Stop()

	ran := make(chan struct{}, 1)
	c := r.PostTaskWithDelay(func() { ran <- struct{}{} }, 20*time.Millisecond)
	c.Cancel()

	select {
	case <-ran:
		t.Fatal("cancelled task ran")
	case <-time.After(60 * time.Millisecond):
	}
}

func TestSerialRunnerDelayedRuns(t *testing.T) {
	r := NewSerialRunner()
	defer r.Stop()

	ran := make(chan struct{}, 1)
	r.PostTaskWithDelay(func() { ran <- struct{}{} }, 10*time.Millisecond)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("delayed task never ran")
	}
	require.NotNil(t, r)
}

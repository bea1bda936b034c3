package taskrunner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeRunnerPostTaskRunsOnDrain(t *testing.T) {
	r := NewFakeRunner(time.Unix(0, 0))
	ran := false
	r.PostTask(func() { ran = true })
	assert.False(t, ran)
	r.Drain()
	assert.True(t, ran)
}

func TestFakeRunnerAdvanceFiresInOrder(t *testing.T) {
	r := NewFakeRunner(time.Unix(0, 0))
	var order []int
	r.PostTaskWithDelay(func() { order = append(order, 2) }, 2*time.Second)
	r.PostTaskWithDelay(func() { order = append(order, 1) }, 1*time.Second)
	r.Advance(3 * time.Second)
	assert.Equal(t, []int{1, 2}, order)
}

func TestFakeRunnerCancelPreventsRun(t *testing.T) {
	r := NewFakeRunner(time.Unix(0, 0))
	ran := false
	c := r.PostTaskWithDelay(func() { ran = true }, time.Second)
	c.Cancel()
	r.Advance(2 * time.Second)
	assert.False(t, ran)
}

func TestFakeRunnerDoesNotFireBeforeDeadline(t *testing.T) {
	r := NewFakeRunner(time.Unix(0, 0))
	ran := false
	r.PostTaskWithDelay(func() { ran = true }, 5*time.Second)
	r.Advance(4 * time.Second)
	assert.False(t, ran)
	r.Advance(time.Second)
	assert.True(t, ran)
}

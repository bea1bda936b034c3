// Package taskrunner provides the single-threaded, cooperative task runner
// that the querier and trackers post work through. Each public Querier
// method asserts it is running on the designated runner goroutine, the same
// way the original C++ engine asserts TaskRunner::IsRunningOnTaskRunner() at
// each public entry point; the trackers and the graph do not check which
// goroutine calls them. Correctness comes from the single-thread invariant,
// not from locking.
package taskrunner

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Cancelable is returned by PostTaskWithDelay and cancels the pending task
// if it has not already run.
type Cancelable interface {
	Cancel()
}

// TaskRunner posts work to be run later, serially, on a single goroutine.
type TaskRunner interface {
	// PostTask schedules fn to run on the runner goroutine as soon as it
	// is free.
	PostTask(fn func())
	// PostTaskWithDelay schedules fn to run after d has elapsed. The
	// returned Cancelable can be used to cancel it before it fires.
	PostTaskWithDelay(fn func(), d time.Duration) Cancelable
	// Now returns the runner's notion of the current time.
	Now() time.Time
	// IsOnTaskRunner reports whether the calling goroutine is the
	// runner's own goroutine.
	IsOnTaskRunner() bool
}

type cancelToken struct {
	cancelled atomic.Bool
}

func (c *cancelToken) Cancel() { c.cancelled.Store(true) }

// SerialRunner is the production TaskRunner: a single goroutine draining a
// channel of posted funcs, with delayed posts implemented on top of
// time.AfterFunc feeding back into the same channel so delayed work still
// runs serially with everything else.
type SerialRunner struct {
	tasks   chan func()
	goid    int64
	goidSet sync.Once
	done    chan struct{}
}

// NewSerialRunner starts the runner goroutine and returns a TaskRunner
// backed by it. Callers should arrange to call Stop when finished.
func NewSerialRunner() *SerialRunner {
	r := &SerialRunner{
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
	}
	started := make(chan struct{})
	go r.loop(started)
	<-started
	return r
}

func (r *SerialRunner) loop(started chan struct{}) {
	r.goidSet.Do(func() {
		r.goid = currentGoroutineID()
		close(started)
	})
	for {
		select {
		case fn := <-r.tasks:
			fn()
		case <-r.done:
			return
		}
	}
}

// Stop shuts the runner goroutine down. Pending posted tasks are dropped.
func (r *SerialRunner) Stop() { close(r.done) }

func (r *SerialRunner) PostTask(fn func()) {
	r.tasks <- fn
}

func (r *SerialRunner) PostTaskWithDelay(fn func(), d time.Duration) Cancelable {
	tok := &cancelToken{}
	time.AfterFunc(d, func() {
		if tok.cancelled.Load() {
			return
		}
		r.PostTask(func() {
			if tok.cancelled.Load() {
				return
			}
			fn()
		})
	})
	return tok
}

func (r *SerialRunner) Now() time.Time { return time.Now() }

func (r *SerialRunner) IsOnTaskRunner() bool {
	return currentGoroutineID() == r.goid
}

// currentGoroutineID parses runtime.Stack's leading "goroutine NNN [...]"
// line. It is a debugging/assertion aid only - never used for scheduling
// decisions - the same ad hoc technique the original engine's POSIX
// platform layer uses to confirm calls arrive on the designated I/O thread.
func currentGoroutineID() int64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	const prefix = "goroutine "
	b = bytes.TrimPrefix(b, []byte(prefix))
	idx := bytes.IndexByte(b, ' ')
	if idx < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(b[:idx]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}

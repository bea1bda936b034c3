package trackers

import (
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/folbricht/mdnsdisco/internal/contracts"
	"github.com/folbricht/mdnsdisco/internal/discoerr"
	"github.com/folbricht/mdnsdisco/internal/mrecord"
)

const (
	// initialSendDelayMin/Max bound the jittered delay before the very
	// first send (RFC 6762 §5.2).
	initialSendDelayMin = 20 * time.Millisecond
	initialSendDelayMax = 120 * time.Millisecond
	// backoffStart is the send_delay a question's re-send schedule starts
	// from after its first send, doubling on each subsequent send. A
	// second send must not fire sooner than roughly one second after the
	// first.
	backoffStart     = 1 * time.Second
	backoffJitterMax = 120 * time.Millisecond
	maxBackoff       = 60 * time.Minute
)

// callbackEntry pairs a subscriber callback with a comparable identity so
// duplicate (type,class,callback) registrations can be detected - Go func
// values aren't comparable with ==, so identity is taken from the
// underlying code pointer via reflect, the same trick used anywhere a
// func needs to act as a de-duplicatable map key.
type callbackEntry struct {
	fn  func(record mrecord.MdnsRecord, event contracts.RecordEvent)
	ptr uintptr
}

func callbackPointer(fn func(record mrecord.MdnsRecord, event contracts.RecordEvent)) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

// QuestionTracker owns re-query backoff for one outstanding question and
// the bookkeeping of which subscriber callbacks are currently registered
// against it. The querier remains the canonical owner of callback fan-out
// (see mdns_querier.cc's callbacks_ multimap); these methods mirror that
// bookkeeping so a QuestionTracker can answer HasCallbacks on its own.
type QuestionTracker struct {
	Handle uuid.UUID

	question  mrecord.MdnsQuestion
	sendQuery func(mrecord.MdnsQuestion)
	random    RandomDelay

	callbacks []callbackEntry
	backoff   time.Duration
	started   bool
}

// NewQuestionTracker builds a QuestionTracker for question. sendQuery is
// invoked by Send; the tracker schedules nothing itself - the caller arms
// its own alarms from InitialSendDelay and NextSendDelay.
func NewQuestionTracker(question mrecord.MdnsQuestion, sendQuery func(mrecord.MdnsQuestion), random RandomDelay) *QuestionTracker {
	return &QuestionTracker{
		Handle:    uuid.New(),
		question:  question,
		sendQuery: sendQuery,
		random:    random,
	}
}

// Question returns the tracked question.
func (t *QuestionTracker) Question() mrecord.MdnsQuestion { return t.question }

// IsStarted reports whether the question is actively being re-sent.
func (t *QuestionTracker) IsStarted() bool { return t.started }

// Start marks the question as being sent and resets its backoff: the
// caller's first send follows an initial jittered delay in [20ms, 120ms)
// (see InitialSendDelay), then subsequent re-sends follow a send_delay
// starting at 1 second and doubling on each send up to a 60 minute ceiling
// (see NextSendDelay).
func (t *QuestionTracker) Start() error {
	if t.started {
		return discoerr.New(discoerr.OperationInvalid, "QuestionTracker.Start", "already started")
	}
	t.started = true
	t.backoff = backoffStart
	return nil
}

// Stop halts re-sends of this question.
func (t *QuestionTracker) Stop() {
	t.started = false
}

// AddCallback registers fn to be notified of record changes for this
// question. A (type,class,callback) triple already registered is a no-op,
// matching the querier's own dedup rule on StartQuery.
func (t *QuestionTracker) AddCallback(fn func(record mrecord.MdnsRecord, event contracts.RecordEvent)) {
	p := callbackPointer(fn)
	for _, c := range t.callbacks {
		if c.ptr == p {
			return
		}
	}
	t.callbacks = append(t.callbacks, callbackEntry{fn: fn, ptr: p})
}

// RemoveCallback unregisters fn, if it was registered.
func (t *QuestionTracker) RemoveCallback(fn func(record mrecord.MdnsRecord, event contracts.RecordEvent)) {
	p := callbackPointer(fn)
	for i, c := range t.callbacks {
		if c.ptr == p {
			t.callbacks = append(t.callbacks[:i], t.callbacks[i+1:]...)
			return
		}
	}
}

// HasCallbacks reports whether any subscriber is still registered.
func (t *QuestionTracker) HasCallbacks() bool { return len(t.callbacks) > 0 }

// NextSendDelay returns the jittered delay before the next re-send and
// advances the backoff for the send after that.
func (t *QuestionTracker) NextSendDelay() time.Duration {
	delay := t.backoff
	if t.random != nil {
		delay = t.random(delay, delay+backoffJitterMax)
	}
	t.backoff *= 2
	if t.backoff > maxBackoff {
		t.backoff = maxBackoff
	}
	return delay
}

// InitialSendDelay returns the jittered delay before the first send.
func (t *QuestionTracker) InitialSendDelay() time.Duration {
	if t.random != nil {
		return t.random(initialSendDelayMin, initialSendDelayMax)
	}
	return initialSendDelayMin
}

// Send invokes sendQuery with the tracked question, for callers driving
// the schedule via their own TaskRunner alarms.
func (t *QuestionTracker) Send() {
	if t.sendQuery != nil {
		t.sendQuery(t.question)
	}
}

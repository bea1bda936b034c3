// Package trackers implements the per-record and per-question state
// machines that the querier drives: RecordTracker schedules TTL-fraction
// refresh queries and expiry for one cached record, QuestionTracker owns
// the re-query backoff and subscriber-callback bookkeeping for a single
// outstanding question. A QuestionTracker holds no record trackers; the
// querier keeps every RecordTracker itself.
package trackers

import (
	"time"

	"github.com/google/uuid"

	"github.com/folbricht/mdnsdisco/internal/discoerr"
	"github.com/folbricht/mdnsdisco/internal/mrecord"
	"github.com/folbricht/mdnsdisco/internal/taskrunner"
)

// ttlFractions are the points in a record's lifetime, expressed as a
// fraction of its TTL, at which the tracker attempts a refresh query
// before falling through to expiry at 100%. Grounded on
// cast/common/mdns/mdns_trackers.cc's kTtlFraction table.
var ttlFractions = []float64{0.80, 0.85, 0.90, 0.95, 1.0}

// RandomDelay returns a jittered duration in [min, max), used both for the
// small jitter added to each refresh fraction and for question backoff.
type RandomDelay func(min, max time.Duration) time.Duration

// UpdateResult reports what kind of change Update applied, so the caller
// knows whether a subscriber callback is owed.
type UpdateResult int

const (
	// RdataChanged means the record's rdata differs from what was
	// tracked; the caller owes a Created, Updated or Expired callback,
	// depending on whether the old and new records are positive or NSEC.
	RdataChanged UpdateResult = iota
	// TTLOnly means the incoming record matched existing rdata exactly;
	// only the expiry schedule changed, no callback is owed.
	TTLOnly
	// Goodbye means the incoming record announced TTL=0; the tracker now
	// expires in one second and no callback is owed yet - the Expired
	// callback fires when that second elapses.
	Goodbye
)

// RecordTracker owns the refresh/expiry schedule for one cached record. It
// is not safe for concurrent use - all methods must run on the owning
// TaskRunner's goroutine.
type RecordTracker struct {
	Handle uuid.UUID

	runner      taskrunner.TaskRunner
	random      RandomDelay
	sendRefresh func(record mrecord.MdnsRecord)
	onExpired   func(record mrecord.MdnsRecord)

	record    mrecord.MdnsRecord
	startTime time.Time
	ttl       time.Duration
	fraction  int
	alarm     taskrunner.Cancelable
	started   bool
}

// NewRecordTracker builds a RecordTracker. sendRefresh is invoked at each
// non-terminal TTL fraction so the caller can re-query for the record;
// onExpired is invoked once, when the record's tracked lifetime ends.
func NewRecordTracker(runner taskrunner.TaskRunner, random RandomDelay, sendRefresh func(mrecord.MdnsRecord), onExpired func(mrecord.MdnsRecord)) *RecordTracker {
	return &RecordTracker{
		Handle:      uuid.New(),
		runner:      runner,
		random:      random,
		sendRefresh: sendRefresh,
		onExpired:   onExpired,
	}
}

// IsStarted reports whether the tracker currently owns a record.
func (t *RecordTracker) IsStarted() bool { return t.started }

// Record returns the currently tracked record. Only valid while IsStarted.
func (t *RecordTracker) Record() mrecord.MdnsRecord { return t.record }

// IsNegativeResponse reports whether the tracked record is an NSEC
// placeholder rather than a positive record.
func (t *RecordTracker) IsNegativeResponse() bool {
	return t.started && t.record.IsNSEC()
}

// Start begins tracking record, scheduling its first refresh fraction.
func (t *RecordTracker) Start(record mrecord.MdnsRecord) error {
	if t.started {
		return discoerr.New(discoerr.OperationInvalid, "RecordTracker.Start", "already started")
	}
	t.record = record
	t.startTime = t.runner.Now()
	t.ttl = time.Duration(record.TTL()) * time.Second
	t.fraction = 0
	t.started = true
	t.scheduleNext()
	return nil
}

// Stop cancels the tracker's alarm and releases the tracked record.
func (t *RecordTracker) Stop() {
	if !t.started {
		return
	}
	if t.alarm != nil {
		t.alarm.Cancel()
		t.alarm = nil
	}
	t.started = false
}

// Update applies a freshly received record to this tracker. The key
// (name/type/class) of newRecord must match the tracked record's key.
func (t *RecordTracker) Update(newRecord mrecord.MdnsRecord) (UpdateResult, error) {
	if !t.started {
		return 0, discoerr.New(discoerr.OperationInvalid, "RecordTracker.Update", "not started")
	}
	if newRecord.Key() != t.record.Key() {
		return 0, discoerr.New(discoerr.ParameterInvalid, "RecordTracker.Update", "record key mismatch")
	}

	if newRecord.IsGoodbye() {
		// RFC 6762 §10.1: a goodbye record's receipt is treated as if
		// the record's TTL had been set to 1 second, so it lingers just
		// long enough to suppress a flurry of duplicate goodbyes before
		// expiring on its own.
		t.record = newRecord
		t.startTime = t.runner.Now()
		t.ttl = time.Second
		t.fraction = len(ttlFractions) - 1
		t.rescheduleAlarm(time.Second)
		return Goodbye, nil
	}

	if mrecord.SameRdata(t.record, newRecord) {
		t.record = newRecord
		t.startTime = t.runner.Now()
		t.ttl = time.Duration(newRecord.TTL()) * time.Second
		t.fraction = 0
		t.scheduleNext()
		return TTLOnly, nil
	}

	t.record = newRecord
	t.startTime = t.runner.Now()
	t.ttl = time.Duration(newRecord.TTL()) * time.Second
	t.fraction = 0
	t.scheduleNext()
	return RdataChanged, nil
}

// ExpireSoon forces the tracker toward imminent expiry using its current
// TTL and start time, without altering the tracked record's rdata. Used
// when a newer, different-rdata record arrives for the same unique key and
// this tracker's copy is the stale loser.
func (t *RecordTracker) ExpireSoon() {
	if !t.started {
		return
	}
	if t.alarm != nil {
		t.alarm.Cancel()
	}
	t.fraction = len(ttlFractions) - 1
	delay := time.Second
	if remaining := t.remainingTTL(); remaining < delay {
		delay = remaining
	}
	if delay < 0 {
		delay = 0
	}
	t.rescheduleAlarm(delay)
}

func (t *RecordTracker) remainingTTL() time.Duration {
	elapsed := t.runner.Now().Sub(t.startTime)
	return t.ttl - elapsed
}

// RemainingTTL reports how much of the tracked record's TTL is left, as of
// the runner's current time. Used to rank NSEC trackers by time-to-live
// when the cache needs to evict.
func (t *RecordTracker) RemainingTTL() time.Duration {
	return t.remainingTTL()
}

// scheduleNext arms the alarm for the next TTL fraction after t.fraction,
// applying a small jitter the way the original engine randomizes refresh
// timing to avoid synchronized re-query storms.
func (t *RecordTracker) scheduleNext() {
	delay := t.nextFractionDelay()
	t.rescheduleAlarm(delay)
}

func (t *RecordTracker) nextFractionDelay() time.Duration {
	target := time.Duration(float64(t.ttl) * ttlFractions[t.fraction])
	// The terminal fraction is the record's hard expiry at start_time+ttl;
	// jittering it could push the Expired callback past that deadline, so
	// only the refresh fractions before it get randomized.
	if t.fraction != len(ttlFractions)-1 {
		jitterMax := t.ttl / 50 // up to ~2% of the TTL
		if jitterMax > 0 && t.random != nil {
			target += t.random(0, jitterMax)
		}
	}
	elapsed := t.runner.Now().Sub(t.startTime)
	delay := target - elapsed
	if delay < 0 {
		delay = 0
	}
	return delay
}

func (t *RecordTracker) rescheduleAlarm(delay time.Duration) {
	if t.alarm != nil {
		t.alarm.Cancel()
	}
	t.alarm = t.runner.PostTaskWithDelay(t.onAlarm, delay)
}

func (t *RecordTracker) onAlarm() {
	if !t.started {
		return
	}
	if t.fraction >= len(ttlFractions)-1 {
		record := t.record
		t.Stop()
		if t.onExpired != nil {
			t.onExpired(record)
		}
		return
	}
	t.fraction++
	if t.sendRefresh != nil {
		t.sendRefresh(t.record)
	}
	t.scheduleNext()
}

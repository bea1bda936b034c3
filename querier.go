package mdns

import (
	"expvar"
	"reflect"
	"time"

	"github.com/miekg/dns"

	"github.com/folbricht/mdnsdisco/internal/contracts"
	"github.com/folbricht/mdnsdisco/internal/discoerr"
	"github.com/folbricht/mdnsdisco/internal/mrecord"
	"github.com/folbricht/mdnsdisco/internal/taskrunner"
	"github.com/folbricht/mdnsdisco/internal/trackers"
)

// CallbackFunc is notified when a record matching a subscribed query
// appears, changes, or expires.
type CallbackFunc func(record mrecord.MdnsRecord, event contracts.RecordEvent)

func callbackPointer(fn CallbackFunc) uintptr {
	return reflect.ValueOf(fn).Pointer()
}

type callbackReg struct {
	dnsType  uint16
	dnsClass uint16
	fn       CallbackFunc
	ptr      uintptr
}

type recordEntry struct {
	dnsType  uint16
	dnsClass uint16
	tracker  *trackers.RecordTracker

	// lastReferenced orders entries by recency of reference - either a
	// subscriber's StartQuery matching it synchronously, or an incoming
	// record reinforcing it - without depending on the runner clock's
	// resolution (two references in the same tick must still order). Used
	// to rank positive records for eviction; higher is more recent.
	lastReferenced int64
}

// Querier tracks outstanding mDNS questions and the records received in
// answer to them, fanning out Created/Updated/Expired events to
// subscribers. All public methods must be called from the goroutine owning
// the supplied TaskRunner - there is no internal locking.
type Querier struct {
	sender    contracts.Sender
	runner    taskrunner.TaskRunner
	reporting contracts.ReportingClient
	config    Config
	random    trackers.RandomDelay

	callbacks      map[string][]*callbackReg
	questions      map[string][]*trackers.QuestionTracker
	records        map[string][]*recordEntry
	recordCount    int
	referenceClock int64
	evictedCounter func(delta int64)
	eventCounts    *expvar.Map
	lastError      *expvar.String
}

// NewQuerier builds a Querier. sender is used to emit re-query and refresh
// traffic; reporting receives recoverable errors encountered while
// reconciling received records against cached state.
func NewQuerier(sender contracts.Sender, runner taskrunner.TaskRunner, reporting contracts.ReportingClient, opts ...Option) *Querier {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	evictions := getVarInt(cfg.MetricsNamespace, "records", "evicted")
	return &Querier{
		sender:    sender,
		runner:    runner,
		reporting: reporting,
		config:    cfg,
		random:    defaultRandomDelay,
		callbacks: make(map[string][]*callbackReg),
		questions: make(map[string][]*trackers.QuestionTracker),
		records:   make(map[string][]*recordEntry),
		evictedCounter: func(delta int64) {
			evictions.Add(delta)
		},
		eventCounts: getVarMap(cfg.MetricsNamespace, "records", "events"),
		lastError:   getVarString(cfg.MetricsNamespace, "errors", "last"),
	}
}

// nextReference returns a strictly increasing tick used to order
// recordEntry references for LRU eviction, independent of the runner
// clock's resolution.
func (q *Querier) nextReference() int64 {
	q.referenceClock++
	return q.referenceClock
}

func (q *Querier) assertOnRunner(op string) {
	if !q.runner.IsOnTaskRunner() {
		panic("mdns: " + op + " called off the owning TaskRunner goroutine")
	}
}

// StartQuery registers callback for (name, dnsType, dnsClass), sending the
// underlying question on the wire if one is not already outstanding.
// dnsType/dnsClass of dns.TypeANY/dns.ClassANY act as wildcards. A repeat
// registration of the exact same (name, dnsType, dnsClass, callback) tuple
// is a silent no-op. callback fires synchronously for any record already
// cached that matches.
func (q *Querier) StartQuery(name string, dnsType, dnsClass uint16, callback CallbackFunc) error {
	q.assertOnRunner("StartQuery")
	if callback == nil {
		return discoerr.New(discoerr.ParameterInvalid, "Querier.StartQuery", "callback is nil")
	}
	if dnsType == dns.TypeNSEC {
		return InvalidQueryTypeError{Name: name, Type: dnsType}
	}
	name = dns.Fqdn(name)
	ptr := callbackPointer(callback)

	for _, reg := range q.callbacks[name] {
		if reg.dnsType == dnsType && reg.dnsClass == dnsClass && reg.ptr == ptr {
			return nil
		}
	}
	q.callbacks[name] = append(q.callbacks[name], &callbackReg{dnsType: dnsType, dnsClass: dnsClass, fn: callback, ptr: ptr})

	for _, entry := range q.records[name] {
		if !typeClassMatch(dnsType, dnsClass, entry.dnsType, entry.dnsClass) {
			continue
		}
		entry.lastReferenced = q.nextReference()
		if entry.tracker.IsNegativeResponse() {
			continue
		}
		callback(entry.tracker.Record(), contracts.Created)
	}

	for _, qt := range q.questions[name] {
		question := qt.Question()
		if question.Type == dnsType && question.Class == dnsClass {
			return nil
		}
	}
	q.addQuestion(mrecord.MdnsQuestion{Name: name, Type: dnsType, Class: dnsClass, Response: mrecord.Multicast})
	return nil
}

// StopQuery unregisters callback from (name, dnsType, dnsClass). If no
// other subscriber remains for that exact (dnsType, dnsClass), the
// underlying question stops being re-sent. Cached records are left in
// place - eviction is governed solely by the soft cache cap and TTL
// expiry, never by subscriber count.
func (q *Querier) StopQuery(name string, dnsType, dnsClass uint16, callback CallbackFunc) error {
	q.assertOnRunner("StopQuery")
	name = dns.Fqdn(name)
	ptr := callbackPointer(callback)

	regs := q.callbacks[name]
	removed := false
	kept := regs[:0]
	for _, reg := range regs {
		if !removed && reg.dnsType == dnsType && reg.dnsClass == dnsClass && reg.ptr == ptr {
			removed = true
			continue
		}
		kept = append(kept, reg)
	}
	q.callbacks[name] = kept
	if !removed {
		return nil
	}

	for _, reg := range kept {
		if reg.dnsType == dnsType && reg.dnsClass == dnsClass {
			return nil
		}
	}

	qs := q.questions[name]
	for i, qt := range qs {
		question := qt.Question()
		if question.Type == dnsType && question.Class == dnsClass {
			qt.Stop()
			q.questions[name] = append(qs[:i:i], qs[i+1:]...)
			break
		}
	}
	return nil
}

// ReinitializeQueries drops every question, callback, and cached record for
// name, then re-issues fresh StartQuery calls for every callback that was
// registered - used when the local network configuration has changed
// enough that the prior cache state for this name can no longer be
// trusted.
func (q *Querier) ReinitializeQueries(name string) {
	q.assertOnRunner("ReinitializeQueries")
	name = dns.Fqdn(name)

	saved := make([]*callbackReg, len(q.callbacks[name]))
	copy(saved, q.callbacks[name])
	delete(q.callbacks, name)

	for _, qt := range q.questions[name] {
		qt.Stop()
	}
	delete(q.questions, name)

	for _, entry := range q.records[name] {
		entry.tracker.Stop()
		q.recordCount--
	}
	delete(q.records, name)

	for _, reg := range saved {
		_ = q.StartQuery(name, reg.dnsType, reg.dnsClass, reg.fn)
	}
}

// OnMessageReceived reconciles every answer and additional record in msg
// against outstanding questions and cached records. Additional records are
// accepted unconditionally once any answer in the same message was
// accepted; otherwise each is filtered individually under the same rule
// answers are.
func (q *Querier) OnMessageReceived(msg *dns.Msg) {
	q.assertOnRunner("OnMessageReceived")

	foundRelevant := false
	for _, rr := range msg.Answer {
		rec := mrecord.NewRecord(rr)
		if q.shouldProcess(rec) {
			q.processRecord(rec)
			foundRelevant = true
		}
	}
	for _, rr := range msg.Extra {
		rec := mrecord.NewRecord(rr)
		if foundRelevant || q.shouldProcess(rec) {
			q.processRecord(rec)
		}
	}
}

func typeClassMatch(queryType, queryClass, candidateType, candidateClass uint16) bool {
	typeOK := queryType == dns.TypeANY || queryType == candidateType
	classOK := queryClass == dns.ClassANY || queryClass == candidateClass
	return typeOK && classOK
}

func (q *Querier) shouldProcess(rec mrecord.MdnsRecord) bool {
	for _, qt := range q.questions[rec.Name()] {
		question := qt.Question()
		typeMatches := question.Type == dns.TypeANY || rec.IsNegativeResponseFor(question.Type) || question.Type == rec.Type()
		classMatches := question.Class == dns.ClassANY || question.Class == rec.Class()
		if typeMatches && classMatches {
			return true
		}
	}
	for _, entry := range q.records[rec.Name()] {
		if rec.IsNSEC() {
			if rec.IsNegativeResponseFor(entry.dnsType) && entry.dnsClass == rec.Class() {
				return true
			}
			continue
		}
		if entry.dnsType == rec.Type() && entry.dnsClass == rec.Class() {
			return true
		}
	}
	return false
}

func (q *Querier) processRecord(rec mrecord.MdnsRecord) {
	var types []uint16
	if rec.IsNSEC() {
		types = rec.NegativeTypesFor()
	} else {
		types = []uint16{rec.Type()}
	}

	for _, t := range types {
		if rec.Cardinality == mrecord.Shared {
			q.processSharedRecord(rec, t)
		} else {
			q.processUniqueRecord(rec, t)
		}
	}
}

func (q *Querier) processSharedRecord(rec mrecord.MdnsRecord, dnsType uint16) {
	if rec.IsNSEC() {
		// By design, NSEC records are never shared records.
		return
	}
	for _, entry := range q.records[rec.Name()] {
		if entry.dnsType != dnsType || entry.dnsClass != rec.Class() {
			continue
		}
		if !mrecord.SameRdata(entry.tracker.Record(), rec) {
			continue
		}
		entry.lastReferenced = q.nextReference()
		if _, err := entry.tracker.Update(rec); err != nil {
			q.reportError(discoerr.Wrap(discoerr.UpdateReceivedRecordFailure, "Querier.processSharedRecord", err))
		}
		return
	}
	q.addRecord(rec, dnsType)
	q.processCallbacks(rec, contracts.Created)
}

func (q *Querier) processUniqueRecord(rec mrecord.MdnsRecord, dnsType uint16) {
	var matches []*recordEntry
	for _, entry := range q.records[rec.Name()] {
		if entry.dnsType == dnsType && entry.dnsClass == rec.Class() {
			matches = append(matches, entry)
		}
	}

	switch len(matches) {
	case 0:
		willExist := !rec.IsNSEC()
		q.addRecord(rec, dnsType)
		if willExist {
			q.processCallbacks(rec, contracts.Created)
		}
	case 1:
		q.processSinglyTrackedUniqueRecord(rec, matches[0])
	default:
		q.processMultiTrackedUniqueRecord(rec, dnsType, matches)
	}
}

func (q *Querier) processSinglyTrackedUniqueRecord(rec mrecord.MdnsRecord, entry *recordEntry) {
	existedPreviously := !entry.tracker.IsNegativeResponse()
	willExist := !rec.IsNSEC()
	recordForCallback := rec
	if existedPreviously && !willExist {
		recordForCallback = entry.tracker.Record()
	}

	entry.lastReferenced = q.nextReference()
	result, err := entry.tracker.Update(rec)
	if err != nil {
		q.reportError(discoerr.Wrap(discoerr.UpdateReceivedRecordFailure, "Querier.processSinglyTrackedUniqueRecord", err))
		return
	}

	switch result {
	case trackers.Goodbye, trackers.TTLOnly:
		// Goodbye's Expired callback fires later, from the tracker's own
		// alarm; a TTL-only refresh needs no notification at all.
	case trackers.RdataChanged:
		switch {
		case existedPreviously && willExist:
			q.processCallbacks(rec, contracts.Updated)
		case existedPreviously:
			q.processCallbacks(recordForCallback, contracts.Expired)
		case willExist:
			q.processCallbacks(rec, contracts.Created)
		}
	}
}

func (q *Querier) processMultiTrackedUniqueRecord(rec mrecord.MdnsRecord, dnsType uint16, entries []*recordEntry) {
	isNew := true
	for _, entry := range entries {
		if mrecord.SameRdata(entry.tracker.Record(), rec) {
			isNew = false
			entry.lastReferenced = q.nextReference()
			if _, err := entry.tracker.Update(rec); err != nil {
				q.reportError(discoerr.Wrap(discoerr.UpdateReceivedRecordFailure, "Querier.processMultiTrackedUniqueRecord", err))
			}
			continue
		}
		entry.tracker.ExpireSoon()
	}
	if isNew {
		q.addRecord(rec, dnsType)
		if !rec.IsNSEC() {
			q.processCallbacks(rec, contracts.Created)
		}
	}
}

func (q *Querier) processCallbacks(rec mrecord.MdnsRecord, event contracts.RecordEvent) {
	q.eventCounts.Add(event.String(), 1)
	for _, reg := range q.callbacks[rec.Name()] {
		if typeClassMatch(reg.dnsType, reg.dnsClass, rec.Type(), rec.Class()) {
			reg.fn(rec, event)
		}
	}
}

func (q *Querier) reportError(err *discoerr.Error) {
	q.lastError.Set(err.Error())
	q.reporting.OnRecoverableError(err)
}

func (q *Querier) addRecord(rec mrecord.MdnsRecord, dnsType uint16) {
	name := rec.Name()
	tracker := trackers.NewRecordTracker(q.runner, q.random,
		func(current mrecord.MdnsRecord) { q.sendRefresh(name, dnsType, current.Class()) },
		func(expired mrecord.MdnsRecord) { q.handleExpired(name, expired) },
	)
	_ = tracker.Start(rec)

	entry := &recordEntry{dnsType: dnsType, dnsClass: rec.Class(), tracker: tracker, lastReferenced: q.nextReference()}
	q.records[name] = append(q.records[name], entry)
	q.recordCount++
	q.evictIfNeeded()
}

func (q *Querier) sendRefresh(name string, dnsType, dnsClass uint16) {
	if !q.config.EnableQuerying {
		return
	}
	question := mrecord.MdnsQuestion{Name: name, Type: dnsType, Class: dnsClass, Response: mrecord.Multicast}
	if err := q.sender.SendMulticast(buildQuery(question, q.knownAnswersFor(question)...)); err != nil {
		Log.WithField("question", name).Warn("mdns: refresh query send failed: ", err)
	}
}

// knownAnswersFor lists the positive records already cached for question
// that are not yet within half their TTL of expiry, capped at
// MaxKnownAnswerRecordsPerQuery, for inclusion in an outgoing query's
// answer section (RFC 6762 §7.1). Returns nil when known-answer
// suppression is disabled or nothing qualifies.
func (q *Querier) knownAnswersFor(question mrecord.MdnsQuestion) []dns.RR {
	if !q.config.KnownAnswerSuppression {
		return nil
	}
	limit := q.config.MaxKnownAnswerRecordsPerQuery
	var answers []dns.RR
	for _, entry := range q.records[question.Name] {
		if limit > 0 && len(answers) >= limit {
			break
		}
		if !typeClassMatch(question.Type, question.Class, entry.dnsType, entry.dnsClass) {
			continue
		}
		if entry.tracker.IsNegativeResponse() {
			continue
		}
		record := entry.tracker.Record()
		original := time.Duration(record.TTL()) * time.Second
		if original <= 0 {
			continue
		}
		if entry.tracker.RemainingTTL() <= original/2 {
			continue
		}
		rr := dns.Copy(record.RR)
		rr.Header().Ttl = uint32(entry.tracker.RemainingTTL().Seconds())
		answers = append(answers, rr)
	}
	return answers
}

func (q *Querier) handleExpired(name string, record mrecord.MdnsRecord) {
	entries := q.records[name]
	for i, entry := range entries {
		if entry.tracker.Record().Key() == record.Key() {
			q.records[name] = append(entries[:i:i], entries[i+1:]...)
			break
		}
	}
	q.recordCount--
	if !record.IsNSEC() {
		q.processCallbacks(record, contracts.Expired)
	}
}

// evictIfNeeded trims the cache back down to the soft cap, choosing
// victims by a three-tier priority: NSEC placeholders already past their
// TTL first (they're holding a slot but carry no information), then NSEC
// placeholders ordered by most remaining TTL (the ones that would
// otherwise sit in the cache the longest), and only once no NSEC entry
// remains, positive records ordered by least-recently-referenced.
func (q *Querier) evictIfNeeded() {
	maxCached := q.config.MaxRecordsCached
	if maxCached <= 0 {
		return
	}
	for q.recordCount > maxCached {
		name, entry, ok := q.selectEvictionVictim()
		if !ok {
			return
		}
		q.evictEntry(name, entry)
	}
}

func (q *Querier) selectEvictionVictim() (string, *recordEntry, bool) {
	var expiredName string
	var expired *recordEntry

	var longestName string
	var longest *recordEntry
	var longestRemaining time.Duration

	var lruName string
	var lru *recordEntry
	var oldest int64

	for name, entries := range q.records {
		for _, entry := range entries {
			if entry.tracker.IsNegativeResponse() {
				remaining := entry.tracker.RemainingTTL()
				if remaining <= 0 {
					if expired == nil {
						expiredName, expired = name, entry
					}
					continue
				}
				if longest == nil || remaining > longestRemaining {
					longestName, longest, longestRemaining = name, entry, remaining
				}
				continue
			}
			if lru == nil || entry.lastReferenced < oldest {
				lruName, lru, oldest = name, entry, entry.lastReferenced
			}
		}
	}

	switch {
	case expired != nil:
		return expiredName, expired, true
	case longest != nil:
		return longestName, longest, true
	case lru != nil:
		return lruName, lru, true
	default:
		return "", nil, false
	}
}

func (q *Querier) evictEntry(name string, target *recordEntry) {
	entries := q.records[name]
	for i, entry := range entries {
		if entry != target {
			continue
		}
		record := entry.tracker.Record()
		entry.tracker.Stop()
		q.records[name] = append(entries[:i:i], entries[i+1:]...)
		q.recordCount--
		q.evictedCounter(1)
		Log.WithField("name", name).Debug("mdns: evicted record over soft cache cap")
		if !record.IsNSEC() {
			q.processCallbacks(record, contracts.Expired)
		}
		return
	}
}

func (q *Querier) addQuestion(question mrecord.MdnsQuestion) {
	qt := trackers.NewQuestionTracker(question, q.sendQuestion, q.random)
	_ = qt.Start()
	q.questions[question.Name] = append(q.questions[question.Name], qt)
	if !q.config.EnableQuerying {
		return
	}
	q.runner.PostTaskWithDelay(func() { q.fireQuestion(qt) }, qt.InitialSendDelay())
}

func (q *Querier) sendQuestion(question mrecord.MdnsQuestion) {
	if err := q.sender.SendMulticast(buildQuery(question, q.knownAnswersFor(question)...)); err != nil {
		Log.WithField("question", question.Name).Warn("mdns: query send failed: ", err)
	}
}

func (q *Querier) fireQuestion(qt *trackers.QuestionTracker) {
	if !qt.IsStarted() {
		return
	}
	qt.Send()
	q.runner.PostTaskWithDelay(func() { q.fireQuestion(qt) }, qt.NextSendDelay())
}

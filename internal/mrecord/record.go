// Package mrecord wraps github.com/miekg/dns types into the shapes the
// tracker, querier, and graph packages operate on: a parsed MdnsRecord, an
// MdnsQuestion, and the RecordKey the other packages index by. No wire
// parsing happens here - by the time a dns.RR reaches this package it has
// already been decoded by miekg/dns.
package mrecord

import (
	"fmt"

	"github.com/miekg/dns"
)

// Cardinality distinguishes mDNS shared records (many owners answer the
// same question, e.g. PTR) from unique records (one owner, e.g. SRV/TXT/A).
type Cardinality int

const (
	// Shared records may legally coexist with multiple different rdata
	// values under the same key.
	Shared Cardinality = iota
	// Unique records are owned by a single responder; a second, different
	// rdata value under the same key supersedes the first.
	Unique
)

func (c Cardinality) String() string {
	if c == Unique {
		return "Unique"
	}
	return "Shared"
}

// ResponseType controls whether a question is sent as a standard QM
// (multicast response expected) or QU (unicast response requested) query.
type ResponseType int

const (
	Multicast ResponseType = iota
	Unicast
)

// RecordKey identifies a tracker slot: a domain name plus the DNS type and
// class carried by the record or question. It is comparable and usable as
// a map key.
type RecordKey struct {
	Name  string
	Type  uint16
	Class uint16
}

func (k RecordKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Name, dns.Type(k.Type), dns.Class(k.Class))
}

// MatchesQuery reports whether a record key satisfies a query key, treating
// dns.TypeANY/dns.ClassANY on the query side as wildcards.
func (k RecordKey) MatchesQuery(query RecordKey) bool {
	typeOK := query.Type == dns.TypeANY || query.Type == k.Type
	classOK := query.Class == dns.ClassANY || query.Class == k.Class
	return typeOK && classOK && query.Name == k.Name
}

// MdnsQuestion is a single outstanding query: a name, type, class, and
// whether it is sent as QM or QU.
type MdnsQuestion struct {
	Name     string
	Type     uint16
	Class    uint16
	Response ResponseType
}

// Key returns the RecordKey this question resolves against.
func (q MdnsQuestion) Key() RecordKey {
	return RecordKey{Name: q.Name, Type: q.Type, Class: q.Class}
}

// ToDNS renders the question as a dns.Question plus the QU bit, which in the
// wire format is carried in the top bit of the class field (RFC 6762 §5.4).
func (q MdnsQuestion) ToDNS() dns.Question {
	class := q.Class
	if q.Response == Unicast {
		class |= 1 << 15
	}
	return dns.Question{Name: q.Name, Qtype: q.Type, Qclass: class}
}

// MdnsRecord wraps a parsed resource record together with the cardinality
// rule that applies to its type.
type MdnsRecord struct {
	RR          dns.RR
	Cardinality Cardinality
}

// cardinalityByType mirrors the cast/common/mdns RecordType rules: PTR is
// shared, everything else this module cares about is unique. NSEC is unique
// because it is a negative-response placeholder for one specific owner.
var cardinalityByType = map[uint16]Cardinality{
	dns.TypePTR: Shared,
}

// NewRecord builds an MdnsRecord from a parsed dns.RR, inferring cardinality
// from its type.
func NewRecord(rr dns.RR) MdnsRecord {
	c, ok := cardinalityByType[rr.Header().Rrtype]
	if !ok {
		c = Unique
	}
	return MdnsRecord{RR: rr, Cardinality: c}
}

// Name returns the owner name of the record.
func (r MdnsRecord) Name() string { return r.RR.Header().Name }

// Type returns the DNS RR type, e.g. dns.TypeA.
func (r MdnsRecord) Type() uint16 { return r.RR.Header().Rrtype }

// Class returns the DNS class, normally dns.ClassINET.
func (r MdnsRecord) Class() uint16 { return r.RR.Header().Class }

// TTL returns the record's time-to-live in seconds.
func (r MdnsRecord) TTL() uint32 { return r.RR.Header().Ttl }

// Key returns the RecordKey this record is stored and looked up under.
func (r MdnsRecord) Key() RecordKey {
	return RecordKey{Name: r.Name(), Type: r.Type(), Class: r.Class()}
}

// IsGoodbye reports whether this is a goodbye record (TTL 0), signalling
// the owner is withdrawing it (RFC 6762 §10.1).
func (r MdnsRecord) IsGoodbye() bool { return r.TTL() == 0 }

// IsNSEC reports whether this record is the mDNS negative-response NSEC
// placeholder.
func (r MdnsRecord) IsNSEC() bool { return r.Type() == dns.TypeNSEC }

// SameRdata reports whether two records carry identical rdata, ignoring
// TTL, using miekg/dns's canonical rdata comparison.
func SameRdata(a, b MdnsRecord) bool {
	return dns.IsDuplicate(a.RR, b.RR)
}

// CoveredTypes returns the set of DNS types an NSEC record asserts are
// absent for its owner name. It returns nil if r is not an NSEC record.
func (r MdnsRecord) CoveredTypes() []uint16 {
	nsec, ok := r.RR.(*dns.NSEC)
	if !ok {
		return nil
	}
	return nsec.TypeBitMap
}

// kTranslatedNsecAnyQueryTypes is the fixed set of types an mDNS NSEC
// record is treated as covering when its own bitmap asserts dns.TypeANY is
// absent - that one bit stands in for "nothing at all exists here" across
// the types this package tracks. Order matches the original mdns_querier.cc
// translation table.
var kTranslatedNsecAnyQueryTypes = []uint16{
	dns.TypeA,
	dns.TypePTR,
	dns.TypeTXT,
	dns.TypeAAAA,
	dns.TypeSRV,
}

// NegativeTypesFor expands an NSEC record's covered-type bitmap into the
// concrete list of types it negates, translating a bare ANY bit into the
// fixed five types this module tracks. It returns nil for non-NSEC records.
func (r MdnsRecord) NegativeTypesFor() []uint16 {
	covered := r.CoveredTypes()
	if covered == nil {
		return nil
	}
	for _, t := range covered {
		if t == dns.TypeANY {
			return kTranslatedNsecAnyQueryTypes
		}
	}
	return covered
}

// IsNegativeResponseFor reports whether this NSEC record asserts that
// queryType does not exist for its owner name. An mDNS NSEC record must not
// itself list TypeNSEC among its covered types - that distinguishes an
// mDNS negative-response NSEC from a conventional DNSSEC one - so any
// record carrying TypeNSEC in its bitmap is rejected outright.
func (r MdnsRecord) IsNegativeResponseFor(queryType uint16) bool {
	if !r.IsNSEC() {
		return false
	}
	covered := r.CoveredTypes()
	for _, t := range covered {
		if t == dns.TypeNSEC {
			return false
		}
	}
	for _, t := range r.NegativeTypesFor() {
		if t == queryType || queryType == dns.TypeANY {
			return true
		}
	}
	return false
}

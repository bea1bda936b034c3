package mrecord

import (
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(name, target string, ttl uint32) dns.RR {
	return &dns.PTR{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: ttl},
		Ptr: target,
	}
}

func TestNewRecordCardinality(t *testing.T) {
	p := NewRecord(ptr("_http._tcp.local.", "a._http._tcp.local.", 120))
	assert.Equal(t, Shared, p.Cardinality)

	srv := NewRecord(&dns.SRV{
		Hdr:    dns.RR_Header{Name: "a._http._tcp.local.", Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 120},
		Target: "host.local.",
	})
	assert.Equal(t, Unique, srv.Cardinality)
}

func TestIsGoodbye(t *testing.T) {
	r := NewRecord(ptr("_http._tcp.local.", "a._http._tcp.local.", 0))
	assert.True(t, r.IsGoodbye())
	r2 := NewRecord(ptr("_http._tcp.local.", "a._http._tcp.local.", 120))
	assert.False(t, r2.IsGoodbye())
}

func TestSameRdataIgnoresTTL(t *testing.T) {
	a := NewRecord(ptr("_http._tcp.local.", "a._http._tcp.local.", 120))
	b := NewRecord(ptr("_http._tcp.local.", "a._http._tcp.local.", 4500))
	assert.True(t, SameRdata(a, b))

	c := NewRecord(ptr("_http._tcp.local.", "b._http._tcp.local.", 120))
	assert.False(t, SameRdata(a, c))
}

func TestRecordKeyMatchesQueryWildcards(t *testing.T) {
	key := RecordKey{Name: "host.local.", Type: dns.TypeA, Class: dns.ClassINET}
	any := RecordKey{Name: "host.local.", Type: dns.TypeANY, Class: dns.ClassANY}
	require.True(t, key.MatchesQuery(any))

	wrongType := RecordKey{Name: "host.local.", Type: dns.TypeAAAA, Class: dns.ClassINET}
	assert.False(t, key.MatchesQuery(wrongType))
}

func TestNegativeResponseForTranslatesAny(t *testing.T) {
	nsec := NewRecord(&dns.NSEC{
		Hdr:        dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeNSEC, Class: dns.ClassINET, Ttl: 120},
		NextDomain: "host.local.",
		TypeBitMap: []uint16{dns.TypeANY},
	})
	assert.True(t, nsec.IsNegativeResponseFor(dns.TypeA))
	assert.True(t, nsec.IsNegativeResponseFor(dns.TypeSRV))
}

func TestNegativeResponseForRejectsNsecBit(t *testing.T) {
	nsec := NewRecord(&dns.NSEC{
		Hdr:        dns.RR_Header{Name: "host.local.", Rrtype: dns.TypeNSEC, Class: dns.ClassINET, Ttl: 120},
		NextDomain: "host.local.",
		TypeBitMap: []uint16{dns.TypeA, dns.TypeNSEC},
	})
	assert.False(t, nsec.IsNegativeResponseFor(dns.TypeA))
}

func TestQuestionToDNSSetsQUBit(t *testing.T) {
	q := MdnsQuestion{Name: "host.local.", Type: dns.TypeA, Class: dns.ClassINET, Response: Unicast}
	dq := q.ToDNS()
	assert.Equal(t, uint16(dns.ClassINET)|1<<15, dq.Qclass)
}

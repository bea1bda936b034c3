package mdns

import (
	"github.com/miekg/dns"

	"github.com/folbricht/mdnsdisco/internal/mrecord"
)

// buildQuery renders a single outstanding question as an mDNS query
// message ready to hand to the configured Sender. knownAnswers, if any,
// are listed in the message's answer section so a responder holding
// nothing new can stay silent (RFC 6762 §7.1).
func buildQuery(q mrecord.MdnsQuestion, knownAnswers ...dns.RR) *dns.Msg {
	m := new(dns.Msg)
	m.Question = []dns.Question{q.ToDNS()}
	if len(knownAnswers) > 0 {
		m.Answer = knownAnswers
	}
	return m
}

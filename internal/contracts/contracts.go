// Package contracts holds the small interfaces and shared enums that let
// trackers, graph, and the root package refer to each other's collaborators
// without importing each other: the external Sender/ReportingClient the
// embedder provides, and the RecordEvent vocabulary callbacks are notified
// with.
package contracts

import "github.com/miekg/dns"

// RecordEvent describes why a subscriber callback fired.
type RecordEvent int

const (
	// Created fires the first time a record's rdata becomes visible.
	Created RecordEvent = iota
	// Updated fires when a unique record's rdata changes in place.
	Updated
	// Expired fires when a record's tracker reaches its TTL, or when a
	// goodbye record withdraws it early.
	Expired
)

func (e RecordEvent) String() string {
	switch e {
	case Created:
		return "Created"
	case Updated:
		return "Updated"
	case Expired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Sender transmits an outbound mDNS message. It is owned and implemented by
// the embedder; this module never opens a socket itself.
type Sender interface {
	SendMulticast(msg *dns.Msg) error
}

// ReportingClient receives recoverable-error notifications that have no
// single caller to return an error to, such as a cached record tracker
// rejecting an update while a received message is processed. Errors from
// the graph are not sent here.
type ReportingClient interface {
	OnRecoverableError(err error)
}

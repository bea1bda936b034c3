/*
Package mdns implements the multicast DNS record-refresh scheduler, the
querier cache/update state machine, and the DNS-SD data graph used to turn
raw mDNS records into resolved service endpoints. It does not open sockets
or parse wire bytes itself - callers supply a Sender/Receiver pair and hand
parsed *dns.Msg values in; everything downstream of that boundary runs on a
single cooperative TaskRunner goroutine.

Querier

A Querier tracks outstanding questions and the records received in answer
to them. Subscribers register a callback for a (name, type, class) query;
the Querier deduplicates identical registrations, fans out Created/Updated/
Expired events as records arrive and age out, and applies the mDNS shared
vs. unique record rules (RFC 6762 §§ 6, 10) when reconciling a freshly
received record against what is already cached.

Trackers

Each cached record is owned by a RecordTracker, which schedules refresh
queries at fixed fractions of the record's TTL and fires an Expired
callback when it lapses; each outstanding question is owned by a
QuestionTracker, which re-sends the question on an exponential backoff.

Graph

A DnsDataGraph assembles PTR/SRV/TXT/A/AAAA records into ServiceEndpoint
values, tolerating the cycles and self loops that are a normal feature of
the DNS-SD record graph rather than an error condition. Discovery wires a
Querier to one of these graphs automatically, chaining subscriptions down
the PTR -> SRV/TXT -> address chain as each answer arrives. Calls into a
Querier or Discovery must run on the runner goroutine; Querier methods
panic when called from any other goroutine:

	runner := taskrunner.NewSerialRunner()
	d := mdns.NewDiscovery(sender, runner, reportingClient, 0)
	runner.PostTask(func() { _ = d.Browse("_http._tcp.local.") })
	// later, also on the runner:
	runner.PostTask(func() {
		endpoints, err := d.Endpoints("_http._tcp.local.")
		// ...
	})

Callers that only need raw record callbacks without the graph can use
Querier directly instead:

	q := mdns.NewQuerier(sender, runner, reportingClient)
	runner.PostTask(func() {
		_ = q.StartQuery("_http._tcp.local.", dns.TypePTR, dns.ClassINET, onChange)
	})
*/
package mdns

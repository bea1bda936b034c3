package mdns

import (
	"github.com/miekg/dns"

	"github.com/folbricht/mdnsdisco/internal/contracts"
	"github.com/folbricht/mdnsdisco/internal/discoerr"
	"github.com/folbricht/mdnsdisco/internal/graph"
	"github.com/folbricht/mdnsdisco/internal/mrecord"
	"github.com/folbricht/mdnsdisco/internal/taskrunner"
)

// ServiceEndpoint is a fully resolved DNS-SD service instance: its SRV
// target/port/priority/weight, its TXT metadata, and the addresses its
// host name resolved to. It is a re-export of graph.ServiceEndpoint so
// callers of Discovery never need to import the internal package.
type ServiceEndpoint = graph.ServiceEndpoint

// Discovery composes a Querier with a DnsDataGraph: it drives Browse
// subscriptions across the PTR -> SRV/TXT -> A/AAAA chain automatically
// and derives resolved ServiceEndpoints from whatever the Querier has
// currently cached, exactly the data flow in the system overview - the
// Querier feeds record-change events to the graph, and the graph answers
// endpoint queries for subscribers.
type Discovery struct {
	querier *Querier
	graph   *graph.DnsDataGraph
}

// NewDiscovery builds a Discovery. networkInterfaceIndex is recorded only
// for the caller's own bookkeeping (e.g. logging, metrics labels) - the
// graph is not itself interface-aware beyond carrying the index.
func NewDiscovery(sender contracts.Sender, runner taskrunner.TaskRunner, reporting contracts.ReportingClient, networkInterfaceIndex int, opts ...Option) *Discovery {
	return &Discovery{
		querier: NewQuerier(sender, runner, reporting, opts...),
		graph:   graph.NewDnsDataGraph(networkInterfaceIndex),
	}
}

// Querier exposes the underlying Querier for callers that also want raw,
// ungraphed subscriptions.
func (d *Discovery) Querier() *Querier { return d.querier }

// Browse subscribes to PTR records for serviceType and, as instances and
// their SRV/TXT/address records arrive, transparently chains subsequent
// subscriptions down the chain and mirrors every record change into the
// data graph so Endpoints(serviceType) can derive resolved instances.
func (d *Discovery) Browse(serviceType string) error {
	serviceType = dns.Fqdn(serviceType)
	if err := d.graph.StartTracking(serviceType, nil); err != nil {
		return discoerr.Wrap(discoerr.OperationInvalid, "Discovery.Browse", err)
	}
	return d.querier.StartQuery(serviceType, dns.TypePTR, dns.ClassINET, d.onPtrEvent)
}

// onPtrEvent mirrors a PTR answer into the graph, using its onCreate/
// onDelete callbacks - rather than inspecting the record event directly -
// to start and stop the SRV/TXT subscriptions an instance node needs.
func (d *Discovery) onPtrEvent(rec mrecord.MdnsRecord, event contracts.RecordEvent) {
	_ = d.graph.ApplyDataRecordChange(rec, event, d.onInstanceCreated, d.onInstanceDeleted)
}

func (d *Discovery) onInstanceCreated(rec mrecord.MdnsRecord) {
	ptr, ok := rec.RR.(*dns.PTR)
	if !ok {
		return
	}
	instance := ptr.Ptr
	_ = d.querier.StartQuery(instance, dns.TypeSRV, dns.ClassINET, d.onSrvEvent)
	_ = d.querier.StartQuery(instance, dns.TypeTXT, dns.ClassINET, d.onTxtEvent)
}

// onInstanceDeleted is called once per record still held by a removed node
// (including nodes removed in the same cascade); the record's owner name is
// that node's name. A node removed while holding no records triggers no
// call, so its subscriptions stay in place.
func (d *Discovery) onInstanceDeleted(rec mrecord.MdnsRecord) {
	instance := rec.Name()
	_ = d.querier.StopQuery(instance, dns.TypeSRV, dns.ClassINET, d.onSrvEvent)
	_ = d.querier.StopQuery(instance, dns.TypeTXT, dns.ClassINET, d.onTxtEvent)
}

// onSrvEvent mirrors an SRV answer into the graph, using its onCreate/
// onDelete callbacks to start and stop the address subscriptions a host
// node needs.
func (d *Discovery) onSrvEvent(rec mrecord.MdnsRecord, event contracts.RecordEvent) {
	_ = d.graph.ApplyDataRecordChange(rec, event, d.onHostCreated, d.onHostDeleted)
}

func (d *Discovery) onHostCreated(rec mrecord.MdnsRecord) {
	srv, ok := rec.RR.(*dns.SRV)
	if !ok {
		return
	}
	host := srv.Target
	_ = d.querier.StartQuery(host, dns.TypeA, dns.ClassINET, d.onAddressEvent)
	_ = d.querier.StartQuery(host, dns.TypeAAAA, dns.ClassINET, d.onAddressEvent)
}

// onHostDeleted, like onInstanceDeleted, is called with the removed host
// node's own records, whose owner name is the host name.
func (d *Discovery) onHostDeleted(rec mrecord.MdnsRecord) {
	host := rec.Name()
	_ = d.querier.StopQuery(host, dns.TypeA, dns.ClassINET, d.onAddressEvent)
	_ = d.querier.StopQuery(host, dns.TypeAAAA, dns.ClassINET, d.onAddressEvent)
}

// onTxtEvent and onAddressEvent only ever mirror into the graph - TXT and
// address records never name an edge target, so the graph never has an
// on_create/on_delete to fire for them.
func (d *Discovery) onTxtEvent(rec mrecord.MdnsRecord, event contracts.RecordEvent) {
	_ = d.graph.ApplyDataRecordChange(rec, event, nil, nil)
}

func (d *Discovery) onAddressEvent(rec mrecord.MdnsRecord, event contracts.RecordEvent) {
	_ = d.graph.ApplyDataRecordChange(rec, event, nil, nil)
}

// Endpoints returns every fully resolved ServiceEndpoint currently known
// for serviceType, derived from the data graph built up by Browse.
func (d *Discovery) Endpoints(serviceType string) ([]ServiceEndpoint, error) {
	return d.graph.CreateEndpoints(graph.PtrGroup, dns.Fqdn(serviceType))
}

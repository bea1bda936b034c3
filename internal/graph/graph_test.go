package graph

import (
	"net"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folbricht/mdnsdisco/internal/contracts"
	"github.com/folbricht/mdnsdisco/internal/mrecord"
)

func ptrRec(svc, instance string) mrecord.MdnsRecord {
	return mrecord.NewRecord(&dns.PTR{
		Hdr: dns.RR_Header{Name: svc, Rrtype: dns.TypePTR, Class: dns.ClassINET, Ttl: 120},
		Ptr: instance,
	})
}

func srvRec(instance, host string, port uint16) mrecord.MdnsRecord {
	return mrecord.NewRecord(&dns.SRV{
		Hdr:    dns.RR_Header{Name: instance, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: 120},
		Target: host,
		Port:   port,
	})
}

func txtRec(instance string, txt ...string) mrecord.MdnsRecord {
	return mrecord.NewRecord(&dns.TXT{
		Hdr: dns.RR_Header{Name: instance, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 120},
		Txt: txt,
	})
}

func aRec(host string, ip net.IP) mrecord.MdnsRecord {
	return mrecord.NewRecord(&dns.A{
		Hdr: dns.RR_Header{Name: host, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 120},
		A:   ip,
	})
}

func TestApplyDataRecordChangeBuildsFullChain(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("_http._tcp.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("_http._tcp.local.", "foo._http._tcp.local."), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(srvRec("foo._http._tcp.local.", "host.local.", 8080), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(txtRec("foo._http._tcp.local.", "key=value"), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(aRec("host.local.", net.IPv4(10, 0, 0, 1)), contracts.Created, nil, nil))

	endpoints, err := g.CreateEndpoints(PtrGroup, "_http._tcp.local.")
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	ep := endpoints[0]
	assert.Equal(t, "foo._http._tcp.local.", ep.InstanceName)
	assert.Equal(t, "host.local.", ep.Host)
	assert.Equal(t, uint16(8080), ep.Port)
	assert.Equal(t, map[string]string{"key": "value"}, ep.TXT)
	assert.Equal(t, 1, ep.Interface)
	assert.NoError(t, ep.Err)
	require.Len(t, ep.Addresses, 1)
	assert.True(t, ep.Addresses[0].Equal(net.IPv4(10, 0, 0, 1)))
}

func TestEndpointsForInstanceRequiresTXT(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("_http._tcp.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("_http._tcp.local.", "foo._http._tcp.local."), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(srvRec("foo._http._tcp.local.", "host.local.", 8080), contracts.Created, nil, nil))

	endpoints, err := g.CreateEndpoints(PtrGroup, "_http._tcp.local.")
	require.NoError(t, err)
	assert.Empty(t, endpoints)
}

func TestEndpointsForInstanceSurfacesPerEndpointTxtError(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("foo._http._tcp.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(srvRec("foo._http._tcp.local.", "host.local.", 8080), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(txtRec("foo._http._tcp.local.", "=novalidkey"), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(aRec("host.local.", net.IPv4(10, 0, 0, 1)), contracts.Created, nil, nil))

	endpoints, err := g.CreateEndpoints(SrvAndTxtGroup, "foo._http._tcp.local.")
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Error(t, endpoints[0].Err)
	assert.Equal(t, "host.local.", endpoints[0].Host)
}

func TestApplyDataRecordChangeFiresOnCreateForNewEdgeTarget(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("_http._tcp.local.", nil))

	var created []string
	rec := ptrRec("_http._tcp.local.", "foo._http._tcp.local.")
	require.NoError(t, g.ApplyDataRecordChange(rec, contracts.Created, func(r mrecord.MdnsRecord) { created = append(created, r.Name()) }, nil))
	assert.Equal(t, []string{"_http._tcp.local."}, created)
}

func TestApplyDataRecordChangeDoesNotFireOnCreateForExistingEdgeTarget(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("a.local.", nil))
	require.NoError(t, g.StartTracking("b.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("a.local.", "b.local."), contracts.Created, nil, nil))

	var created []string
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("b.local.", "a.local."), contracts.Created, func(r mrecord.MdnsRecord) { created = append(created, r.Name()) }, nil))
	assert.Empty(t, created)
}

func TestApplyDataRecordChangeFiresOnDeleteForOrphanedTarget(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("_http._tcp.local.", nil))
	rec := ptrRec("_http._tcp.local.", "foo._http._tcp.local.")
	require.NoError(t, g.ApplyDataRecordChange(rec, contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(srvRec("foo._http._tcp.local.", "host.local.", 80), contracts.Created, nil, nil))

	var deleted []string
	require.NoError(t, g.ApplyDataRecordChange(rec, contracts.Expired, nil, func(r mrecord.MdnsRecord) { deleted = append(deleted, r.Name()) }))
	assert.Contains(t, deleted, "foo._http._tcp.local.")
	_, stillExists := g.nodes["foo._http._tcp.local."]
	assert.False(t, stillExists)
}

func TestApplyDataRecordChangeDoesNotFireOnDeleteWhenTargetStillParented(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("a.local.", nil))
	require.NoError(t, g.StartTracking("b.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("a.local.", "shared.local."), contracts.Created, nil, nil))
	shared := ptrRec("b.local.", "shared.local.")
	require.NoError(t, g.ApplyDataRecordChange(shared, contracts.Created, nil, nil))

	var deleted []string
	require.NoError(t, g.ApplyDataRecordChange(shared, contracts.Expired, nil, func(r mrecord.MdnsRecord) { deleted = append(deleted, r.Name()) }))
	assert.Empty(t, deleted)
	_, stillExists := g.nodes["shared.local."]
	assert.True(t, stillExists)
}

func TestApplyDataRecordChangeRequiresExistingNode(t *testing.T) {
	g := NewDnsDataGraph(1)
	err := g.ApplyDataRecordChange(ptrRec("_http._tcp.local.", "foo._http._tcp.local."), contracts.Created, nil, nil)
	assert.Error(t, err)
}

func TestApplyDataRecordChangeToleratesSelfLoop(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("host.local.", nil))
	// An SRV record whose target is its own owner name - a self loop that
	// a strict DAG library would reject as a cycle.
	require.NoError(t, g.ApplyDataRecordChange(srvRec("host.local.", "host.local.", 80), contracts.Created, nil, nil))
	node := g.nodes["host.local."]
	require.Len(t, node.children, 1)
	assert.Same(t, node, node.children[0])
}

func TestApplyDataRecordChangeToleratesCycle(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("a.local.", nil))
	require.NoError(t, g.StartTracking("b.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("a.local.", "b.local."), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("b.local.", "a.local."), contracts.Created, nil, nil))
	a := g.nodes["a.local."]
	b := g.nodes["b.local."]
	assert.Contains(t, a.children, b)
	assert.Contains(t, b.children, a)
}

func TestApplyDataRecordChangeSrvTargetChangeRewiresEdge(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("foo._http._tcp.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(srvRec("foo._http._tcp.local.", "old.local.", 80), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(srvRec("foo._http._tcp.local.", "new.local.", 80), contracts.Updated, nil, nil))

	// old.local. was only referenced by this SRV record - it should have
	// been deleted along with the stale edge.
	_, oldStillExists := g.nodes["old.local."]
	assert.False(t, oldStillExists)

	instance := g.nodes["foo._http._tcp.local."]
	newHost := g.nodes["new.local."]
	require.NotNil(t, newHost)
	assert.Contains(t, instance.children, newHost)
}

func TestStartTrackingAlreadyTracked(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("host.local.", nil))
	err := g.StartTracking("host.local.", nil)
	assert.Error(t, err)
}

func TestStartTrackingReplaysExistingRecords(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("foo._http._tcp.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(srvRec("foo._http._tcp.local.", "host.local.", 80), contracts.Created, nil, nil))
	// host.local. now exists only as an SRV edge target, with no records
	// of its own, before anything ever directly tracks it.
	require.NoError(t, g.ApplyDataRecordChange(aRec("host.local.", net.IPv4(1, 2, 3, 4)), contracts.Created, nil, nil))

	var seen []mrecord.MdnsRecord
	require.NoError(t, g.StartTracking("host.local.", func(r mrecord.MdnsRecord) { seen = append(seen, r) }))
	require.Len(t, seen, 1)
}

func TestStopTrackingUnknownDomain(t *testing.T) {
	g := NewDnsDataGraph(1)
	assert.Error(t, g.StopTracking("missing.local.", nil))
}

func TestStopTrackingFailsWithParents(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("_http._tcp.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("_http._tcp.local.", "foo._http._tcp.local."), contracts.Created, nil, nil))
	require.NoError(t, g.StartTracking("foo._http._tcp.local.", nil))

	err := g.StopTracking("foo._http._tcp.local.", nil)
	assert.Error(t, err)
}

func TestStopTrackingCascadesOrphanedDescendants(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("_http._tcp.local.", nil))
	require.NoError(t, g.ApplyDataRecordChange(ptrRec("_http._tcp.local.", "foo._http._tcp.local."), contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(srvRec("foo._http._tcp.local.", "host.local.", 80), contracts.Created, nil, nil))

	var deleted []string
	require.NoError(t, g.StopTracking("_http._tcp.local.", func(r mrecord.MdnsRecord) { deleted = append(deleted, r.Name()) }))

	_, svcExists := g.nodes["_http._tcp.local."]
	_, instanceExists := g.nodes["foo._http._tcp.local."]
	_, hostExists := g.nodes["host.local."]
	assert.False(t, svcExists)
	assert.False(t, instanceExists)
	assert.False(t, hostExists)
}

func TestExpiredRemovesRecordAndEdge(t *testing.T) {
	g := NewDnsDataGraph(1)
	require.NoError(t, g.StartTracking("_http._tcp.local.", nil))
	rec := ptrRec("_http._tcp.local.", "foo._http._tcp.local.")
	require.NoError(t, g.ApplyDataRecordChange(rec, contracts.Created, nil, nil))
	require.NoError(t, g.ApplyDataRecordChange(rec, contracts.Expired, nil, nil))

	svc := g.nodes["_http._tcp.local."]
	assert.Empty(t, svc.records)
	assert.Empty(t, svc.children)
}

func TestCreateEndpointsUnknownDomain(t *testing.T) {
	g := NewDnsDataGraph(1)
	_, err := g.CreateEndpoints(PtrGroup, "missing.local.")
	assert.Error(t, err)
}

// Package graph implements the DNS-SD data graph: a reference-counted,
// cycle-tolerant multigraph over domain names that turns PTR/SRV/TXT/A/AAAA
// records into fully resolved service endpoints. Cycles and self loops are
// expected, not bugs - an SRV record routinely points at an address record
// sharing its own owner name - so this is deliberately not backed by a
// strict DAG library.
package graph

import (
	"net"

	"github.com/miekg/dns"

	"github.com/folbricht/mdnsdisco/internal/contracts"
	"github.com/folbricht/mdnsdisco/internal/discoerr"
	"github.com/folbricht/mdnsdisco/internal/mrecord"
)

// DomainGroup classifies which layer of the PTR -> SRV/TXT -> address chain
// a record or a requested set of endpoints belongs to.
type DomainGroup int

const (
	// NoGroup means the record does not participate in endpoint
	// construction (e.g. an NSEC placeholder).
	NoGroup DomainGroup = iota
	// PtrGroup is the service-type -> instance-name level (PTR records).
	PtrGroup
	// SrvAndTxtGroup is the instance-name -> host/port/txt level.
	SrvAndTxtGroup
	// AddressGroup is the host-name -> IP level (A/AAAA records).
	AddressGroup
)

// GetDomainGroupForType reports which DomainGroup a DNS record type
// belongs to.
func GetDomainGroupForType(dnsType uint16) DomainGroup {
	switch dnsType {
	case dns.TypePTR:
		return PtrGroup
	case dns.TypeSRV, dns.TypeTXT:
		return SrvAndTxtGroup
	case dns.TypeA, dns.TypeAAAA:
		return AddressGroup
	default:
		return NoGroup
	}
}

// GetDomainGroupForRecord reports which DomainGroup rec belongs to.
func GetDomainGroupForRecord(rec mrecord.MdnsRecord) DomainGroup {
	return GetDomainGroupForType(rec.Type())
}

// ServiceEndpoint is a fully resolved DNS-SD instance: its SRV
// target/port/priority/weight, its TXT metadata parsed into key/value
// pairs, the addresses its host name resolved to, and the index of the
// network interface the owning graph is scoped to.
type ServiceEndpoint struct {
	InstanceName string
	Host         string
	Port         uint16
	Priority     uint16
	Weight       uint16
	TXT          map[string]string
	Addresses    []net.IP
	Interface    int

	// Err is set when this instance's TXT strings failed to parse into
	// key/value pairs; the other fields are still populated best-effort.
	Err error
}

// Node is one domain name's slot in the graph: the records currently owned
// by that name, and the parent/child edges those records imply. Cycles and
// repeated parent/child pairs (multi-edges) are both legal.
type Node struct {
	name     string
	records  []mrecord.MdnsRecord
	parents  []*Node
	children []*Node
}

// Name returns the node's domain name.
func (n *Node) Name() string { return n.name }

// Records returns the records currently attached to this node.
func (n *Node) Records() []mrecord.MdnsRecord { return n.records }

// Parents returns the nodes whose records reference this node.
func (n *Node) Parents() []*Node { return n.parents }

// Children returns the nodes this node's records reference.
func (n *Node) Children() []*Node { return n.children }

// DnsDataGraph is the full set of tracked domain nodes for one network
// interface.
type DnsDataGraph struct {
	iface   int
	nodes   map[string]*Node
	tracked map[string]struct{}
}

// NewDnsDataGraph builds an empty graph scoped to the given network
// interface index.
func NewDnsDataGraph(networkInterfaceIndex int) *DnsDataGraph {
	return &DnsDataGraph{
		iface:   networkInterfaceIndex,
		nodes:   make(map[string]*Node),
		tracked: make(map[string]struct{}),
	}
}

func (g *DnsDataGraph) getOrCreateNode(name string) *Node {
	if n, ok := g.nodes[name]; ok {
		return n
	}
	n := &Node{name: name}
	g.nodes[name] = n
	return n
}

// TrackedDomainCount returns the number of domains currently under active
// tracking (as opposed to domains that exist in the graph only because
// another node's record references them).
func (g *DnsDataGraph) TrackedDomainCount() int { return len(g.tracked) }

// StartTracking marks domain as actively tracked, creating its root node
// (no parents) if necessary, and invokes onStartTracking once for every
// record already attached to it (so a late subscriber sees existing
// state).
func (g *DnsDataGraph) StartTracking(domain string, onStartTracking func(mrecord.MdnsRecord)) error {
	if _, ok := g.tracked[domain]; ok {
		return discoerr.New(discoerr.ItemAlreadyExists, "DnsDataGraph.StartTracking", domain)
	}
	node := g.getOrCreateNode(domain)
	g.tracked[domain] = struct{}{}
	if onStartTracking != nil {
		for _, r := range node.records {
			onStartTracking(r)
		}
	}
	return nil
}

// StopTracking stops tracking domain. It fails with ItemNotFound if domain
// was never a root and with ParameterInvalid if the node still has
// parents - only a root may be stopped. On success the root is removed,
// invoking onStopTracking once for every record it still held, and
// deletion cascades to any child that becomes orphaned (its last parent
// edge just removed) and is not itself separately tracked.
func (g *DnsDataGraph) StopTracking(domain string, onStopTracking func(mrecord.MdnsRecord)) error {
	if _, ok := g.tracked[domain]; !ok {
		return discoerr.New(discoerr.ItemNotFound, "DnsDataGraph.StopTracking", domain)
	}
	node, ok := g.nodes[domain]
	if !ok {
		delete(g.tracked, domain)
		return nil
	}
	if len(node.parents) > 0 {
		return discoerr.New(discoerr.ParameterInvalid, "DnsDataGraph.StopTracking", domain+" still has parents")
	}

	delete(g.tracked, domain)
	if onStopTracking != nil {
		for _, r := range node.records {
			onStopTracking(r)
		}
	}
	g.deleteNodeCascading(node, onStopTracking)
	return nil
}

// deleteNodeCascading removes node from the graph, detaches it from its
// children, and recursively deletes any child left both parentless and
// untracked as a result.
func (g *DnsDataGraph) deleteNodeCascading(node *Node, onDelete func(mrecord.MdnsRecord)) {
	children := append([]*Node(nil), node.children...)
	delete(g.nodes, node.name)
	for _, child := range children {
		removeEdge(node, child)
		if _, tracked := g.tracked[child.name]; tracked {
			continue
		}
		if len(child.parents) == 0 {
			if onDelete != nil {
				for _, r := range child.records {
					onDelete(r)
				}
			}
			g.deleteNodeCascading(child, onDelete)
		}
	}
}

// childDomain returns the domain name a record's rdata points at, if any,
// and whether this record type establishes a parent/child edge at all.
func childDomain(rec mrecord.MdnsRecord) (string, bool) {
	switch rr := rec.RR.(type) {
	case *dns.PTR:
		return rr.Ptr, true
	case *dns.SRV:
		return rr.Target, true
	default:
		return "", false
	}
}

func addEdge(parent, child *Node) {
	parent.children = append(parent.children, child)
	child.parents = append(child.parents, parent)
}

func removeEdge(parent, child *Node) {
	for i, c := range parent.children {
		if c == child {
			parent.children = append(parent.children[:i], parent.children[i+1:]...)
			break
		}
	}
	for i, p := range child.parents {
		if p == parent {
			child.parents = append(child.parents[:i], child.parents[i+1:]...)
			break
		}
	}
}

// ApplyDataRecordChange applies a Created/Updated/Expired record event to
// the graph: attaching or detaching the record from its owner's node and
// maintaining the parent/child edge its rdata implies, including the edge
// being a self loop (an SRV record whose target equals its own owner name)
// or closing a cycle through nodes already in the graph - both legal. The
// owner node (named rec.Name()) must already exist - created by a prior
// StartTracking or as a previously-created edge target - or this returns
// OperationCancelled; edge targets are created on demand.
//
// onCreate fires, with rec, exactly when a PTR/SRV edge target node did
// not exist before this call and had to be created. onDelete fires, once
// per record still attached to an edge target node that this call leaves
// both parentless and untracked, cascading through any further
// descendants orphaned as a result.
func (g *DnsDataGraph) ApplyDataRecordChange(rec mrecord.MdnsRecord, event contracts.RecordEvent, onCreate, onDelete func(mrecord.MdnsRecord)) error {
	node, ok := g.nodes[rec.Name()]
	if !ok {
		return discoerr.New(discoerr.OperationCancelled, "DnsDataGraph.ApplyDataRecordChange", rec.Name()+" has no node")
	}

	var oldChild string
	var hadOldEdge bool
	if event == contracts.Updated {
		for _, existing := range node.records {
			if existing.Key() == rec.Key() {
				oldChild, hadOldEdge = childDomain(existing)
				break
			}
		}
	}

	switch event {
	case contracts.Created:
		node.records = append(node.records, rec)
	case contracts.Updated:
		replaced := false
		for i, existing := range node.records {
			if existing.Key() == rec.Key() {
				node.records[i] = rec
				replaced = true
				break
			}
		}
		if !replaced {
			node.records = append(node.records, rec)
		}
	case contracts.Expired:
		for i, existing := range node.records {
			if existing.Key() == rec.Key() && mrecord.SameRdata(existing, rec) {
				node.records = append(node.records[:i], node.records[i+1:]...)
				break
			}
		}
	}

	newChild, hasNewEdge := childDomain(rec)

	switch event {
	case contracts.Created:
		if hasNewEdge {
			g.connectChild(node, newChild, rec, onCreate)
		}
	case contracts.Expired:
		if hasNewEdge {
			g.disconnectChild(node, newChild, onDelete)
		}
	case contracts.Updated:
		// An SRV target change is an edge rewire: drop the old edge
		// (cascading if the old target is now orphaned), add the new one.
		if hadOldEdge && hasNewEdge && oldChild != newChild {
			g.disconnectChild(node, oldChild, onDelete)
			g.connectChild(node, newChild, rec, onCreate)
		}
	}

	return nil
}

// connectChild adds an edge from node to the node named childName,
// creating that node on demand if it didn't already exist - in which case
// onCreate, if set, is invoked with rec, the record whose rdata named it.
func (g *DnsDataGraph) connectChild(node *Node, childName string, rec mrecord.MdnsRecord, onCreate func(mrecord.MdnsRecord)) {
	_, existed := g.nodes[childName]
	child := g.getOrCreateNode(childName)
	addEdge(node, child)
	if !existed && onCreate != nil {
		onCreate(rec)
	}
}

// disconnectChild removes one edge from node to the node named childName,
// cascading deletion if that child is now both parentless and untracked.
func (g *DnsDataGraph) disconnectChild(node *Node, childName string, onDelete func(mrecord.MdnsRecord)) {
	child, ok := g.nodes[childName]
	if !ok {
		return
	}
	removeEdge(node, child)
	if _, tracked := g.tracked[childName]; tracked {
		return
	}
	if len(child.parents) == 0 {
		if onDelete != nil {
			for _, r := range child.records {
				onDelete(r)
			}
		}
		g.deleteNodeCascading(child, onDelete)
	}
}

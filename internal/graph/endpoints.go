package graph

import (
	"fmt"
	"net"
	"strings"

	"github.com/miekg/dns"

	"github.com/folbricht/mdnsdisco/internal/discoerr"
)

// CreateEndpoints walks the graph from name, interpreting it according to
// group, and returns every fully resolved ServiceEndpoint reachable from
// it. An incomplete chain (e.g. an SRV record whose host has no address
// records yet) yields no endpoint for that SRV record rather than an
// error. An instance whose
// TXT strings don't parse into key/value pairs still yields an endpoint,
// but with its Err field set instead of aborting the whole call.
func (g *DnsDataGraph) CreateEndpoints(group DomainGroup, name string) ([]ServiceEndpoint, error) {
	node, ok := g.nodes[name]
	if !ok {
		return nil, discoerr.New(discoerr.ItemNotFound, "DnsDataGraph.CreateEndpoints", name)
	}

	switch group {
	case PtrGroup:
		var endpoints []ServiceEndpoint
		for _, child := range node.children {
			endpoints = append(endpoints, g.endpointsForInstance(child)...)
		}
		return endpoints, nil
	case SrvAndTxtGroup:
		return g.endpointsForInstance(node), nil
	default:
		return nil, discoerr.New(discoerr.ParameterInvalid, "DnsDataGraph.CreateEndpoints", "group does not name an instance")
	}
}

// endpointsForInstance builds one ServiceEndpoint per SRV record held by
// instance whose target host holds at least one A or AAAA record, provided
// instance also holds at least one TXT record - a SrvAndTxt node is only
// complete with both present (§4.4).
func (g *DnsDataGraph) endpointsForInstance(instance *Node) []ServiceEndpoint {
	var txtStrings []string
	var haveTXT bool
	var srvs []*dns.SRV
	for _, r := range instance.records {
		switch rr := r.RR.(type) {
		case *dns.TXT:
			haveTXT = true
			txtStrings = append(txtStrings, rr.Txt...)
		case *dns.SRV:
			srvs = append(srvs, rr)
		}
	}
	if !haveTXT || len(srvs) == 0 {
		return nil
	}

	txt, txtErr := parseTXT(txtStrings)

	var endpoints []ServiceEndpoint
	for _, srv := range srvs {
		addrs := g.addressesFor(srv.Target)
		if len(addrs) == 0 {
			continue
		}
		ep := ServiceEndpoint{
			InstanceName: instance.name,
			Host:         srv.Target,
			Port:         srv.Port,
			Priority:     srv.Priority,
			Weight:       srv.Weight,
			TXT:          txt,
			Addresses:    addrs,
			Interface:    g.iface,
			Err:          txtErr,
		}
		endpoints = append(endpoints, ep)
	}
	return endpoints
}

// parseTXT splits a TXT record's strings into DNS-SD attribute pairs
// (RFC 6763 §6.4): each string is either bare (a present, valueless
// attribute) or "key=value". An empty string is a no-op pad. A string
// beginning with '=' has no key and is a parse failure.
func parseTXT(strs []string) (map[string]string, error) {
	pairs := make(map[string]string, len(strs))
	for _, s := range strs {
		if s == "" {
			continue
		}
		idx := strings.IndexByte(s, '=')
		if idx < 0 {
			pairs[s] = ""
			continue
		}
		key := s[:idx]
		if key == "" {
			return nil, fmt.Errorf("graph: txt attribute has empty key: %q", s)
		}
		pairs[key] = s[idx+1:]
	}
	return pairs, nil
}

func (g *DnsDataGraph) addressesFor(host string) []net.IP {
	hostNode, ok := g.nodes[host]
	if !ok {
		return nil
	}
	var addrs []net.IP
	for _, r := range hostNode.records {
		switch rr := r.RR.(type) {
		case *dns.A:
			addrs = append(addrs, rr.A)
		case *dns.AAAA:
			addrs = append(addrs, rr.AAAA)
		}
	}
	return addrs
}

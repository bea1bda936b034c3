package mdns

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/folbricht/mdnsdisco/internal/taskrunner"
)

func srvRR(instance, host string, port, ttl uint16) dns.RR {
	return &dns.SRV{
		Hdr:    dns.RR_Header{Name: instance, Rrtype: dns.TypeSRV, Class: dns.ClassINET, Ttl: uint32(ttl)},
		Target: host,
		Port:   port,
	}
}

func txtRR(instance string, ttl uint32, txt ...string) dns.RR {
	return &dns.TXT{Hdr: dns.RR_Header{Name: instance, Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: ttl}, Txt: txt}
}

func TestDiscoveryBrowseResolvesFullChain(t *testing.T) {
	runner := taskrunner.NewFakeRunner(time.Unix(0, 0))
	sender := &fakeSender{}
	d := NewDiscovery(sender, runner, &fakeReporter{}, 1)

	require.NoError(t, d.Browse("_http._tcp.local."))
	runner.Drain()

	ptrMsg := new(dns.Msg)
	ptrMsg.Answer = []dns.RR{ptrRR("_http._tcp.local.", "foo._http._tcp.local.", 120)}
	d.Querier().OnMessageReceived(ptrMsg)
	runner.Drain()

	srvMsg := new(dns.Msg)
	srvMsg.Answer = []dns.RR{
		srvRR("foo._http._tcp.local.", "host.local.", 8080, 120),
		txtRR("foo._http._tcp.local.", 120, "path=/"),
	}
	d.Querier().OnMessageReceived(srvMsg)
	runner.Drain()

	addrMsg := new(dns.Msg)
	addrMsg.Answer = []dns.RR{aRR("host.local.", 120)}
	d.Querier().OnMessageReceived(addrMsg)

	endpoints, err := d.Endpoints("_http._tcp.local.")
	require.NoError(t, err)
	require.Len(t, endpoints, 1)
	assert.Equal(t, "foo._http._tcp.local.", endpoints[0].InstanceName)
	assert.Equal(t, "host.local.", endpoints[0].Host)
	assert.Equal(t, uint16(8080), endpoints[0].Port)
	assert.Equal(t, map[string]string{"path": "/"}, endpoints[0].TXT)
	assert.Equal(t, 1, endpoints[0].Interface)
	assert.NoError(t, endpoints[0].Err)
	require.Len(t, endpoints[0].Addresses, 1)
}

func TestDiscoveryEndpointsUnknownServiceType(t *testing.T) {
	runner := taskrunner.NewFakeRunner(time.Unix(0, 0))
	d := NewDiscovery(&fakeSender{}, runner, &fakeReporter{}, 1)
	_, err := d.Endpoints("_unbrowsed._tcp.local.")
	assert.Error(t, err)
}

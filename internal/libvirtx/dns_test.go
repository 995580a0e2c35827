package libvirtx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testNetworkXML = `
<network>
  <name>default</name>
  <domain name='example.local'/>
  <ip address='10.0.0.1' prefix='24'>
    <dhcp>
      <range start='10.0.0.128' end='10.0.0.254'/>
    </dhcp>
  </ip>
  <dns>
    <host ip='10.0.0.16'>
      <hostname>www.example.local</hostname>
      <hostname>web1.example.local</hostname>
    </host>
    <txt name='_verify.example.local' value='abc'/>
    <txt name='@@ns.sub.example.local' value='&quot;gw.example.local.&quot;'/>
    <srv service='ldap' protocol='tcp' priority='0' weight='0' port='389' target='ldap.example.local.'/>
  </dns>
</network>
`

func TestParseNetworkRecordExtraction(t *testing.T) {
	n, err := ParseNetwork(testNetworkXML)
	require.NoError(t, err)
	require.Equal(t, "example.local.", n.DNSDomain)

	records := n.Records()

	var a, txt, ns, srv *Record
	for i := range records {
		r := &records[i]
		switch {
		case r.Type == "A" && r.Name == "www.example.local.":
			a = r
		case r.Type == "TXT" && r.Name == "_verify.example.local.":
			txt = r
		case r.Type == "NS" && r.Name == "sub.example.local.":
			ns = r
		case r.Type == "SRV":
			srv = r
		}
	}

	require.NotNil(t, a)
	require.Equal(t, []string{"10.0.0.16"}, a.Values)

	require.NotNil(t, txt)
	require.Equal(t, []string{"abc"}, txt.Values)

	require.NotNil(t, ns)
	require.Equal(t, []string{"gw.example.local."}, ns.Values)

	require.NotNil(t, srv)
	require.Equal(t, "_ldap._tcp.example.local.", srv.Name)
	require.Equal(t, []string{"0 0 389 ldap.example.local."}, srv.Values)
}

func TestStaticRangeComputation(t *testing.T) {
	n, err := ParseNetwork(testNetworkXML)
	require.NoError(t, err)
	require.Equal(t, "10.0.0.2", n.StaticRangeStart.String())
	require.Equal(t, "10.0.0.127", n.StaticRangeEnd.String())
}

func TestRecordSetSortOrder(t *testing.T) {
	rs := RecordSet{
		{Name: "b.example.local.", Type: "A"},
		{Name: "a.example.local.", Type: "A"},
		{Name: "a.example.local.", Type: "AAAA"},
	}
	// FilterZone re-sorts internally, so route the records through it to
	// exercise Less/Swap without importing "sort" directly in the test.
	filtered := rs.FilterZone("example.local.", nil)
	// strip the synthesized SOA/NS
	var onlyAddr RecordSet
	for _, r := range filtered {
		if r.Type == "A" || r.Type == "AAAA" {
			onlyAddr = append(onlyAddr, r)
		}
	}
	require.Equal(t, RecordSet{
		{Name: "a.example.local.", Type: "A"},
		{Name: "b.example.local.", Type: "A"},
		{Name: "a.example.local.", Type: "AAAA"},
	}, onlyAddr)
}

func TestFilterZoneExcludesSubZone(t *testing.T) {
	rs := RecordSet{
		{Name: "www.example.local.", Type: "A", Values: []string{"10.0.0.1"}},
		{Name: "host.sub.example.local.", Type: "A", Values: []string{"10.0.0.2"}},
	}
	filtered := rs.FilterZone("example.local.", []string{"sub.example.local."})

	var names []string
	for _, r := range filtered {
		if r.Type == "A" {
			names = append(names, r.Name)
		}
	}
	require.Equal(t, []string{"www.example.local."}, names)
}

func TestInZone(t *testing.T) {
	require.True(t, InZone("www.example.local.", "example.local."))
	require.True(t, InZone("example.local.", "example.local."))
	require.False(t, InZone("example.org.", "example.local."))
}

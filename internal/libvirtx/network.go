package libvirtx

import (
	"encoding/xml"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
)

type networkXML struct {
	XMLName xml.Name `xml:"network"`
	Name    string   `xml:"name"`
	Domain  *struct {
		Name string `xml:"name,attr"`
	} `xml:"domain"`
	IP struct {
		Address string `xml:"address,attr"`
		Netmask string `xml:"netmask,attr"`
		Prefix  string `xml:"prefix,attr"`
		DHCP    struct {
			Range struct {
				Start string `xml:"start,attr"`
				End   string `xml:"end,attr"`
			} `xml:"range"`
			Hosts []struct {
				IP string `xml:"ip,attr"`
			} `xml:"host"`
		} `xml:"dhcp"`
	} `xml:"ip"`
	DNS struct {
		Hosts []dnsHostXML `xml:"host"`
		TXTs  []dnsTXTXML  `xml:"txt"`
		SRVs  []dnsSRVXML  `xml:"srv"`
	} `xml:"dns"`
}

type dnsHostXML struct {
	IP        string   `xml:"ip,attr"`
	Hostnames []string `xml:"hostname"`
}

type dnsTXTXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type dnsSRVXML struct {
	Service  string `xml:"service,attr"`
	Protocol string `xml:"protocol,attr"`
	Domain   string `xml:"domain,attr"`
	Priority string `xml:"priority,attr"`
	Weight   string `xml:"weight,attr"`
	Port     string `xml:"port,attr"`
	Target   string `xml:"target,attr"`
}

// Network is a typed view over a <network> definition.
type Network struct {
	Name string
	// DNSDomain is the normalized FQDN (trailing dot) of the network's DNS
	// domain, or "" if the network declares none.
	DNSDomain string

	// IPNet is the IPv4 network address/prefix.
	IPNet *net.IPNet
	// StaticRangeStart/End bound the addresses available for EIP/private-IP
	// assignment: above the network address, below the DHCP range start.
	StaticRangeStart net.IP
	StaticRangeEnd   net.IP
	// DHCPRangeStart is the first address handed out by DHCP; the static
	// range ends immediately below it.
	DHCPRangeStart net.IP

	records RecordSet
}

// Records returns the network's computed DNS record set (spec.md §4.4).
func (n *Network) Records() RecordSet {
	return n.records
}

var networkCache sync.Map // map[string]*Network

// ParseNetwork parses network XML text into a Network, memoized by input
// text.
func ParseNetwork(rawXML string) (*Network, error) {
	if cached, ok := networkCache.Load(rawXML); ok {
		return cached.(*Network), nil
	}

	var raw networkXML
	if err := xml.Unmarshal([]byte(rawXML), &raw); err != nil {
		return nil, fmt.Errorf("libvirtx: parse network xml: %w", err)
	}

	net := &Network{Name: raw.Name}
	if raw.Domain != nil {
		net.DNSDomain = normalizeFQDN(raw.Domain.Name)
	}

	if err := net.parseIPRange(raw); err != nil {
		return nil, err
	}
	net.records = buildRecordSet(raw, net.DNSDomain)

	networkCache.Store(rawXML, net)
	return net, nil
}

func (n *Network) parseIPRange(raw networkXML) error {
	if raw.IP.Address == "" {
		return nil
	}
	addr := netParseIP(raw.IP.Address)
	if addr == nil {
		return fmt.Errorf("libvirtx: invalid network address %q", raw.IP.Address)
	}

	var ipNet *net.IPNet
	if raw.IP.Prefix != "" {
		bits, err := strconv.Atoi(raw.IP.Prefix)
		if err != nil {
			return fmt.Errorf("libvirtx: invalid network prefix %q: %w", raw.IP.Prefix, err)
		}
		ipNet = &net.IPNet{IP: addr.Mask(net.CIDRMask(bits, 32)), Mask: net.CIDRMask(bits, 32)}
	} else if raw.IP.Netmask != "" {
		mask := net.IPMask(netParseIP(raw.IP.Netmask).To4())
		ipNet = &net.IPNet{IP: addr.Mask(mask), Mask: mask}
	} else {
		return fmt.Errorf("libvirtx: network %q declares neither prefix nor netmask", raw.Name)
	}
	n.IPNet = ipNet

	if raw.IP.DHCP.Range.Start != "" {
		n.DHCPRangeStart = netParseIP(raw.IP.DHCP.Range.Start)
	}
	if n.DHCPRangeStart != nil {
		n.StaticRangeStart = nextIP(ipNet.IP)
		n.StaticRangeEnd = prevIP(n.DHCPRangeStart)
	}
	return nil
}

func netParseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

func nextIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]++
		if out[i] != 0 {
			break
		}
	}
	return out
}

func prevIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	for i := len(out) - 1; i >= 0; i-- {
		out[i]--
		if out[i] != 0xff {
			break
		}
	}
	return out
}

func normalizeFQDN(name string) string {
	if name == "" {
		return ""
	}
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

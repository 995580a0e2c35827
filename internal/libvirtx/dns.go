package libvirtx

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// nsPrefix marks a TXT record as the NS side-channel (spec.md §4.4): a TXT
// record named "@@ns.<name>" is re-exposed as an NS record on <name>.
const nsPrefix = "@@ns."

// Record is a single DNS record: one name/type pair with its value set.
// Values holds one entry per A/AAAA address, one per TXT string, or one
// "prio weight port target" tuple per SRV target.
type Record struct {
	Name   string
	Type   string
	Values []string
}

// RecordSet is a network's full set of DNS records, sorted by
// (type, reversed-dotted-name) per spec.md §4.4.
type RecordSet []Record

func buildRecordSet(raw networkXML, domain string) RecordSet {
	byKey := make(map[[2]string]*Record)

	order := func(key [2]string) *Record {
		if r, ok := byKey[key]; ok {
			return r
		}
		r := &Record{Name: key[0], Type: key[1]}
		byKey[key] = r
		return r
	}

	for _, h := range raw.DNS.Hosts {
		rtype := "A"
		if strings.Contains(h.IP, ":") {
			rtype = "AAAA"
		}
		for _, hostname := range h.Hostnames {
			name := normalizeFQDN(hostname)
			r := order([2]string{name, rtype})
			r.Values = append(r.Values, h.IP)
		}
	}

	for _, t := range raw.DNS.TXTs {
		name := t.Name
		rtype := "TXT"
		if strings.HasPrefix(name, nsPrefix) {
			name = strings.TrimPrefix(name, nsPrefix)
			rtype = "NS"
			for _, target := range splitQuotedCSV(t.Value) {
				r := order([2]string{normalizeFQDN(name), rtype})
				r.Values = append(r.Values, target)
			}
			continue
		}
		r := order([2]string{normalizeFQDN(name), rtype})
		r.Values = append(r.Values, t.Value)
	}

	for _, s := range raw.DNS.SRVs {
		name := fmt.Sprintf("_%s._%s", s.Service, s.Protocol)
		if s.Domain != "" {
			name = name + "." + s.Domain
		} else if domain != "" {
			name = name + "." + strings.TrimSuffix(domain, ".")
		}
		priority := firstNonEmpty(s.Priority, "0")
		weight := firstNonEmpty(s.Weight, "0")
		port := firstNonEmpty(s.Port, "0")
		target := firstNonEmpty(s.Target, ".")
		value := fmt.Sprintf("%s %s %s %s", priority, weight, port, target)
		r := order([2]string{normalizeFQDN(name), "SRV"})
		r.Values = append(r.Values, value)
	}

	out := make(RecordSet, 0, len(byKey))
	for _, r := range byKey {
		out = append(out, *r)
	}
	sort.Sort(out)
	return out
}

func firstNonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// splitQuotedCSV splits a comma-separated list of double-quoted strings
// (the NS side-channel's TXT value format) back into bare targets.
func splitQuotedCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if unquoted, err := strconv.Unquote(p); err == nil {
			out = append(out, unquoted)
		} else {
			out = append(out, strings.Trim(p, `"`))
		}
	}
	return out
}

// joinQuotedCSV is splitQuotedCSV's inverse, used when writing the NS
// side-channel TXT value: sorted, comma-joined, double-quoted targets.
func joinQuotedCSV(targets []string) string {
	sorted := append([]string(nil), targets...)
	sort.Strings(sorted)
	quoted := make([]string, len(sorted))
	for i, t := range sorted {
		quoted[i] = strconv.Quote(t)
	}
	return strings.Join(quoted, ",")
}

// NSTXTValue exposes joinQuotedCSV for route53handlers building the
// @@ns. side-channel TXT when applying an NS change.
func NSTXTValue(targets []string) string {
	return joinQuotedCSV(targets)
}

// reversedName reverses the dot-separated labels of a DNS name, used as
// the sort/lookup key so that records sharing a parent domain sort
// adjacently (spec.md §4.4: "Sort order ... (type, reversed-dotted-name)").
func reversedName(name string) string {
	labels := strings.Split(strings.TrimSuffix(name, "."), ".")
	for i, j := 0, len(labels)-1; i < j; i, j = i+1, j-1 {
		labels[i], labels[j] = labels[j], labels[i]
	}
	return strings.Join(labels, ".")
}

func (rs RecordSet) Len() int      { return len(rs) }
func (rs RecordSet) Swap(i, j int) { rs[i], rs[j] = rs[j], rs[i] }
func (rs RecordSet) Less(i, j int) bool {
	if rs[i].Type != rs[j].Type {
		return rs[i].Type < rs[j].Type
	}
	return reversedName(rs[i].Name) < reversedName(rs[j].Name)
}

// sortKey is the (type, reversed-name) pair binary search operates on.
type sortKey struct {
	Type    string
	Reverse string
}

func (rs RecordSet) keyAt(i int) sortKey {
	return sortKey{Type: rs[i].Type, Reverse: reversedName(rs[i].Name)}
}

func (k sortKey) less(other sortKey) bool {
	if k.Type != other.Type {
		return k.Type < other.Type
	}
	return k.Reverse < other.Reverse
}

// SearchByNameAndType locates the first index whose (type, reversed-name)
// is >= the target key, for StartRecordName+StartRecordType pagination.
func (rs RecordSet) SearchByNameAndType(name, recordType string) int {
	target := sortKey{Type: recordType, Reverse: reversedName(name)}
	return sort.Search(len(rs), func(i int) bool {
		return !rs.keyAt(i).less(target)
	})
}

// SearchByName locates the first index whose name is >= the target name,
// ignoring type, for StartRecordName-only pagination.
func (rs RecordSet) SearchByName(name string) int {
	target := reversedName(name)
	return sort.Search(len(rs), func(i int) bool {
		return !(reversedName(rs[i].Name) < target)
	})
}

// InZone reports whether name is in zone (equal to it or a strict
// sub-domain), both FQDN form.
func InZone(name, zone string) bool {
	name, zone = normalizeFQDN(name), normalizeFQDN(zone)
	if name == zone {
		return true
	}
	return strings.HasSuffix(name, "."+zone)
}

// FilterZone returns records belonging to zone but not to any of the
// given nested sub-zones (spec.md §4.4's zone-listing filter), plus
// synthetic SOA/NS records for the zone.
func (rs RecordSet) FilterZone(zone string, subZones []string) RecordSet {
	zone = normalizeFQDN(zone)
	var out RecordSet
	out = append(out, soaNSRecords(zone)...)
	for _, r := range rs {
		if !InZone(r.Name, zone) {
			continue
		}
		excluded := false
		for _, sz := range subZones {
			sz = normalizeFQDN(sz)
			if sz == zone {
				continue
			}
			if InZone(r.Name, sz) {
				excluded = true
				break
			}
		}
		if !excluded {
			out = append(out, r)
		}
	}
	sort.Sort(out)
	return out
}

// soaNSRecords synthesizes the SOA and NS records spec.md §4.4 prepends
// for any zone listing: "gw.<domain> hostmaster.gw.<domain> 1 1200 180
// 1209600 600" and "gw.<domain>".
func soaNSRecords(zone string) RecordSet {
	base := strings.TrimSuffix(zone, ".")
	gw := "gw." + base + "."
	hostmaster := "hostmaster.gw." + base + "."
	return RecordSet{
		{Name: zone, Type: "SOA", Values: []string{
			fmt.Sprintf("%s %s 1 1200 180 1209600 600", gw, hostmaster),
		}},
		{Name: zone, Type: "NS", Values: []string{gw}},
	}
}

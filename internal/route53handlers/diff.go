package route53handlers

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/libvirtx"
	"github.com/libvirt-aws/libvirt-aws/internal/lvclient"
)

// recordKey identifies one (name, type) record-set slot in a working
// table, mirroring libvirtx.Record but keyed for map lookup.
type recordKey struct {
	Name string
	Type string
}

// recordTable is the mutable working view of a zone's records a change
// batch is applied against: one value set per (name, type).
type recordTable map[recordKey]map[string]bool

func normalizeName(name string) string {
	if name == "" || strings.HasSuffix(name, ".") {
		return name
	}
	return name + "."
}

func tableFromRecordSet(rs libvirtx.RecordSet) recordTable {
	t := make(recordTable, len(rs))
	for _, r := range rs {
		key := recordKey{Name: r.Name, Type: r.Type}
		set, ok := t[key]
		if !ok {
			set = make(map[string]bool, len(r.Values))
			t[key] = set
		}
		for _, v := range r.Values {
			set[v] = true
		}
	}
	return t
}

func cloneTable(t recordTable) recordTable {
	out := make(recordTable, len(t))
	for k, set := range t {
		s2 := make(map[string]bool, len(set))
		for v := range set {
			s2[v] = true
		}
		out[k] = s2
	}
	return out
}

func sameSet(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func sortedKeys(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// applyChangeBatch mutates a copy of old per spec.md §4.4's CREATE/
// DELETE/UPSERT rules, processed in order so a later change in the same
// batch sees the effect of an earlier one (spec.md §9: "last writer in a
// batch wins").
func applyChangeBatch(old recordTable, changes []changeXML) (recordTable, error) {
	t := cloneTable(old)
	for _, ch := range changes {
		name := normalizeName(ch.ResourceRecordSet.Name)
		typ := ch.ResourceRecordSet.Type
		if name == "" || typ == "" {
			return nil, apierror.InvalidInput("ResourceRecordSet requires Name and Type")
		}
		key := recordKey{Name: name, Type: typ}

		values := make(map[string]bool, len(ch.ResourceRecordSet.ResourceRecords.ResourceRecord))
		for _, rr := range ch.ResourceRecordSet.ResourceRecords.ResourceRecord {
			values[rr.Value] = true
		}

		switch ch.Action {
		case "CREATE":
			if _, exists := t[key]; exists {
				return nil, apierror.InvalidChangeBatch("%s record set for %s already exists", typ, name)
			}
			if len(values) == 0 {
				return nil, apierror.InvalidInput("CREATE requires at least one ResourceRecord")
			}
			t[key] = values
		case "DELETE":
			if !sameSet(t[key], values) {
				return nil, apierror.InvalidChangeBatch("%s record set for %s does not match the current records", typ, name)
			}
			delete(t, key)
		case "UPSERT":
			if len(values) == 0 {
				return nil, apierror.InvalidInput("UPSERT requires at least one ResourceRecord")
			}
			t[key] = values
		default:
			return nil, apierror.InvalidInput("unsupported Action %q", ch.Action)
		}
	}
	return t, nil
}

// netUpdateOp is one libvirt NetworkUpdateDNS call still to be applied.
type netUpdateOp struct {
	section     uint32
	xmlFragment string
}

var xmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;")

func esc(s string) string {
	return xmlEscaper.Replace(s)
}

func hostXML(ip string, names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	var b strings.Builder
	b.WriteString(`<host ip="`)
	b.WriteString(esc(ip))
	b.WriteString(`">`)
	for _, n := range sorted {
		b.WriteString("<hostname>")
		b.WriteString(esc(strings.TrimSuffix(n, ".")))
		b.WriteString("</hostname>")
	}
	b.WriteString("</host>")
	return b.String()
}

func txtXML(name, value string) string {
	return fmt.Sprintf(`<txt name="%s" value="%s"/>`, esc(strings.TrimSuffix(name, ".")), esc(value))
}

func nsTXTXML(name string, targets []string) string {
	return txtXML("@@ns."+strings.TrimSuffix(name, "."), libvirtx.NSTXTValue(targets))
}

// srvXML rebuilds a <srv> fragment from a table key's name ("_svc._proto
// [.domain]") and one "priority weight port target" value tuple.
func srvXML(name, value string) string {
	trimmed := strings.TrimSuffix(name, ".")
	parts := strings.SplitN(trimmed, ".", 3)
	service := strings.TrimPrefix(valueAt(parts, 0), "_")
	protocol := strings.TrimPrefix(valueAt(parts, 1), "_")
	domain := valueAt(parts, 2)

	fields := strings.Fields(value)
	priority, weight, port, target := "0", "0", "0", "."
	if len(fields) == 4 {
		priority, weight, port, target = fields[0], fields[1], fields[2], fields[3]
	}

	var b strings.Builder
	fmt.Fprintf(&b, `<srv service="%s" protocol="%s"`, esc(service), esc(protocol))
	if domain != "" {
		fmt.Fprintf(&b, ` domain="%s"`, esc(domain))
	}
	fmt.Fprintf(&b, ` priority="%s" weight="%s" port="%s" target="%s"/>`, priority, weight, port, esc(target))
	return b.String()
}

func valueAt(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

// namesAtIP maps every IP address appearing in an A/AAAA slice of a table
// to the set of names pointed at it, the grouping libvirt's <host>
// element needs (spec.md §4.4 rule 1).
func namesAtIP(t recordTable) map[string][]string {
	out := make(map[string][]string)
	for key, set := range t {
		if key.Type != "A" && key.Type != "AAAA" {
			continue
		}
		for ip := range set {
			out[ip] = append(out[ip], key.Name)
		}
	}
	return out
}

// sameNameSet reports whether two name slices contain the same names,
// ignoring order.
func sameNameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]bool, len(a))
	for _, n := range a {
		set[n] = true
	}
	for _, n := range b {
		if !set[n] {
			return false
		}
	}
	return true
}

// computeDiff compares the old and new record tables and returns the
// libvirt NetworkUpdateDNS operations needed to reconcile them, applying
// spec.md §4.4's five rules: host records are reconciled per-IP, CNAME is
// resolved and folded into the host reconciliation (lossy: a CNAME change
// that resolves differently later is not retroactively corrected), and
// TXT/NS/SRV are each deleted-then-added per changed key.
func computeDiff(ctx context.Context, old, newT recordTable) (deletes, adds []netUpdateOp) {
	keys := make(map[recordKey]bool, len(old)+len(newT))
	for k := range old {
		keys[k] = true
	}
	for k := range newT {
		keys[k] = true
	}

	for key := range keys {
		if key.Type == "A" || key.Type == "AAAA" || key.Type == "CNAME" {
			continue // reconciled wholesale below, per affected IP
		}
		oldSet, newSet := old[key], newT[key]
		if sameSet(oldSet, newSet) {
			continue
		}
		switch key.Type {
		case "TXT":
			for _, v := range sortedKeys(oldSet) {
				deletes = append(deletes, netUpdateOp{lvclient.SectionDNSTXT, txtXML(key.Name, v)})
			}
			for _, v := range sortedKeys(newSet) {
				adds = append(adds, netUpdateOp{lvclient.SectionDNSTXT, txtXML(key.Name, v)})
			}
		case "NS":
			if len(oldSet) > 0 {
				deletes = append(deletes, netUpdateOp{lvclient.SectionDNSTXT, nsTXTXML(key.Name, sortedKeys(oldSet))})
			}
			if len(newSet) > 0 {
				adds = append(adds, netUpdateOp{lvclient.SectionDNSTXT, nsTXTXML(key.Name, sortedKeys(newSet))})
			}
		case "SRV":
			for _, v := range sortedKeys(oldSet) {
				deletes = append(deletes, netUpdateOp{lvclient.SectionDNSSRV, srvXML(key.Name, v)})
			}
			for _, v := range sortedKeys(newSet) {
				adds = append(adds, netUpdateOp{lvclient.SectionDNSSRV, srvXML(key.Name, v)})
			}
		}
	}

	oldHosts := namesAtIP(old)
	newHosts := namesAtIP(newT)

	// Fold CNAME targets (spec.md §4.4 rule 2: "treated as resolve-to-A")
	// into the new grouping; CNAME never persists as a libvirt-native
	// record, so only the new side needs folding.
	resolver := net.DefaultResolver
	for key, set := range newT {
		if key.Type != "CNAME" {
			continue
		}
		for target := range set {
			ipList, err := resolver.LookupHost(ctx, strings.TrimSuffix(target, "."))
			if err != nil {
				continue
			}
			for _, ip := range ipList {
				newHosts[ip] = append(newHosts[ip], key.Name)
			}
		}
	}

	ips := make(map[string]bool, len(oldHosts)+len(newHosts))
	for ip := range oldHosts {
		ips[ip] = true
	}
	for ip := range newHosts {
		ips[ip] = true
	}
	for ip := range ips {
		before, after := oldHosts[ip], newHosts[ip]
		if sameNameSet(before, after) {
			continue
		}
		if len(before) > 0 {
			deletes = append(deletes, netUpdateOp{lvclient.SectionDNSHost, hostXML(ip, before)})
		}
		if len(after) > 0 {
			adds = append(adds, netUpdateOp{lvclient.SectionDNSHost, hostXML(ip, after)})
		}
	}

	return deletes, adds
}

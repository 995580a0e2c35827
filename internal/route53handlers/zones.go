package route53handlers

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/ids"
	"github.com/libvirt-aws/libvirt-aws/internal/libvirtx"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// zoneRow is one hosted zone, primary or sub-zone, in a form both
// ListHostedZones and ListHostedZonesByName can render from.
type zoneRow struct {
	ID      string
	Name    string
	Comment string
	Count   int
}

// subZoneNames returns every persisted sub-zone's name, the exclusion list
// libvirtx.RecordSet.FilterZone needs so a parent zone's listing doesn't
// also show its children's records (spec.md §4.4).
func (e *Engine) subZoneNames(ctx context.Context) ([]string, error) {
	zones, err := store.ListZones(ctx, e.Store.DB())
	if err != nil {
		return nil, apierror.Internal("list hosted zones: %s", err)
	}
	names := make([]string, len(zones))
	for i, z := range zones {
		names[i] = z.Name
	}
	return names, nil
}

// zoneRows returns the primary zone plus every persisted sub-zone, each
// with its filtered record count.
func (e *Engine) zoneRows(ctx context.Context, netw *libvirtx.Network) ([]zoneRow, error) {
	if netw.DNSDomain == "" {
		return nil, apierror.Internal("libvirt network does not define a domain")
	}

	zones, err := store.ListZones(ctx, e.Store.DB())
	if err != nil {
		return nil, apierror.Internal("list hosted zones: %s", err)
	}
	subZoneNames := make([]string, len(zones))
	for i, z := range zones {
		subZoneNames[i] = z.Name
	}

	records := netw.Records()
	rows := []zoneRow{{
		ID:    netw.Name,
		Name:  netw.DNSDomain,
		Count: len(records.FilterZone(netw.DNSDomain, subZoneNames)),
	}}
	for _, z := range zones {
		rows = append(rows, zoneRow{
			ID:      z.ID,
			Name:    z.Name,
			Comment: nullStr(z.Comment),
			Count:   len(records.FilterZone(z.Name, subZoneNames)),
		})
	}
	return rows, nil
}

func hostedZoneElement(row zoneRow) *xmlresp.Element {
	hz := xmlresp.El("HostedZone")
	hz.Field("Id", "/hostedzone/"+row.ID)
	hz.Field("Name", row.Name)
	cfg := xmlresp.El("Config")
	cfg.Field("Comment", row.Comment)
	cfg.Field("PrivateZone", "false")
	hz.Child(cfg)
	hz.Field("ResourceRecordSetCount", strconv.Itoa(row.Count))
	return hz
}

// zoneNameAndComment resolves a hosted zone id (the network's own name for
// the primary zone, or a persisted sub-zone id) to its domain name and
// comment.
func (e *Engine) zoneNameAndComment(ctx context.Context, id string, netw *libvirtx.Network) (name, comment string, err error) {
	if id == netw.Name {
		if netw.DNSDomain == "" {
			return "", "", apierror.Internal("libvirt network does not define a domain")
		}
		return netw.DNSDomain, "libvirt network zone", nil
	}
	z, err := store.GetZone(ctx, e.Store.DB(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", apierror.NoSuchHostedZone("zone %s does not exist", id)
		}
		return "", "", apierror.Internal("lookup zone: %s", err)
	}
	return z.Name, nullStr(z.Comment), nil
}

// ListHostedZones lists the primary zone and every persisted sub-zone.
func (e *Engine) ListHostedZones(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	rows, err := e.zoneRows(ctx, netw)
	if err != nil {
		return nil, err
	}

	var items []*xmlresp.Element
	for _, row := range rows {
		items = append(items, hostedZoneElement(row))
	}

	c := xmlresp.El("")
	c.List("HostedZones", xmlresp.Condensed, items)
	c.Field("IsTruncated", "false")
	return c, nil
}

// ListHostedZonesByName lists hosted zones in name order, optionally
// starting at the zone named by the dnsname query parameter. Not part of
// the original implementation, which served only a single fixed zone;
// added so a client enumerating zones by name (the normal Route 53
// workflow once sub-zones exist) gets the real AWS shape back.
func (e *Engine) ListHostedZonesByName(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	rows, err := e.zoneRows(ctx, netw)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Name < rows[j].Name })

	if dnsName := str(args, "dnsname"); dnsName != "" {
		start := strings.TrimSuffix(dnsName, ".") + "."
		filtered := rows[:0:0]
		for _, row := range rows {
			if row.Name >= start {
				filtered = append(filtered, row)
			}
		}
		rows = filtered
	}

	var items []*xmlresp.Element
	for _, row := range rows {
		items = append(items, hostedZoneElement(row))
	}

	c := xmlresp.El("")
	c.List("HostedZones", xmlresp.Condensed, items)
	c.Field("IsTruncated", "false")
	return c, nil
}

// GetHostedZone returns one hosted zone's details and its (synthetic,
// fixed) delegation set.
func (e *Engine) GetHostedZone(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	zoneID, err := requireStr(args, "Id")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	name, comment, err := e.zoneNameAndComment(ctx, zoneID, netw)
	if err != nil {
		return nil, err
	}
	subZones, err := e.subZoneNames(ctx)
	if err != nil {
		return nil, err
	}
	count := len(netw.Records().FilterZone(name, subZones))

	c := xmlresp.El("")
	c.Child(hostedZoneElement(zoneRow{ID: zoneID, Name: name, Comment: comment, Count: count}))

	base := strings.TrimSuffix(name, ".")
	ds := xmlresp.El("DelegationSet")
	nsEl := xmlresp.El("x").Text("gw." + base)
	ds.List("NameServers", xmlresp.Condensed, []*xmlresp.Element{nsEl})
	c.Child(ds)
	return c, nil
}

// CreateHostedZone creates a virtual sub-zone nested under the libvirt
// network's domain (spec.md §8 scenario 2). The original implementation
// served only the network's own fixed zone; this is a spec-only addition
// layered on the persisted dns_zones table.
func (e *Engine) CreateHostedZone(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	name, err := requireStr(args, "Name")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	if netw.DNSDomain == "" {
		return nil, apierror.Internal("libvirt network does not define a domain")
	}

	fqdn := name
	if !strings.HasSuffix(fqdn, ".") {
		fqdn += "."
	}
	if fqdn == netw.DNSDomain || !strings.HasSuffix(fqdn, "."+netw.DNSDomain) {
		return nil, apierror.InvalidParameterValue("hosted zone name %s must be a sub-domain of %s", name, netw.DNSDomain)
	}

	comment := ""
	if cfg, ok := args["HostedZoneConfig"].(map[string]any); ok {
		comment = str(cfg, "Comment")
	}

	id := ids.HostedZoneID()
	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertZone(ctx, tx, id, fqdn, comment)
	}); err != nil {
		return nil, apierror.Internal("create hosted zone: %s", err)
	}

	c := xmlresp.El("")
	c.Child(hostedZoneElement(zoneRow{ID: id, Name: fqdn, Comment: comment}))
	ci := xmlresp.El("ChangeInfo")
	ci.Field("Id", ids.ChangeID())
	ci.Field("Status", "INSYNC")
	ci.Field("SubmittedAt", time.Now().UTC().Format(time.RFC3339))
	c.Child(ci)
	return c, nil
}

// UpdateHostedZoneComment updates a sub-zone's comment. The primary zone's
// comment is fixed since it has no backing dns_zones row.
func (e *Engine) UpdateHostedZoneComment(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	zoneID, err := requireStr(args, "Id")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	comment := str(args, "Comment")

	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	if zoneID == netw.Name {
		return nil, apierror.InvalidParameterValue("the primary zone's comment cannot be changed")
	}

	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.UpdateZoneComment(ctx, tx, zoneID, comment)
	}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierror.NoSuchHostedZone("zone %s does not exist", zoneID)
		}
		return nil, apierror.Internal("update hosted zone: %s", err)
	}

	z, err := store.GetZone(ctx, e.Store.DB(), zoneID)
	if err != nil {
		return nil, apierror.Internal("reload zone: %s", err)
	}

	c := xmlresp.El("")
	c.Child(hostedZoneElement(zoneRow{ID: zoneID, Name: z.Name, Comment: comment}))
	return c, nil
}

// DeleteHostedZone removes a sub-zone, refusing while it still holds
// records beyond the synthetic SOA/NS pair every zone listing carries.
func (e *Engine) DeleteHostedZone(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	zoneID, err := requireStr(args, "Id")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	if zoneID == netw.Name {
		return nil, apierror.InvalidParameterValue("the primary zone cannot be deleted")
	}

	z, err := store.GetZone(ctx, e.Store.DB(), zoneID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierror.NoSuchHostedZone("zone %s does not exist", zoneID)
		}
		return nil, apierror.Internal("lookup zone: %s", err)
	}

	subZones, err := e.subZoneNames(ctx)
	if err != nil {
		return nil, err
	}
	realRecords := 0
	for _, r := range netw.Records().FilterZone(z.Name, subZones) {
		if r.Type != "SOA" && r.Type != "NS" {
			realRecords++
		}
	}
	if realRecords > 0 {
		return nil, apierror.HostedZoneNotEmpty("zone %s still has %d resource record set(s)", zoneID, realRecords)
	}

	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.DeleteZone(ctx, tx, zoneID)
	}); err != nil {
		return nil, apierror.Internal("delete hosted zone: %s", err)
	}

	c := xmlresp.El("")
	ci := xmlresp.El("ChangeInfo")
	ci.Field("Id", ids.ChangeID())
	ci.Field("Status", "INSYNC")
	ci.Field("SubmittedAt", time.Now().UTC().Format(time.RFC3339))
	c.Child(ci)
	return c, nil
}

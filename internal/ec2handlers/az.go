package ec2handlers

import (
	"context"

	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// azSuffixes synthesizes availability zones as "<region>{a,b,c}" per
// spec.md's glossary entry for AZ.
var azSuffixes = []string{"a", "b", "c"}

// AvailabilityZones returns the synthesized zone names for cfg.Region.
func (e *Engine) AvailabilityZones() []string {
	zones := make([]string, len(azSuffixes))
	for i, s := range azSuffixes {
		zones[i] = e.Cfg.Region + s
	}
	return zones
}

// DescribeAvailabilityZones lists the synthesized zones for the configured
// region, all reported "available".
func (e *Engine) DescribeAvailabilityZones(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	var items []*xmlresp.Element
	for _, zone := range e.AvailabilityZones() {
		item := xmlresp.El("item")
		item.Field("zoneName", zone)
		item.Field("zoneState", "available")
		item.Field("regionName", e.Cfg.Region)
		items = append(items, item)
	}
	c := xmlresp.El("")
	c.List("availabilityZoneInfo", xmlresp.Expanded, items)
	return c, nil
}

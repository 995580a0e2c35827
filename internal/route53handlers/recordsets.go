package route53handlers

import (
	"context"
	"database/sql"
	"encoding/xml"
	"strconv"
	"time"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/ids"
	"github.com/libvirt-aws/libvirt-aws/internal/lvclient"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// ListResourceRecordSets lists a zone's records in (type, reversed-name)
// order, paginated by name/type per spec.md §4.4.
func (e *Engine) ListResourceRecordSets(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	zoneID, err := requireStr(args, "Id")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	zoneName, _, err := e.zoneNameAndComment(ctx, zoneID, netw)
	if err != nil {
		return nil, err
	}
	subZones, err := e.subZoneNames(ctx)
	if err != nil {
		return nil, err
	}
	records := netw.Records().FilterZone(zoneName, subZones)

	name := str(args, "name")
	recType := str(args, "type")
	if recType != "" && name == "" {
		return nil, apierror.InvalidInput("StartRecordType requires StartRecordName")
	}

	offset := 0
	switch {
	case name != "" && recType != "":
		offset = records.SearchByNameAndType(name, recType)
	case name != "":
		offset = records.SearchByName(name)
	}

	limit := len(records)
	if raw := str(args, "maxitems"); raw != "" {
		n, convErr := strconv.Atoi(raw)
		if convErr != nil || n <= 0 {
			return nil, apierror.InvalidInput("invalid MaxItems value %q", raw)
		}
		limit = n
	}

	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	if offset > len(records) {
		offset = len(records)
	}
	page := records[offset:end]

	var items []*xmlresp.Element
	for _, r := range page {
		item := xmlresp.El("ResourceRecordSet")
		item.Field("Name", r.Name)
		item.Field("Type", r.Type)
		item.Field("TTL", "300")
		var rrItems []*xmlresp.Element
		for _, v := range r.Values {
			rr := xmlresp.El("ResourceRecord")
			rr.Field("Value", v)
			rrItems = append(rrItems, rr)
		}
		item.List("ResourceRecords", xmlresp.Condensed, rrItems)
		items = append(items, item)
	}

	c := xmlresp.El("")
	c.List("ResourceRecordSets", xmlresp.Condensed, items)
	c.Field("IsTruncated", boolStr(end < len(records)))
	if end < len(records) {
		next := records[end]
		c.Field("NextRecordName", next.Name)
		c.Field("NextRecordType", next.Type)
	}
	return c, nil
}

func boolStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// changeBatchRequest is the body of ChangeResourceRecordSets.
type changeBatchRequest struct {
	XMLName     xml.Name `xml:"ChangeResourceRecordSetsRequest"`
	ChangeBatch struct {
		Comment string `xml:"Comment"`
		Changes struct {
			Change []changeXML `xml:"Change"`
		} `xml:"Changes"`
	} `xml:"ChangeBatch"`
}

type changeXML struct {
	Action            string `xml:"Action"`
	ResourceRecordSet struct {
		Name            string `xml:"Name"`
		Type            string `xml:"Type"`
		ResourceRecords struct {
			ResourceRecord []struct {
				Value string `xml:"Value"`
			} `xml:"ResourceRecord"`
		} `xml:"ResourceRecords"`
	} `xml:"ResourceRecordSet"`
}

// ChangeResourceRecordSets applies a batch of CREATE/DELETE/UPSERT changes
// to the zone's record set, diffs the result against the network's
// current live DNS configuration, and pushes the delta via
// NetworkUpdateDNS (spec.md §4.4).
func (e *Engine) ChangeResourceRecordSets(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	zoneID, err := requireStr(args, "Id")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	if _, _, err := e.zoneNameAndComment(ctx, zoneID, netw); err != nil {
		return nil, err
	}

	bodyText := str(args, "BodyText")
	var req changeBatchRequest
	if err := xml.Unmarshal([]byte(bodyText), &req); err != nil {
		return nil, apierror.InvalidInput("input is not valid: %s", err)
	}
	if len(req.ChangeBatch.Changes.Change) == 0 {
		return nil, apierror.InvalidInput("ChangeBatch must contain at least one change")
	}

	oldTable := tableFromRecordSet(netw.Records())
	newTable, err := applyChangeBatch(oldTable, req.ChangeBatch.Changes.Change)
	if err != nil {
		return nil, err
	}

	deletes, adds := computeDiff(ctx, oldTable, newTable)
	for _, op := range deletes {
		if err := e.Conn.NetworkUpdateDNS(lvclient.UpdateCommandDelete, op.section, op.xmlFragment); err != nil {
			return nil, apierror.Internal("apply dns delete: %s", err)
		}
	}
	for _, op := range adds {
		if err := e.Conn.NetworkUpdateDNS(lvclient.UpdateCommandAddLast, op.section, op.xmlFragment); err != nil {
			return nil, apierror.Internal("apply dns add: %s", err)
		}
	}

	changeID := ids.ChangeID()
	submittedAt := time.Now().UTC().Format(time.RFC3339)
	comment := req.ChangeBatch.Comment
	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertChange(ctx, tx, changeID, submittedAt, comment)
	}); err != nil {
		return nil, apierror.Internal("record change: %s", err)
	}

	c := xmlresp.El("")
	ci := xmlresp.El("ChangeInfo")
	ci.Field("Id", changeID)
	ci.Field("Status", "INSYNC")
	ci.Field("SubmittedAt", submittedAt)
	if comment != "" {
		ci.Field("Comment", comment)
	}
	c.Child(ci)
	return c, nil
}

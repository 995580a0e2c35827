package route53handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/config"
	"github.com/libvirt-aws/libvirt-aws/internal/libvirtx"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// newTestEngine builds an Engine over an in-memory store, suitable for
// handlers that never touch the libvirt connection.
func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	st, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return New(st, nil, config.NewDefault(), zap.NewNop())
}

func renderedXML(t *testing.T, el *xmlresp.Element) string {
	t.Helper()
	el.Name = "root"
	b, err := xmlresp.Render(el, "")
	require.NoError(t, err)
	return string(b)
}

func rrChange(action, name, typ string, values ...string) changeXML {
	var ch changeXML
	ch.Action = action
	ch.ResourceRecordSet.Name = name
	ch.ResourceRecordSet.Type = typ
	for _, v := range values {
		ch.ResourceRecordSet.ResourceRecords.ResourceRecord = append(
			ch.ResourceRecordSet.ResourceRecords.ResourceRecord, struct {
				Value string `xml:"Value"`
			}{Value: v})
	}
	return ch
}

func TestTableFromRecordSetRoundTrip(t *testing.T) {
	rs := libvirtx.RecordSet{
		{Name: "www.example.local.", Type: "A", Values: []string{"192.168.122.10"}},
		{Name: "www.example.local.", Type: "A", Values: []string{"192.168.122.11"}},
	}
	// buildRecordSet never emits two Records for the same key, but the
	// table builder must still union values correctly if it did.
	tbl := tableFromRecordSet(rs)
	key := recordKey{Name: "www.example.local.", Type: "A"}
	require.Contains(t, tbl, key)
	assert.True(t, tbl[key]["192.168.122.10"] || tbl[key]["192.168.122.11"])
}

func TestApplyChangeBatchCreate(t *testing.T) {
	old := recordTable{}
	changes := []changeXML{rrChange("CREATE", "www.example.local.", "A", "192.168.122.10")}
	newT, err := applyChangeBatch(old, changes)
	require.NoError(t, err)
	key := recordKey{Name: "www.example.local.", Type: "A"}
	assert.True(t, newT[key]["192.168.122.10"])
}

func TestApplyChangeBatchCreateConflict(t *testing.T) {
	old := recordTable{
		{Name: "www.example.local.", Type: "A"}: {"192.168.122.10": true},
	}
	_, err := applyChangeBatch(old, []changeXML{rrChange("CREATE", "www.example.local.", "A", "192.168.122.11")})
	require.Error(t, err)
}

func TestApplyChangeBatchDeleteMustMatch(t *testing.T) {
	old := recordTable{
		{Name: "www.example.local.", Type: "A"}: {"192.168.122.10": true},
	}
	_, err := applyChangeBatch(old, []changeXML{rrChange("DELETE", "www.example.local.", "A", "192.168.122.11")})
	require.Error(t, err)

	newT, err := applyChangeBatch(old, []changeXML{rrChange("DELETE", "www.example.local.", "A", "192.168.122.10")})
	require.NoError(t, err)
	assert.Empty(t, newT)
}

func TestApplyChangeBatchUpsertOverwrites(t *testing.T) {
	old := recordTable{
		{Name: "www.example.local.", Type: "A"}: {"192.168.122.10": true},
	}
	newT, err := applyChangeBatch(old, []changeXML{rrChange("UPSERT", "www.example.local.", "A", "192.168.122.20")})
	require.NoError(t, err)
	key := recordKey{Name: "www.example.local.", Type: "A"}
	assert.True(t, newT[key]["192.168.122.20"])
	assert.False(t, newT[key]["192.168.122.10"])
}

func TestApplyChangeBatchLastWriterWins(t *testing.T) {
	old := recordTable{}
	changes := []changeXML{
		rrChange("UPSERT", "www.example.local.", "A", "192.168.122.10"),
		rrChange("UPSERT", "www.example.local.", "A", "192.168.122.20"),
	}
	newT, err := applyChangeBatch(old, changes)
	require.NoError(t, err)
	key := recordKey{Name: "www.example.local.", Type: "A"}
	assert.True(t, newT[key]["192.168.122.20"])
	assert.False(t, newT[key]["192.168.122.10"])
}

func TestComputeDiffHostChange(t *testing.T) {
	old := recordTable{
		{Name: "www.example.local.", Type: "A"}: {"192.168.122.10": true},
	}
	newT := recordTable{
		{Name: "www.example.local.", Type: "A"}: {"192.168.122.20": true},
	}
	deletes, adds := computeDiff(context.Background(), old, newT)
	require.Len(t, deletes, 1)
	require.Len(t, adds, 1)
	assert.Contains(t, deletes[0].xmlFragment, `ip="192.168.122.10"`)
	assert.Contains(t, adds[0].xmlFragment, `ip="192.168.122.20"`)
}

func TestComputeDiffHostSharedIPUnaffected(t *testing.T) {
	// Two names share one IP; only one of them changes. The unaffected
	// name must survive in the re-added host block.
	old := recordTable{
		{Name: "a.example.local.", Type: "A"}: {"192.168.122.10": true},
		{Name: "b.example.local.", Type: "A"}: {"192.168.122.10": true},
	}
	newT := recordTable{
		{Name: "a.example.local.", Type: "A"}: {"192.168.122.20": true},
		{Name: "b.example.local.", Type: "A"}: {"192.168.122.10": true},
	}
	deletes, adds := computeDiff(context.Background(), old, newT)
	require.Len(t, deletes, 1)
	require.Len(t, adds, 2)
	var sawOld10, sawNew10, sawNew20 bool
	for _, d := range deletes {
		if d.xmlFragment == hostXML("192.168.122.10", []string{"a.example.local.", "b.example.local."}) {
			sawOld10 = true
		}
	}
	for _, a := range adds {
		if a.xmlFragment == hostXML("192.168.122.10", []string{"b.example.local."}) {
			sawNew10 = true
		}
		if a.xmlFragment == hostXML("192.168.122.20", []string{"a.example.local."}) {
			sawNew20 = true
		}
	}
	assert.True(t, sawOld10)
	assert.True(t, sawNew10)
	assert.True(t, sawNew20)
}

func TestComputeDiffTXT(t *testing.T) {
	old := recordTable{
		{Name: "_acme.example.local.", Type: "TXT"}: {"old-value": true},
	}
	newT := recordTable{
		{Name: "_acme.example.local.", Type: "TXT"}: {"new-value": true},
	}
	deletes, adds := computeDiff(context.Background(), old, newT)
	require.Len(t, deletes, 1)
	require.Len(t, adds, 1)
	assert.Contains(t, deletes[0].xmlFragment, "old-value")
	assert.Contains(t, adds[0].xmlFragment, "new-value")
}

func TestComputeDiffNS(t *testing.T) {
	old := recordTable{}
	newT := recordTable{
		{Name: "sub.example.local.", Type: "NS"}: {"ns1.example.local.": true, "ns2.example.local.": true},
	}
	_, adds := computeDiff(context.Background(), old, newT)
	require.Len(t, adds, 1)
	assert.Contains(t, adds[0].xmlFragment, `name="@@ns.sub.example.local"`)
	assert.Contains(t, adds[0].xmlFragment, "ns1.example.local.")
	assert.Contains(t, adds[0].xmlFragment, "ns2.example.local.")
}

func TestComputeDiffSRV(t *testing.T) {
	old := recordTable{}
	newT := recordTable{
		{Name: "_http._tcp.example.local.", Type: "SRV"}: {"10 20 8080 target.example.local.": true},
	}
	_, adds := computeDiff(context.Background(), old, newT)
	require.Len(t, adds, 1)
	frag := adds[0].xmlFragment
	assert.Contains(t, frag, `service="http"`)
	assert.Contains(t, frag, `protocol="tcp"`)
	assert.Contains(t, frag, `priority="10"`)
	assert.Contains(t, frag, `port="8080"`)
}

func TestComputeDiffNoChangeIsNoOp(t *testing.T) {
	tbl := recordTable{
		{Name: "www.example.local.", Type: "A"}: {"192.168.122.10": true},
	}
	deletes, adds := computeDiff(context.Background(), tbl, cloneTable(tbl))
	assert.Empty(t, deletes)
	assert.Empty(t, adds)
}

func TestGetChangeNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.GetChange(context.Background(), map[string]any{"Id": "does-not-exist"})
	require.Error(t, err)
}

func TestChangeTagsAndListTagsForResource(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	body := `<ChangeTagsForResourceRequest><AddTags><Tag><Key>Env</Key><Value>prod</Value></Tag></AddTags></ChangeTagsForResourceRequest>`
	_, err := e.ChangeTagsForResource(ctx, map[string]any{
		"ResourceType": "hostedzone",
		"ResourceId":   "zone-1",
		"BodyText":     body,
	})
	require.NoError(t, err)

	el, err := e.ListTagsForResource(ctx, map[string]any{
		"ResourceType": "hostedzone",
		"ResourceId":   "zone-1",
	})
	require.NoError(t, err)
	xml := renderedXML(t, el)
	assert.Contains(t, xml, "<Key>Env</Key>")
	assert.Contains(t, xml, "<Value>prod</Value>")

	removeBody := `<ChangeTagsForResourceRequest><RemoveTagKeys><Key>Env</Key></RemoveTagKeys></ChangeTagsForResourceRequest>`
	_, err = e.ChangeTagsForResource(ctx, map[string]any{
		"ResourceType": "hostedzone",
		"ResourceId":   "zone-1",
		"BodyText":     removeBody,
	})
	require.NoError(t, err)

	el, err = e.ListTagsForResource(ctx, map[string]any{
		"ResourceType": "hostedzone",
		"ResourceId":   "zone-1",
	})
	require.NoError(t, err)
	assert.NotContains(t, renderedXML(t, el), "<Key>Env</Key>")
}

func TestListTagsForResourceRejectsUnsupportedType(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.ListTagsForResource(context.Background(), map[string]any{
		"ResourceType": "instance",
		"ResourceId":   "i-abc123",
	})
	require.Error(t, err)
}

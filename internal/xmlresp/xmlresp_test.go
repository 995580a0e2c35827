package xmlresp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRenderScalarFields(t *testing.T) {
	root := El("AllocateAddressResponse")
	root.Field("publicIp", "10.0.0.16")
	root.Field("allocationId", "eipalloc-abc")

	out, err := Render(root, "http://ec2.amazonaws.com/doc/2016-11-15/")
	require.NoError(t, err)
	s := string(out)
	require.Contains(t, s, `<AllocateAddressResponse xmlns="http://ec2.amazonaws.com/doc/2016-11-15/">`)
	require.Contains(t, s, `<publicIp>10.0.0.16</publicIp>`)
	require.Contains(t, s, `<allocationId>eipalloc-abc</allocationId>`)
}

func TestRenderExpandedList(t *testing.T) {
	root := El("DescribeInstancesResponse")
	root.List("instancesSet", Expanded, []*Element{
		El("").Field("instanceId", "i-1"),
		El("").Field("instanceId", "i-2"),
	})

	out, err := Render(root, "")
	require.NoError(t, err)
	s := string(out)
	require.Contains(t, s, "<instancesSet><item><instanceId>i-1</instanceId></item><item><instanceId>i-2</instanceId></item></instancesSet>")
}

func TestRenderCondensedList(t *testing.T) {
	root := El("DescribeTagsResponse")
	root.List("Tags", Condensed, []*Element{
		El("").Field("Key", "Name"),
	})

	out, err := Render(root, "")
	require.NoError(t, err)
	require.Contains(t, string(out), "<Tags><Tag><Key>Name</Key></Tag></Tags>")
}

func TestRenderEscapesText(t *testing.T) {
	root := El("Message")
	root.Text("a & b < c")
	out, err := Render(root, "")
	require.NoError(t, err)
	require.Contains(t, string(out), "a &amp; b &lt; c")
}

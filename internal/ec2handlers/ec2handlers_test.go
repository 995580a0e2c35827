package ec2handlers

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/argdecoder"
	"github.com/libvirt-aws/libvirt-aws/internal/config"
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

	cfg := config.NewDefault()
	return New(st, nil, nil, cfg, zap.NewNop())
}

func sparseList(values ...string) *argdecoder.SparseList {
	sl := make(argdecoder.SparseList, len(values))
	for i, v := range values {
		sl[i] = v
	}
	return &sl
}

func renderedXML(t *testing.T, el *xmlresp.Element) string {
	t.Helper()
	el.Name = "root"
	b, err := xmlresp.Render(el, "")
	require.NoError(t, err)
	return string(b)
}

func TestDomainStateToAWS(t *testing.T) {
	cases := []struct {
		state int32
		want  string
	}{
		{1, store.InstanceRunning},
		{3, store.InstanceStopped},
		{5, store.InstanceStopped},
		{7, store.InstanceStopped},
		{4, store.InstanceStopping},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, domainStateToAWS(tc.state))
	}
	assert.Contains(t, domainStateToAWS(0), "???")
	assert.Contains(t, domainStateToAWS(2), "???")
	assert.Contains(t, domainStateToAWS(6), "???")
}

func TestResourceTypeForID(t *testing.T) {
	assert.Equal(t, "instance", resourceTypeForID("i-abc123"))
	assert.Equal(t, "volume", resourceTypeForID("vol-abc123"))
	assert.Equal(t, "elastic-ip", resourceTypeForID("eipalloc-abc123"))
	assert.Equal(t, "launch-template", resourceTypeForID("lt-abc123"))
	assert.Equal(t, "image", resourceTypeForID("my-custom-ami"))
}

func TestNextUnusedInRange(t *testing.T) {
	start := net.ParseIP("192.168.122.10").To4()
	end := net.ParseIP("192.168.122.15").To4()

	used := map[string]bool{
		"192.168.122.10": true,
		"192.168.122.11": true,
	}
	assert.Equal(t, "192.168.122.12", nextUnusedInRange(start, end, used))

	full := map[string]bool{}
	for v := ipToUint32(start); v <= ipToUint32(end); v++ {
		full[uint32ToIP(v).String()] = true
	}
	assert.Equal(t, "", nextUnusedInRange(start, end, full))
}

func TestIPUint32RoundTrip(t *testing.T) {
	ip := net.ParseIP("10.0.5.200").To4()
	assert.Equal(t, ip.String(), uint32ToIP(ipToUint32(ip)).String())
}

func TestParseNetworkInterfaceID(t *testing.T) {
	instanceID, ifname, ok := parseNetworkInterfaceID("eni-i-0123456789abcdef0::eth0")
	assert.True(t, ok)
	assert.Equal(t, "i-0123456789abcdef0", instanceID)
	assert.Equal(t, "eth0", ifname)

	_, _, ok = parseNetworkInterfaceID("not-an-eni")
	assert.False(t, ok)
}

func TestAvailabilityZones(t *testing.T) {
	e := newTestEngine(t)
	zones := e.AvailabilityZones()
	require.Len(t, zones, 3)
	assert.Equal(t, "us-east-2a", zones[0])
	assert.Equal(t, "us-east-2b", zones[1])
	assert.Equal(t, "us-east-2c", zones[2])
}

func TestDescribeAvailabilityZones(t *testing.T) {
	e := newTestEngine(t)
	el, err := e.DescribeAvailabilityZones(context.Background(), map[string]any{})
	require.NoError(t, err)
	xml := renderedXML(t, el)
	assert.Contains(t, xml, "us-east-2a")
	assert.Contains(t, xml, "<zoneState>available</zoneState>")
}

func TestCreateDeleteDescribeTags(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	args := map[string]any{
		"ResourceId": sparseList("i-abc123"),
		"Tag": func() *argdecoder.SparseList {
			sl := make(argdecoder.SparseList, 1)
			sl[0] = map[string]any{"Key": "Name", "Value": "web-1"}
			return &sl
		}(),
	}
	_, err := e.CreateTags(ctx, args)
	require.NoError(t, err)

	describeEl, err := e.DescribeTags(ctx, map[string]any{})
	require.NoError(t, err)
	xml := renderedXML(t, describeEl)
	assert.Contains(t, xml, "<resourceId>i-abc123</resourceId>")
	assert.Contains(t, xml, "<key>Name</key>")
	assert.Contains(t, xml, "<value>web-1</value>")

	_, err = e.DeleteTags(ctx, map[string]any{
		"ResourceId": sparseList("i-abc123"),
		"Tag": func() *argdecoder.SparseList {
			sl := make(argdecoder.SparseList, 1)
			sl[0] = map[string]any{"Key": "Name"}
			return &sl
		}(),
	})
	require.NoError(t, err)

	describeEl, err = e.DescribeTags(ctx, map[string]any{})
	require.NoError(t, err)
	assert.NotContains(t, renderedXML(t, describeEl), "<key>Name</key>")
}

func TestCreateTagsRequiresResourceIdsAndTags(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateTags(context.Background(), map[string]any{})
	require.Error(t, err)
}

func TestLaunchTemplateLifecycle(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	createArgs := map[string]any{
		"LaunchTemplateName": "web-template",
		"LaunchTemplateData": map[string]any{"ImageId": "ami-encoded-name"},
	}
	createEl, err := e.CreateLaunchTemplate(ctx, createArgs)
	require.NoError(t, err)
	xml := renderedXML(t, createEl)
	assert.Contains(t, xml, "<launchTemplateName>web-template</launchTemplateName>")

	describeEl, err := e.DescribeLaunchTemplates(ctx, map[string]any{
		"LaunchTemplateName": sparseList("web-template"),
	})
	require.NoError(t, err)
	assert.Contains(t, renderedXML(t, describeEl), "web-template")

	_, err = e.DeleteLaunchTemplate(ctx, map[string]any{"LaunchTemplateName": "web-template"})
	require.NoError(t, err)

	describeEl, err = e.DescribeLaunchTemplates(ctx, map[string]any{})
	require.NoError(t, err)
	assert.NotContains(t, renderedXML(t, describeEl), "web-template")
}

func TestCreateLaunchTemplateRequiresImageId(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateLaunchTemplate(context.Background(), map[string]any{
		"LaunchTemplateName": "bad-template",
		"LaunchTemplateData": map[string]any{},
	})
	require.Error(t, err)
}

func TestDescribeImagesEmpty(t *testing.T) {
	e := newTestEngine(t)
	el, err := e.DescribeImages(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.Contains(t, renderedXML(t, el), "<root><imagesSet/></root>")
}

func TestDescribeInstanceTypes(t *testing.T) {
	e := newTestEngine(t)
	el, err := e.DescribeInstanceTypes(context.Background(), map[string]any{})
	require.NoError(t, err)
	xml := renderedXML(t, el)
	assert.Contains(t, xml, "t3.micro")
	assert.Contains(t, xml, "m5.xlarge")
}

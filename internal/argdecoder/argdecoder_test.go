package argdecoder

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeFlat(t *testing.T) {
	tree, err := Decode(url.Values{"Action": {"RunInstances"}, "MinCount": {"1"}})
	require.NoError(t, err)
	assert.Equal(t, "RunInstances", tree["Action"])
	assert.Equal(t, "1", tree["MinCount"])
}

func TestDecodeNestedList(t *testing.T) {
	tree, err := Decode(url.Values{
		"Filter.1.Name":     {"instance-state-name"},
		"Filter.1.Value.1":  {"running"},
		"Filter.1.Value.2":  {"pending"},
		"Filter.2.Name":     {"tag:Name"},
		"Filter.2.Value.1":  {"web"},
	})
	require.NoError(t, err)

	filters, ok := tree["Filter"].(*SparseList)
	require.True(t, ok)
	require.Len(t, *filters, 2)

	f1, ok := (*filters)[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "instance-state-name", f1["Name"])

	values, ok := f1["Value"].(*SparseList)
	require.True(t, ok)
	require.Len(t, *values, 2)
	assert.Equal(t, "running", (*values)[0])
	assert.Equal(t, "pending", (*values)[1])

	f2, ok := (*filters)[1].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "tag:Name", f2["Name"])
}

func TestDecodeSparseIndices(t *testing.T) {
	tree, err := Decode(url.Values{
		"InstanceId.3": {"i-abc"},
	})
	require.NoError(t, err)

	ids, ok := tree["InstanceId"].(*SparseList)
	require.True(t, ok)
	require.Len(t, *ids, 3)
	assert.Nil(t, (*ids)[0])
	assert.Nil(t, (*ids)[1])
	assert.Equal(t, "i-abc", (*ids)[2])
}

func TestDecodeDottedScalarPath(t *testing.T) {
	tree, err := Decode(url.Values{
		"TagSpecification.1.ResourceType": {"instance"},
		"TagSpecification.1.Tag.1.Key":    {"Name"},
		"TagSpecification.1.Tag.1.Value":  {"web-1"},
	})
	require.NoError(t, err)

	specs, ok := tree["TagSpecification"].(*SparseList)
	require.True(t, ok)
	require.Len(t, *specs, 1)

	spec, ok := (*specs)[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "instance", spec["ResourceType"])

	tags, ok := spec["Tag"].(*SparseList)
	require.True(t, ok)
	require.Len(t, *tags, 1)
	tag, ok := (*tags)[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Name", tag["Key"])
	assert.Equal(t, "web-1", tag["Value"])
}

func TestDecodeRejectsIndexAsMapKey(t *testing.T) {
	_, err := Decode(url.Values{
		"Filter.1.Name":    {"x"},
		"Filter.Name.Name": {"y"},
	})
	require.Error(t, err)
}

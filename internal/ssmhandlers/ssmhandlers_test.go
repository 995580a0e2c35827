package ssmhandlers

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/config"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
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

func TestCreateDocumentJSON(t *testing.T) {
	e := newTestEngine(t)
	resp, err := e.CreateDocument(context.Background(), map[string]any{
		"Name":    "ping",
		"Content": `{"mainSteps":[{"inputs":{"runCommand":["echo hi"]}}]}`,
	})
	require.NoError(t, err)
	m := resp.(map[string]any)
	assert.Equal(t, "ping", m["Name"])
	assert.Equal(t, "Active", m["Status"])

	content, err := store.GetSSMDocument(context.Background(), e.Store.DB(), "ping")
	require.NoError(t, err)
	assert.Contains(t, content, "echo hi")
}

func TestCreateDocumentYAML(t *testing.T) {
	e := newTestEngine(t)
	resp, err := e.CreateDocument(context.Background(), map[string]any{
		"Name":           "ping-yaml",
		"DocumentFormat": "yaml",
		"Content":        "mainSteps:\n- inputs:\n    runCommand:\n    - echo hi\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "ping-yaml", resp.(map[string]any)["Name"])
}

func TestCreateDocumentRejectsBadName(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateDocument(context.Background(), map[string]any{
		"Name":    "p!",
		"Content": `{"mainSteps":[{"inputs":{"runCommand":["echo hi"]}}]}`,
	})
	require.Error(t, err)
}

func TestCreateDocumentRejectsMultiStep(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.CreateDocument(context.Background(), map[string]any{
		"Name":    "multi",
		"Content": `{"mainSteps":[{"inputs":{"runCommand":["echo 1"]}},{"inputs":{"runCommand":["echo 2"]}}]}`,
	})
	require.Error(t, err)
}

func TestCreateDocumentRejectsDuplicate(t *testing.T) {
	e := newTestEngine(t)
	body := map[string]any{
		"Name":    "dup",
		"Content": `{"mainSteps":[{"inputs":{"runCommand":["echo hi"]}}]}`,
	}
	_, err := e.CreateDocument(context.Background(), body)
	require.NoError(t, err)
	_, err = e.CreateDocument(context.Background(), body)
	require.Error(t, err)
}

func TestGetCommandInvocation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertSSMInvocation(ctx, tx, store.SSMInvocation{
			CommandID:    "cmd-1",
			InstanceID:   "i-1",
			ResponseCode: 0,
			Stdout:       "hi\n",
			Stderr:       "",
		})
	})
	require.NoError(t, err)

	resp, err := e.GetCommandInvocation(ctx, map[string]any{
		"CommandId":  "cmd-1",
		"InstanceId": "i-1",
	})
	require.NoError(t, err)
	m := resp.(map[string]any)
	assert.Equal(t, "hi\n", m["StandardOutputContent"])
	assert.Equal(t, "Success", m["Status"])
}

func TestGetCommandInvocationFailedStatus(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.InsertSSMInvocation(ctx, tx, store.SSMInvocation{
			CommandID:    "cmd-2",
			InstanceID:   "i-1",
			ResponseCode: 1,
			Stderr:       "boom",
		})
	})
	require.NoError(t, err)

	resp, err := e.GetCommandInvocation(ctx, map[string]any{
		"CommandId":  "cmd-2",
		"InstanceId": "i-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "Failed", resp.(map[string]any)["Status"])
}

func TestGetCommandInvocationNotFound(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.GetCommandInvocation(context.Background(), map[string]any{
		"CommandId":  "does-not-exist",
		"InstanceId": "i-1",
	})
	require.Error(t, err)
}

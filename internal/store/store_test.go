package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestTagsUpsertAndDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return PutTags(ctx, tx, "instance", "i-1", []Tag{{Key: "Name", Value: "web"}, {Key: "Env", Value: "dev"}})
	})
	require.NoError(t, err)

	tags, err := GetTags(ctx, s.DB(), "instance", "i-1")
	require.NoError(t, err)
	require.Equal(t, []Tag{{Key: "Env", Value: "dev"}, {Key: "Name", Value: "web"}}, tags)

	// upsert overwrites rather than duplicating
	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return PutTags(ctx, tx, "instance", "i-1", []Tag{{Key: "Name", Value: "web-2"}})
	})
	require.NoError(t, err)
	tags, err = GetTags(ctx, s.DB(), "instance", "i-1")
	require.NoError(t, err)
	require.Len(t, tags, 2)

	err = s.WithTx(ctx, func(tx *sql.Tx) error {
		return DeleteTags(ctx, tx, "instance", "i-1", nil)
	})
	require.NoError(t, err)
	tags, err = GetTags(ctx, s.DB(), "instance", "i-1")
	require.NoError(t, err)
	require.Empty(t, tags)
}

func TestAddressAssociationInvariant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertAddress(ctx, tx, "eipalloc-1", "10.0.0.16")
	}))

	addr, err := GetAddressByAllocationID(ctx, s.DB(), "eipalloc-1")
	require.NoError(t, err)
	require.False(t, addr.AssociationID.Valid)
	require.False(t, addr.InstanceID.Valid)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return AssociateAddress(ctx, tx, "eipalloc-1", "eipassoc-1", "i-1")
	}))
	addr, err = GetAddressByAllocationID(ctx, s.DB(), "eipalloc-1")
	require.NoError(t, err)
	require.True(t, addr.AssociationID.Valid)
	require.True(t, addr.InstanceID.Valid)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return DisassociateAddress(ctx, tx, "eipalloc-1")
	}))
	addr, err = GetAddressByAllocationID(ctx, s.DB(), "eipalloc-1")
	require.NoError(t, err)
	require.False(t, addr.AssociationID.Valid)
	require.False(t, addr.InstanceID.Valid)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return ReleaseAddress(ctx, tx, "eipalloc-1")
	}))
	_, err = GetAddressByAllocationID(ctx, s.DB(), "eipalloc-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestTerminateInstanceIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		return InsertInstance(ctx, tx, Instance{ID: "i-1", State: InstanceRunning, AvailabilityZone: "us-east-2a", SubnetID: "subnet-1"})
	}))

	var changed bool
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		changed, err = TerminateInstance(ctx, tx, "i-1", "2026-01-01T00:00:00Z")
		return err
	}))
	require.True(t, changed)

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		changed, err = TerminateInstance(ctx, tx, "i-1", "2026-01-01T00:05:00Z")
		return err
	}))
	require.False(t, changed, "second terminate of an already-terminated instance is a no-op")

	inst, err := GetInstance(ctx, s.DB(), "i-1")
	require.NoError(t, err)
	require.Equal(t, "2026-01-01T00:00:00Z", inst.TerminatedAt.String)
}

func TestGCTerminatedInstances(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		if err := InsertInstance(ctx, tx, Instance{ID: "i-old", State: InstanceTerminated, AvailabilityZone: "us-east-2a", SubnetID: "subnet-1", TerminatedAt: sql.NullString{String: "2020-01-01T00:00:00Z", Valid: true}}); err != nil {
			return err
		}
		return InsertInstance(ctx, tx, Instance{ID: "i-new", State: InstanceTerminated, AvailabilityZone: "us-east-2a", SubnetID: "subnet-1", TerminatedAt: sql.NullString{String: "2030-01-01T00:00:00Z", Valid: true}})
	}))

	var gone []string
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		gone, err = GCTerminatedInstances(ctx, tx, "2025-01-01T00:00:00Z")
		return err
	}))
	require.Equal(t, []string{"i-old"}, gone)

	_, err := GetInstance(ctx, s.DB(), "i-old")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = GetInstance(ctx, s.DB(), "i-new")
	require.NoError(t, err)
}

func TestImageNameSlashEncoding(t *testing.T) {
	require.Equal(t, "foo%2Fbar", EncodeImageName("foo/bar"))
	require.Equal(t, "foo/bar", DecodeImageName("foo%2Fbar"))
}

package store

import (
	"context"
	"database/sql"
	"errors"
)

// Instance states, per spec.md §3.
const (
	InstanceRunning    = "running"
	InstanceStopping   = "stopping"
	InstanceStopped    = "stopped"
	InstanceTerminated = "terminated"
)

// Instance is an instance row. TerminatedAt is set only once, the first
// time the instance transitions to terminated (spec.md §7.7: "only if not
// already terminated").
type Instance struct {
	ID               string
	State            string
	AvailabilityZone string
	SubnetID         string
	TerminatedAt     sql.NullString
}

// InsertInstance records a newly run instance.
func InsertInstance(ctx context.Context, tx *sql.Tx, inst Instance) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO instance (id, state, availability_zone, subnet_id, terminated_at) VALUES (?, ?, ?, ?, ?)`,
		inst.ID, inst.State, inst.AvailabilityZone, inst.SubnetID, inst.TerminatedAt)
	return err
}

// GetInstance looks up an instance row by id.
func GetInstance(ctx context.Context, q Queryer, id string) (*Instance, error) {
	var i Instance
	err := q.QueryRowContext(ctx,
		`SELECT id, state, availability_zone, subnet_id, terminated_at FROM instance WHERE id = ?`, id).
		Scan(&i.ID, &i.State, &i.AvailabilityZone, &i.SubnetID, &i.TerminatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

// ListInstances returns every non-garbage-collected instance row. Callers
// are responsible for running GCTerminatedInstances first so stale
// terminated rows don't surface.
func ListInstances(ctx context.Context, q Queryer) ([]Instance, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, state, availability_zone, subnet_id, terminated_at FROM instance`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Instance
	for rows.Next() {
		var i Instance
		if err := rows.Scan(&i.ID, &i.State, &i.AvailabilityZone, &i.SubnetID, &i.TerminatedAt); err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// SetInstanceState refreshes an instance's state, the "libvirt is
// authoritative, shadow row refreshed on read" rule from spec.md §3.
func SetInstanceState(ctx context.Context, tx *sql.Tx, id, state string) error {
	_, err := tx.ExecContext(ctx, `UPDATE instance SET state = ? WHERE id = ?`, state, id)
	return err
}

// TerminateInstance sets state=terminated and terminated_at=now, but only
// if the row isn't already terminated (idempotent on repeat calls).
func TerminateInstance(ctx context.Context, tx *sql.Tx, id, nowRFC3339 string) (changed bool, err error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE instance SET state = ?, terminated_at = ? WHERE id = ? AND state != ?`,
		InstanceTerminated, nowRFC3339, id, InstanceTerminated)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GCTerminatedInstances deletes instance rows terminated before cutoff
// (an RFC3339 timestamp), realizing spec.md §3's "garbage-collected once
// older than 2 minutes" rule. Returns the ids removed so callers can also
// drop their tag rows (invariant 2).
func GCTerminatedInstances(ctx context.Context, tx *sql.Tx, cutoffRFC3339 string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM instance WHERE state = ? AND terminated_at IS NOT NULL AND terminated_at < ?`,
		InstanceTerminated, cutoffRFC3339)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM instance WHERE id = ?`, id); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

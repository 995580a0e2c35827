package store

import (
	"context"
	"database/sql"
	"errors"
)

// Zone is a persisted virtual sub-zone layered atop the libvirt network's
// implicit primary zone.
type Zone struct {
	ID      string
	Name    string
	Comment sql.NullString
}

// InsertZone records a new hosted (sub-)zone.
func InsertZone(ctx context.Context, tx *sql.Tx, id, name, comment string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO dns_zones (id, name, comment) VALUES (?, ?, ?)`,
		id, name, comment)
	return err
}

// GetZone looks up a zone by id.
func GetZone(ctx context.Context, q Queryer, id string) (*Zone, error) {
	var z Zone
	err := q.QueryRowContext(ctx, `SELECT id, name, comment FROM dns_zones WHERE id = ?`, id).
		Scan(&z.ID, &z.Name, &z.Comment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &z, nil
}

// ListZones returns every persisted sub-zone.
func ListZones(ctx context.Context, q Queryer) ([]Zone, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, comment FROM dns_zones`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Zone
	for rows.Next() {
		var z Zone
		if err := rows.Scan(&z.ID, &z.Name, &z.Comment); err != nil {
			return nil, err
		}
		out = append(out, z)
	}
	return out, rows.Err()
}

// UpdateZoneComment updates a zone's comment (UpdateHostedZoneComment).
func UpdateZoneComment(ctx context.Context, tx *sql.Tx, id, comment string) error {
	res, err := tx.ExecContext(ctx, `UPDATE dns_zones SET comment = ? WHERE id = ?`, comment, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteZone removes a sub-zone.
func DeleteZone(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM dns_zones WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Change is an append-only dns_changes row.
type Change struct {
	ID          string
	SubmittedAt string
	Comment     sql.NullString
}

// InsertChange records a change batch application.
func InsertChange(ctx context.Context, tx *sql.Tx, id, submittedAt, comment string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO dns_changes (id, submitted_at, comment) VALUES (?, ?, ?)`,
		id, submittedAt, comment)
	return err
}

// GetChange looks up a change by id; every change is reported INSYNC
// (spec.md §3: "all rows are reported as INSYNC").
func GetChange(ctx context.Context, q Queryer, id string) (*Change, error) {
	var c Change
	err := q.QueryRowContext(ctx, `SELECT id, submitted_at, comment FROM dns_changes WHERE id = ?`, id).
		Scan(&c.ID, &c.SubmittedAt, &c.Comment)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

// EncodeImageName quotes "/" as "%2F" at the AMI-name/id boundary, since
// image names may contain slashes but the id surface treats them as a
// single path segment (spec.md §3).
func EncodeImageName(name string) string {
	return strings.ReplaceAll(name, "/", "%2F")
}

// DecodeImageName reverses EncodeImageName.
func DecodeImageName(encoded string) string {
	return strings.ReplaceAll(encoded, "%2F", "/")
}

// InsertImage records a machine image name.
func InsertImage(ctx context.Context, tx *sql.Tx, name string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO machine_image (name) VALUES (?)`, name)
	return err
}

// DeleteImage removes a machine image name.
func DeleteImage(ctx context.Context, tx *sql.Tx, name string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM machine_image WHERE name = ?`, name)
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

// ImageExists reports whether a machine image name is registered.
func ImageExists(ctx context.Context, q Queryer, name string) (bool, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM machine_image WHERE name = ?`, name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListImages returns every registered machine image name.
func ListImages(ctx context.Context, q Queryer) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT name FROM machine_image`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// LaunchTemplate is a launch_template row. Versioning is nominal: default
// and latest version are always 1 (spec.md §3).
type LaunchTemplate struct {
	ID      string
	Name    string
	ImageID string
	Data    string
}

// InsertLaunchTemplate records a new launch template.
func InsertLaunchTemplate(ctx context.Context, tx *sql.Tx, lt LaunchTemplate) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO launch_template (id, name, image_id, data) VALUES (?, ?, ?, ?)`,
		lt.ID, lt.Name, lt.ImageID, lt.Data)
	return err
}

// GetLaunchTemplate looks up a launch template by id.
func GetLaunchTemplate(ctx context.Context, q Queryer, id string) (*LaunchTemplate, error) {
	var lt LaunchTemplate
	err := q.QueryRowContext(ctx,
		`SELECT id, name, image_id, data FROM launch_template WHERE id = ?`, id).
		Scan(&lt.ID, &lt.Name, &lt.ImageID, &lt.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &lt, nil
}

// GetLaunchTemplateByName looks up a launch template by name.
func GetLaunchTemplateByName(ctx context.Context, q Queryer, name string) (*LaunchTemplate, error) {
	var lt LaunchTemplate
	err := q.QueryRowContext(ctx,
		`SELECT id, name, image_id, data FROM launch_template WHERE name = ?`, name).
		Scan(&lt.ID, &lt.Name, &lt.ImageID, &lt.Data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &lt, nil
}

// ListLaunchTemplates returns every launch template.
func ListLaunchTemplates(ctx context.Context, q Queryer) ([]LaunchTemplate, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, name, image_id, data FROM launch_template`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []LaunchTemplate
	for rows.Next() {
		var lt LaunchTemplate
		if err := rows.Scan(&lt.ID, &lt.Name, &lt.ImageID, &lt.Data); err != nil {
			return nil, err
		}
		out = append(out, lt)
	}
	return out, rows.Err()
}

// DeleteLaunchTemplate removes a launch template by id.
func DeleteLaunchTemplate(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM launch_template WHERE id = ?`, id)
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

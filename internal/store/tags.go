package store

import (
	"context"
	"database/sql"
	"sort"
)

// Tag is a single key/value pair attached to a resource.
type Tag struct {
	Key   string
	Value string
}

// PutTags upserts tags on (resourceName, resourceType), matching the
// UNIQUE(resource_name, resource_type, key) constraint's upsert semantics.
func PutTags(ctx context.Context, tx *sql.Tx, resourceType, resourceName string, tags []Tag) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tags (resource_name, resource_type, key, value)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(resource_name, resource_type, key) DO UPDATE SET value = excluded.value
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tags {
		if _, err := stmt.ExecContext(ctx, resourceName, resourceType, t.Key, t.Value); err != nil {
			return err
		}
	}
	return nil
}

// DeleteTags removes the named tag keys from a resource. If keys is empty,
// every tag on the resource is removed (spec.md §3 invariant 2: tag rows
// are deleted atomically with the resource they tag).
func DeleteTags(ctx context.Context, tx *sql.Tx, resourceType, resourceName string, keys []string) error {
	if len(keys) == 0 {
		_, err := tx.ExecContext(ctx,
			`DELETE FROM tags WHERE resource_name = ? AND resource_type = ?`,
			resourceName, resourceType)
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		`DELETE FROM tags WHERE resource_name = ? AND resource_type = ? AND key = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, k := range keys {
		if _, err := stmt.ExecContext(ctx, resourceName, resourceType, k); err != nil {
			return err
		}
	}
	return nil
}

// GetTags returns the tags on a resource, sorted by key for deterministic
// response ordering.
func GetTags(ctx context.Context, q Queryer, resourceType, resourceName string) ([]Tag, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT key, value FROM tags WHERE resource_name = ? AND resource_type = ?`,
		resourceName, resourceType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tags []Tag
	for rows.Next() {
		var t Tag
		if err := rows.Scan(&t.Key, &t.Value); err != nil {
			return nil, err
		}
		tags = append(tags, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	return tags, nil
}

// GetTagsMulti returns tags for many resources of the same type in one
// query, keyed by resource name, for Describe* handlers that tag-annotate
// a whole listing without an N+1 query per row.
func GetTagsMulti(ctx context.Context, q Queryer, resourceType string, resourceNames []string) (map[string][]Tag, error) {
	result := make(map[string][]Tag, len(resourceNames))
	if len(resourceNames) == 0 {
		return result, nil
	}

	placeholders := make([]any, 0, len(resourceNames)+1)
	placeholders = append(placeholders, resourceType)
	query := `SELECT resource_name, key, value FROM tags WHERE resource_type = ? AND resource_name IN (`
	for i, name := range resourceNames {
		if i > 0 {
			query += ", "
		}
		query += "?"
		placeholders = append(placeholders, name)
	}
	query += ")"

	rows, err := q.QueryContext(ctx, query, placeholders...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var t Tag
		if err := rows.Scan(&name, &t.Key, &t.Value); err != nil {
			return nil, err
		}
		result[name] = append(result[name], t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for name := range result {
		tags := result[name]
		sort.Slice(tags, func(i, j int) bool { return tags[i].Key < tags[j].Key })
	}
	return result, nil
}

// ResourceTag is one row of the tags table, named-resource form, for
// DescribeTags which scans across every resource rather than one at a time.
type ResourceTag struct {
	ResourceType string
	ResourceName string
	Key          string
	Value        string
}

// ListAllTags returns every tag row, optionally filtered to the given
// resource types and/or resource names (either filter empty means
// unrestricted), sorted by (resource_type, resource_name, key) for
// deterministic DescribeTags output.
func ListAllTags(ctx context.Context, q Queryer, resourceTypes, resourceNames []string) ([]ResourceTag, error) {
	rows, err := q.QueryContext(ctx, `SELECT resource_type, resource_name, key, value FROM tags`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	typeFilter := toSet(resourceTypes)
	nameFilter := toSet(resourceNames)

	var out []ResourceTag
	for rows.Next() {
		var t ResourceTag
		if err := rows.Scan(&t.ResourceType, &t.ResourceName, &t.Key, &t.Value); err != nil {
			return nil, err
		}
		if len(typeFilter) > 0 && !typeFilter[t.ResourceType] {
			continue
		}
		if len(nameFilter) > 0 && !nameFilter[t.ResourceName] {
			continue
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ResourceType != out[j].ResourceType {
			return out[i].ResourceType < out[j].ResourceType
		}
		if out[i].ResourceName != out[j].ResourceName {
			return out[i].ResourceName < out[j].ResourceName
		}
		return out[i].Key < out[j].Key
	})
	return out, nil
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Queryer is satisfied by both *sql.DB and *sql.Tx, letting read helpers
// run either inside a transaction or directly against the pool.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

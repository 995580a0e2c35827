package store

import (
	"context"
	"database/sql"
	"errors"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// Address is a row of ip_addresses: an elastic IP allocation, possibly
// associated to a running instance.
type Address struct {
	AllocationID  string
	IPAddress     string
	AssociationID sql.NullString
	InstanceID    sql.NullString
}

// InsertAddress records a freshly allocated elastic IP. association_id and
// instance_id are left NULL (spec.md §3: "allocated ⇒ ... association_{id,
// instance}=NULL").
func InsertAddress(ctx context.Context, tx *sql.Tx, allocationID, ip string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ip_addresses (allocation_id, ip_address) VALUES (?, ?)`,
		allocationID, ip)
	return err
}

// AllocatedIPs returns every ip_address currently recorded, used to find
// the first unused address in the static range.
func AllocatedIPs(ctx context.Context, q Queryer) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT ip_address FROM ip_addresses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	used := make(map[string]bool)
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		used[ip] = true
	}
	return used, rows.Err()
}

// GetAddressByAllocationID looks up an address by its allocation id.
func GetAddressByAllocationID(ctx context.Context, q Queryer, allocationID string) (*Address, error) {
	return scanAddress(q.QueryRowContext(ctx,
		`SELECT allocation_id, ip_address, association_id, instance_id FROM ip_addresses WHERE allocation_id = ?`,
		allocationID))
}

// GetAddressByIP looks up an address by its IP value.
func GetAddressByIP(ctx context.Context, q Queryer, ip string) (*Address, error) {
	return scanAddress(q.QueryRowContext(ctx,
		`SELECT allocation_id, ip_address, association_id, instance_id FROM ip_addresses WHERE ip_address = ?`,
		ip))
}

// GetAddressByAssociationID looks up an address by its association id.
func GetAddressByAssociationID(ctx context.Context, q Queryer, associationID string) (*Address, error) {
	return scanAddress(q.QueryRowContext(ctx,
		`SELECT allocation_id, ip_address, association_id, instance_id FROM ip_addresses WHERE association_id = ?`,
		associationID))
}

// ListAddressesByInstance returns every address currently associated to an
// instance, for DescribeInstances' public-IP annotation.
func ListAddressesByInstance(ctx context.Context, q Queryer, instanceID string) ([]Address, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT allocation_id, ip_address, association_id, instance_id FROM ip_addresses WHERE instance_id = ?`,
		instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Address
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.AllocationID, &a.IPAddress, &a.AssociationID, &a.InstanceID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ListAddresses returns every ip_addresses row, for DescribeAddresses.
func ListAddresses(ctx context.Context, q Queryer) ([]Address, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT allocation_id, ip_address, association_id, instance_id FROM ip_addresses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Address
	for rows.Next() {
		var a Address
		if err := rows.Scan(&a.AllocationID, &a.IPAddress, &a.AssociationID, &a.InstanceID); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAddress(row *sql.Row) (*Address, error) {
	var a Address
	if err := row.Scan(&a.AllocationID, &a.IPAddress, &a.AssociationID, &a.InstanceID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// AssociateAddress sets association_id/instance_id, establishing the
// paired-non-null invariant from spec.md §3 invariant 1.
func AssociateAddress(ctx context.Context, tx *sql.Tx, allocationID, associationID, instanceID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ip_addresses SET association_id = ?, instance_id = ? WHERE allocation_id = ?`,
		associationID, instanceID, allocationID)
	return err
}

// DisassociateAddress clears association_id/instance_id.
func DisassociateAddress(ctx context.Context, tx *sql.Tx, allocationID string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE ip_addresses SET association_id = NULL, instance_id = NULL WHERE allocation_id = ?`,
		allocationID)
	return err
}

// ReleaseAddress deletes the row entirely (spec.md §3: "released ⇒ row absent").
func ReleaseAddress(ctx context.Context, tx *sql.Tx, allocationID string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM ip_addresses WHERE allocation_id = ?`, allocationID)
	return err
}

// PrivateAddress is a row of private_ip_addresses.
type PrivateAddress struct {
	IPAddress  string
	InstanceID string
	Interface  string
}

// InsertPrivateAddress records a secondary private IP bound to a
// (domain, interface) pair.
func InsertPrivateAddress(ctx context.Context, tx *sql.Tx, ip, instanceID, iface string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO private_ip_addresses (ip_address, instance_id, interface) VALUES (?, ?, ?)`,
		ip, instanceID, iface)
	return err
}

// DeletePrivateAddress removes a secondary private IP row.
func DeletePrivateAddress(ctx context.Context, tx *sql.Tx, ip string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM private_ip_addresses WHERE ip_address = ?`, ip)
	return err
}

// UsedPrivateIPs returns every ip_address currently bound as a private
// secondary address, for the static-range allocator.
func UsedPrivateIPs(ctx context.Context, q Queryer) (map[string]bool, error) {
	rows, err := q.QueryContext(ctx, `SELECT ip_address FROM private_ip_addresses`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	used := make(map[string]bool)
	for rows.Next() {
		var ip string
		if err := rows.Scan(&ip); err != nil {
			return nil, err
		}
		used[ip] = true
	}
	return used, rows.Err()
}

// ListPrivateAddressesByInstance returns every secondary private address
// bound to an instance.
func ListPrivateAddressesByInstance(ctx context.Context, q Queryer, instanceID string) ([]PrivateAddress, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT ip_address, instance_id, interface FROM private_ip_addresses WHERE instance_id = ?`,
		instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PrivateAddress
	for rows.Next() {
		var p PrivateAddress
		if err := rows.Scan(&p.IPAddress, &p.InstanceID, &p.Interface); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

package store

import (
	"context"
	"database/sql"
	"errors"
)

// InsertSSMDocument records a new SSM document. Overwrite is left to the
// caller: ssmhandlers.CreateDocument checks existence first so it can
// surface a typed conflict condition instead of a bare constraint error.
func InsertSSMDocument(ctx context.Context, tx *sql.Tx, name, content string) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO ssm_documents (name, content) VALUES (?, ?)`, name, content)
	return err
}

// GetSSMDocument looks up a document by name.
func GetSSMDocument(ctx context.Context, q Queryer, name string) (string, error) {
	var content string
	err := q.QueryRowContext(ctx, `SELECT content FROM ssm_documents WHERE name = ?`, name).Scan(&content)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return content, nil
}

// SSMInvocation is a row of ssm_command_invocations.
type SSMInvocation struct {
	CommandID    string
	InstanceID   string
	ResponseCode int
	Stdout       string
	Stderr       string
}

// InsertSSMInvocation records a SendCommand execution result for one
// instance.
func InsertSSMInvocation(ctx context.Context, tx *sql.Tx, inv SSMInvocation) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO ssm_command_invocations (command_id, instance_id, response_code, stdout, stderr) VALUES (?, ?, ?, ?, ?)`,
		inv.CommandID, inv.InstanceID, inv.ResponseCode, inv.Stdout, inv.Stderr)
	return err
}

// GetSSMInvocation looks up a single (command_id, instance_id) invocation,
// the shape GetCommandInvocation needs.
func GetSSMInvocation(ctx context.Context, q Queryer, commandID, instanceID string) (*SSMInvocation, error) {
	var inv SSMInvocation
	err := q.QueryRowContext(ctx,
		`SELECT command_id, instance_id, response_code, stdout, stderr FROM ssm_command_invocations WHERE command_id = ? AND instance_id = ?`,
		commandID, instanceID).
		Scan(&inv.CommandID, &inv.InstanceID, &inv.ResponseCode, &inv.Stdout, &inv.Stderr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

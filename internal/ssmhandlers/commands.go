package ssmhandlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/guestagent"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
)

// SendCommand loads the named document, concatenates its single step's
// runCommand lines into a bash script, and executes it via the guest
// agent in each named instance in turn, recording every invocation.
//
// All invocation rows commit in a single transaction, mirroring the
// original's single "with app['db'] as db:" block around the whole loop:
// if any instance's guest-agent call fails, nothing from this call is
// recorded (spec.md §5 ordering guarantee 2).
func (e *Engine) SendCommand(ctx context.Context, body map[string]any) (any, error) {
	name, err := requireStr(body, "DocumentName")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	instanceIDs := strSlice(body, "InstanceIds")
	if len(instanceIDs) == 0 {
		return nil, apierror.InvalidParameterValue("InstanceIds is required")
	}

	content, err := store.GetSSMDocument(ctx, e.Store.DB(), name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierror.InvalidParameterValue("no document found with name %q", name)
		}
		return nil, apierror.Internal("get document: %s", err)
	}

	var doc commandDocument
	if err := json.Unmarshal([]byte(content), &doc); err != nil {
		return nil, apierror.Internal("decode stored document %q: %s", name, err)
	}
	if len(doc.MainSteps) != 1 {
		return nil, apierror.Internal("document %q does not have exactly one step", name)
	}
	script := strings.Join(doc.MainSteps[0].Inputs.RunCommand, "\n")

	commandID := uuid.NewString()

	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, instanceID := range instanceIDs {
			result, err := guestagent.ExecShell(ctx, e.Conn, instanceID, script, e.Cfg.GuestAgentTimeoutSeconds)
			if err != nil {
				return apierror.Internal("exec on %s: %s", instanceID, err)
			}
			inv := store.SSMInvocation{
				CommandID:    commandID,
				InstanceID:   instanceID,
				ResponseCode: result.ExitCode,
				Stdout:       string(result.Stdout),
				Stderr:       string(result.Stderr),
			}
			if err := store.InsertSSMInvocation(ctx, tx, inv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apierror.AsCondition(err)
	}

	return map[string]any{
		"Command": map[string]any{
			"CommandId": commandID,
		},
	}, nil
}

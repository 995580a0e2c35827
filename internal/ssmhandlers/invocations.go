package ssmhandlers

import (
	"context"
	"errors"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
)

// GetCommandInvocation reports one SendCommand invocation's recorded
// result. Status is "Success" when the exit code is 0, else "Failed"
// (spec.md §4.8).
func (e *Engine) GetCommandInvocation(ctx context.Context, body map[string]any) (any, error) {
	commandID, err := requireStr(body, "CommandId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	instanceID, err := requireStr(body, "InstanceId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	inv, err := store.GetSSMInvocation(ctx, e.Store.DB(), commandID, instanceID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierror.InvalidParameterValue("no invocation found")
		}
		return nil, apierror.Internal("get invocation: %s", err)
	}

	status := "Success"
	if inv.ResponseCode != 0 {
		status = "Failed"
	}

	return map[string]any{
		"CommandId":             inv.CommandID,
		"InstanceId":            inv.InstanceID,
		"ResponseCode":          inv.ResponseCode,
		"StandardOutputContent": inv.Stdout,
		"StandardErrorContent":  inv.Stderr,
		"Status":                status,
	}, nil
}

package route53handlers

import (
	"context"
	"errors"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// GetChange reports a previously-applied change batch. Every change is
// INSYNC immediately: this service has no asynchronous propagation to
// model (spec.md §3).
func (e *Engine) GetChange(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	id, err := requireStr(args, "Id")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	ch, err := store.GetChange(ctx, e.Store.DB(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, apierror.NoSuchChange("no change found with id %s", id)
		}
		return nil, apierror.Internal("get change: %s", err)
	}

	c := xmlresp.El("")
	ci := xmlresp.El("ChangeInfo")
	ci.Field("Id", ch.ID)
	ci.Field("Status", "INSYNC")
	ci.Field("SubmittedAt", ch.SubmittedAt)
	if comment := nullStr(ch.Comment); comment != "" {
		ci.Field("Comment", comment)
	}
	c.Child(ci)
	return c, nil
}

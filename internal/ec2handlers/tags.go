package ec2handlers

import (
	"context"
	"database/sql"
	"strings"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// resourceTypeForID infers an EC2 resource type from its id's conventional
// prefix, the same mapping CreateTags/DeleteTags/DescribeTags need since the
// EC2 query protocol doesn't pass the type alongside a CreateTags resource
// id.
func resourceTypeForID(id string) string {
	switch {
	case strings.HasPrefix(id, "i-"):
		return "instance"
	case strings.HasPrefix(id, "vol-"):
		return "volume"
	case strings.HasPrefix(id, "eipalloc-"):
		return "elastic-ip"
	case strings.HasPrefix(id, "lt-"):
		return "launch-template"
	default:
		return "image"
	}
}

func parseTagList(args map[string]any) []store.Tag {
	var tags []store.Tag
	for _, m := range list(args, "Tag") {
		tags = append(tags, store.Tag{Key: str(m, "Key"), Value: str(m, "Value")})
	}
	return tags
}

// CreateTags applies tags to one or more resources atomically. It does not
// check that the resources exist: a tag is stored for any resource id,
// with the resource type inferred from the id's prefix.
func (e *Engine) CreateTags(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	ids := scalarList(args, "ResourceId")
	if len(ids) == 0 {
		return nil, apierror.InvalidParameterValue("CreateTags requires at least one ResourceId")
	}
	tags := parseTagList(args)
	if len(tags) == 0 {
		return nil, apierror.InvalidParameterValue("CreateTags requires at least one Tag")
	}

	err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := store.PutTags(ctx, tx, resourceTypeForID(id), id, tags); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apierror.Internal("create tags: %s", err)
	}

	c := xmlresp.El("")
	c.Field("return", "true")
	return c, nil
}

// DeleteTags removes the named tag keys from one or more resources. A Tag
// with no Value removes the key outright; EC2 also lets callers pass a
// Value to scope the delete, but this emulation always deletes by key since
// the shadow schema doesn't version tag values.
func (e *Engine) DeleteTags(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	ids := scalarList(args, "ResourceId")
	if len(ids) == 0 {
		return nil, apierror.InvalidParameterValue("DeleteTags requires at least one ResourceId")
	}
	var keys []string
	for _, t := range parseTagList(args) {
		keys = append(keys, t.Key)
	}

	err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		for _, id := range ids {
			if err := store.DeleteTags(ctx, tx, resourceTypeForID(id), id, keys); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apierror.Internal("delete tags: %s", err)
	}

	c := xmlresp.El("")
	c.Field("return", "true")
	return c, nil
}

// DescribeTags lists every tag row, optionally restricted by
// Filter.N.Name=resource-id|resource-type and Filter.N.Value.M values.
func (e *Engine) DescribeTags(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	var resourceTypes, resourceNames []string
	for _, f := range list(args, "Filter") {
		values := scalarList(f, "Value")
		switch str(f, "Name") {
		case "resource-type":
			resourceTypes = append(resourceTypes, values...)
		case "resource-id":
			resourceNames = append(resourceNames, values...)
		}
	}

	rows, err := store.ListAllTags(ctx, e.Store.DB(), resourceTypes, resourceNames)
	if err != nil {
		return nil, apierror.Internal("describe tags: %s", err)
	}

	var items []*xmlresp.Element
	for _, r := range rows {
		item := xmlresp.El("item")
		item.Field("resourceId", r.ResourceName)
		item.Field("resourceType", r.ResourceType)
		item.Field("key", r.Key)
		item.Field("value", r.Value)
		items = append(items, item)
	}
	c := xmlresp.El("")
	c.List("tagSet", xmlresp.Expanded, items)
	return c, nil
}

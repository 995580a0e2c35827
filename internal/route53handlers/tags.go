package route53handlers

import (
	"context"
	"database/sql"
	"encoding/xml"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// changeTagsRequest is the body of ChangeTagsForResource.
type changeTagsRequest struct {
	XMLName xml.Name `xml:"ChangeTagsForResourceRequest"`
	AddTags *struct {
		Tag []struct {
			Key   string `xml:"Key"`
			Value string `xml:"Value"`
		} `xml:"Tag"`
	} `xml:"AddTags"`
	RemoveTagKeys *struct {
		Key []string `xml:"Key"`
	} `xml:"RemoveTagKeys"`
}

// ListTagsForResource lists the tags on a hosted zone, reusing the same
// tags table ec2handlers uses for EC2 resources (spec.md §4.13).
func (e *Engine) ListTagsForResource(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	resType, err := requireStr(args, "ResourceType")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	if resType != "hostedzone" {
		return nil, apierror.InvalidParameterValue("unsupported ResourceType %q", resType)
	}
	resID, err := requireStr(args, "ResourceId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	tags, err := store.GetTags(ctx, e.Store.DB(), resType, resID)
	if err != nil {
		return nil, apierror.Internal("list tags: %s", err)
	}

	var items []*xmlresp.Element
	for _, t := range tags {
		item := xmlresp.El("Tag")
		item.Field("Key", t.Key)
		item.Field("Value", t.Value)
		items = append(items, item)
	}

	c := xmlresp.El("")
	rts := xmlresp.El("ResourceTagSet")
	rts.Field("ResourceType", resType)
	rts.Field("ResourceId", resID)
	rts.List("Tags", xmlresp.Condensed, items)
	c.Child(rts)
	return c, nil
}

// ChangeTagsForResource adds and/or removes tags on a hosted zone.
func (e *Engine) ChangeTagsForResource(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	resType, err := requireStr(args, "ResourceType")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	if resType != "hostedzone" {
		return nil, apierror.InvalidParameterValue("unsupported ResourceType %q", resType)
	}
	resID, err := requireStr(args, "ResourceId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	var req changeTagsRequest
	if bodyText := str(args, "BodyText"); bodyText != "" {
		if err := xml.Unmarshal([]byte(bodyText), &req); err != nil {
			return nil, apierror.InvalidInput("input is not valid: %s", err)
		}
	}

	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if req.AddTags != nil && len(req.AddTags.Tag) > 0 {
			tags := make([]store.Tag, len(req.AddTags.Tag))
			for i, t := range req.AddTags.Tag {
				tags[i] = store.Tag{Key: t.Key, Value: t.Value}
			}
			if err := store.PutTags(ctx, tx, resType, resID, tags); err != nil {
				return err
			}
		}
		if req.RemoveTagKeys != nil && len(req.RemoveTagKeys.Key) > 0 {
			if err := store.DeleteTags(ctx, tx, resType, resID, req.RemoveTagKeys.Key); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apierror.Internal("change tags: %s", err)
	}

	return xmlresp.El(""), nil
}

package ec2handlers

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/ids"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// CreateLaunchTemplate records a template's image id and full data blob
// (versioning is nominal: default and latest version are always 1, spec.md
// §3).
func (e *Engine) CreateLaunchTemplate(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	name, err := requireStr(args, "LaunchTemplateName")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	data, ok := args["LaunchTemplateData"].(map[string]any)
	if !ok {
		return nil, apierror.InvalidParameterValue("CreateLaunchTemplate requires LaunchTemplateData")
	}
	imageID := str(data, "ImageId")
	if imageID == "" {
		return nil, apierror.InvalidParameterValue("LaunchTemplateData requires ImageId")
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return nil, apierror.Internal("encode launch template data: %s", err)
	}

	id := ids.LaunchTemplateID()
	lt := store.LaunchTemplate{ID: id, Name: name, ImageID: imageID, Data: string(dataJSON)}
	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertLaunchTemplate(ctx, tx, lt); err != nil {
			return err
		}
		if tags := parseTagSpecification(args, "launch-template"); len(tags) > 0 {
			return store.PutTags(ctx, tx, "launch-template", id, tags)
		}
		return nil
	}); err != nil {
		return nil, apierror.Internal("create launch template: %s", err)
	}

	c := xmlresp.El("")
	lts := xmlresp.El("launchTemplate")
	lts.Field("launchTemplateId", id)
	lts.Field("launchTemplateName", name)
	lts.Field("defaultVersionNumber", "1")
	lts.Field("latestVersionNumber", "1")
	c.Child(lts)
	return c, nil
}

// DescribeLaunchTemplates lists launch templates, optionally filtered by id
// or name.
func (e *Engine) DescribeLaunchTemplates(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	requestedIDs := make(map[string]bool)
	for _, id := range scalarList(args, "LaunchTemplateId") {
		requestedIDs[id] = true
	}
	requestedNames := make(map[string]bool)
	for _, name := range scalarList(args, "LaunchTemplateName") {
		requestedNames[name] = true
	}

	all, err := store.ListLaunchTemplates(ctx, e.Store.DB())
	if err != nil {
		return nil, apierror.Internal("list launch templates: %s", err)
	}

	var items []*xmlresp.Element
	for _, lt := range all {
		if len(requestedIDs) > 0 && !requestedIDs[lt.ID] {
			continue
		}
		if len(requestedNames) > 0 && !requestedNames[lt.Name] {
			continue
		}
		item := xmlresp.El("item")
		item.Field("launchTemplateId", lt.ID)
		item.Field("launchTemplateName", lt.Name)
		item.Field("defaultVersionNumber", "1")
		item.Field("latestVersionNumber", "1")
		items = append(items, item)
	}

	c := xmlresp.El("")
	c.List("launchTemplates", xmlresp.Expanded, items)
	return c, nil
}

// DeleteLaunchTemplate removes a launch template by id or name.
func (e *Engine) DeleteLaunchTemplate(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	id := str(args, "LaunchTemplateId")
	if id == "" {
		if name := str(args, "LaunchTemplateName"); name != "" {
			lt, err := store.GetLaunchTemplateByName(ctx, e.Store.DB(), name)
			if err != nil {
				return nil, apierror.InvalidParameterValue("unknown launch template %q", name)
			}
			id = lt.ID
		}
	}
	if id == "" {
		return nil, apierror.InvalidParameterValue("DeleteLaunchTemplate requires LaunchTemplateId or LaunchTemplateName")
	}

	lt, err := store.GetLaunchTemplate(ctx, e.Store.DB(), id)
	if err != nil {
		return nil, apierror.InvalidParameterValue("unknown launch template %q", id)
	}

	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.DeleteLaunchTemplate(ctx, tx, id); err != nil {
			return err
		}
		return store.DeleteTags(ctx, tx, "launch-template", id, nil)
	}); err != nil {
		return nil, apierror.Internal("delete launch template: %s", err)
	}

	c := xmlresp.El("")
	lts := xmlresp.El("launchTemplate")
	lts.Field("launchTemplateId", lt.ID)
	lts.Field("launchTemplateName", lt.Name)
	c.Child(lts)
	return c, nil
}

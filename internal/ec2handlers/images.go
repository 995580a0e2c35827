package ec2handlers

import (
	"context"
	"database/sql"
	"os/exec"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// DescribeImages lists every registered machine image (SPEC_FULL.md §4.13,
// grounded on original_source/libvirt_aws/handlers/ami.py's
// describe_images).
func (e *Engine) DescribeImages(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	requested := make(map[string]bool)
	for _, id := range scalarList(args, "ImageId") {
		requested[id] = true
	}

	names, err := store.ListImages(ctx, e.Store.DB())
	if err != nil {
		return nil, apierror.Internal("list images: %s", err)
	}

	var items []*xmlresp.Element
	for _, name := range names {
		if len(requested) > 0 && !requested[name] {
			continue
		}
		item := xmlresp.El("item")
		item.Field("imageId", name)
		item.Field("name", store.DecodeImageName(name))
		item.Field("state", "available")
		items = append(items, item)
	}

	c := xmlresp.El("")
	c.List("imagesSet", xmlresp.Expanded, items)
	return c, nil
}

// CreateImage clones a stopped instance's domain under the image's name and
// registers it as a machine image (ami.py's create_image: "can't be cloned
// while it is running").
func (e *Engine) CreateImage(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	instanceID, err := requireStr(args, "InstanceId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	name, err := requireStr(args, "Name")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	inst, err := store.GetInstance(ctx, e.Store.DB(), instanceID)
	if err != nil {
		return nil, apierror.InstanceNotFound("instance %s: %s", instanceID, err)
	}
	if inst.State != store.InstanceStopped {
		return nil, apierror.IncorrectState("instance %s can't be imaged while it is %s", instanceID, inst.State)
	}

	imageID := store.EncodeImageName(name)
	clone := exec.CommandContext(ctx, "virt-clone",
		"--original="+instanceID, "--name="+imageID, "--auto-clone")
	if out, err := clone.CombinedOutput(); err != nil {
		return nil, apierror.Internal("clone image: %s", errors.Wrapf(err, "virt-clone output: %s", out))
	}

	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertImage(ctx, tx, imageID); err != nil {
			return err
		}
		if tags := parseTagSpecification(args, "image"); len(tags) > 0 {
			return store.PutTags(ctx, tx, "image", imageID, tags)
		}
		return nil
	})
	if err != nil {
		return nil, apierror.Internal("record image: %s", err)
	}

	c := xmlresp.El("")
	c.Field("imageId", imageID)
	return c, nil
}

// DeregisterImage undefines the backing domain and drops the machine image
// row (ami.py's deregister: "can't be undefined while it is running").
func (e *Engine) DeregisterImage(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	imageID, err := requireStr(args, "ImageId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	if exists, err := store.ImageExists(ctx, e.Store.DB(), imageID); err != nil {
		return nil, apierror.Internal("check image: %s", err)
	} else if !exists {
		return nil, apierror.InvalidParameterValue("unknown image %q", imageID)
	}

	if state, err := e.Conn.DomainState(store.DecodeImageName(imageID)); err == nil && domainStateToAWS(state) == store.InstanceRunning {
		return nil, apierror.IncorrectState("image %s can't be deregistered while its domain is running", imageID)
	}

	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.DeleteImage(ctx, tx, imageID); err != nil {
			return err
		}
		return store.DeleteTags(ctx, tx, "image", imageID, nil)
	})
	if err != nil {
		return nil, apierror.Internal("deregister image: %s", err)
	}

	if err := e.Conn.DomainDestroyAndUndefine(store.DecodeImageName(imageID)); err != nil {
		e.Log.Warn("undefine image domain failed", zap.Error(err))
	}

	c := xmlresp.El("")
	c.Field("return", "true")
	return c, nil
}

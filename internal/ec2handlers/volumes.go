package ec2handlers

import (
	"context"
	"strconv"

	"github.com/digitalocean/go-libvirt"
	"github.com/dustin/go-humanize"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/attachment"
	"github.com/libvirt-aws/libvirt-aws/internal/libvirtx"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// CreateVolume materializes a qcow2 volume in the configured image pool
// (spec.md §4.6: compat=1.1, lazy_refcounts).
func (e *Engine) CreateVolume(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	sizeStr, err := requireStr(args, "Size")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	sizeGiB, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || sizeGiB <= 0 {
		return nil, apierror.InvalidParameterValue("Size must be a positive integer, got %q", sizeStr)
	}

	volID := volID()
	volXML := libvirtx.VolumeXML(volID, sizeGiB)
	if err := e.Conn.CreateVolume(e.Conn.ImagePool, volXML, libvirt.StorageVolCreatePreallocMetadata); err != nil {
		return nil, apierror.Internal("create volume: %s", err)
	}
	e.Log.Info("created volume", zapVolumeFields(volID, sizeGiB)...)

	az := str(args, "AvailabilityZone")
	if az == "" {
		az = e.AvailabilityZones()[0]
	}

	c := xmlresp.El("")
	c.Field("volumeId", volID)
	c.Field("size", sizeStr)
	c.Field("availabilityZone", az)
	c.Field("state", "creating")
	return c, nil
}

// DeleteVolume removes a volume from the image pool.
func (e *Engine) DeleteVolume(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	volumeID, err := requireStr(args, "VolumeId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	if err := e.Conn.DeleteVolume(e.Conn.ImagePool, volumeID); err != nil {
		return nil, apierror.VolumeNotFound("volume %s: %s", volumeID, err)
	}
	c := xmlresp.El("")
	c.Field("return", "true")
	return c, nil
}

// volumeAttachment is one observed (or tracker-remembered) attachment.
type volumeAttachment struct {
	InstanceID string
	Device     string
	Status     attachment.Status
}

// liveAttachments walks every non-terminated instance's domain XML and
// returns, for a single volume name, every disk attachment libvirt reports.
func (e *Engine) liveAttachments(ctx context.Context, volumeName string) (map[string]libvirtx.Attachment, error) {
	instances, err := store.ListInstances(ctx, e.Store.DB())
	if err != nil {
		return nil, err
	}
	out := make(map[string]libvirtx.Attachment)
	for _, inst := range instances {
		if inst.State == store.InstanceTerminated {
			continue
		}
		xmlText, err := e.Conn.DomainXML(inst.ID)
		if err != nil {
			continue // domain may be mid-teardown; skip rather than fail the whole describe
		}
		dom, err := libvirtx.ParseDomain(xmlText)
		if err != nil {
			continue
		}
		for _, a := range dom.Attachments() {
			if a.Vol == volumeName {
				out[inst.ID] = a
			}
		}
	}
	return out, nil
}

// mergedAttachments combines libvirt's reported attachments for a volume
// with the attachment tracker's transient state (spec.md §4.6:
// "DescribeVolumes merges libvirt-reported attachments with tracker state").
func (e *Engine) mergedAttachments(ctx context.Context, volumeName string) ([]volumeAttachment, error) {
	live, err := e.liveAttachments(ctx, volumeName)
	if err != nil {
		return nil, err
	}

	var out []volumeAttachment
	seen := make(map[string]bool)
	for instanceID, a := range live {
		status := attachment.Attached
		if _, trackedStatus, ok := e.Tracker.Lookup(volumeName, instanceID); ok {
			status = trackedStatus
		}
		out = append(out, volumeAttachment{InstanceID: instanceID, Device: a.Device, Status: status})
		seen[instanceID] = true
	}

	// Tolerate the detaching race from spec.md §4.6: libvirt may have
	// already dropped the disk while the tracker still reports "detaching".
	instances, err := store.ListInstances(ctx, e.Store.DB())
	if err != nil {
		return nil, err
	}
	for _, inst := range instances {
		if seen[inst.ID] {
			continue
		}
		if device, status, ok := e.Tracker.Lookup(volumeName, inst.ID); ok && status == attachment.Detaching {
			out = append(out, volumeAttachment{InstanceID: inst.ID, Device: device, Status: status})
		}
	}
	return out, nil
}

// DescribeVolumes lists volumes in the image pool with merged attachment
// state.
func (e *Engine) DescribeVolumes(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	names, err := e.Conn.ListVolumeNames(e.Conn.ImagePool)
	if err != nil {
		return nil, apierror.Internal("list volumes: %s", err)
	}

	requested := make(map[string]bool)
	for _, id := range scalarList(args, "VolumeId") {
		requested[id] = true
	}

	var items []*xmlresp.Element
	for _, name := range names {
		if len(requested) > 0 && !requested[name] {
			continue
		}
		volXML, err := e.Conn.VolumeXML(e.Conn.ImagePool, name)
		if err != nil {
			continue
		}
		vol, err := libvirtx.ParseVolume(volXML)
		if err != nil {
			continue
		}
		attachments, err := e.mergedAttachments(ctx, name)
		if err != nil {
			return nil, apierror.Internal("merge attachments for %s: %s", name, err)
		}

		state := "available"
		var attachItems []*xmlresp.Element
		for _, a := range attachments {
			if a.Status != attachment.Detached {
				state = "in-use"
			}
			ai := xmlresp.El("item")
			ai.Field("volumeId", name)
			ai.Field("instanceId", a.InstanceID)
			ai.Field("device", a.Device)
			ai.Field("status", string(a.Status))
			attachItems = append(attachItems, ai)
		}

		item := xmlresp.El("item")
		item.Field("volumeId", name)
		item.Field("size", strconv.FormatInt(vol.CapacityBytes/humanize.GiByte, 10))
		item.Field("state", state)
		item.List("attachmentSet", xmlresp.Expanded, attachItems)
		items = append(items, item)
	}

	c := xmlresp.El("")
	c.List("volumeSet", xmlresp.Expanded, items)
	return c, nil
}

// AttachVolume attaches a volume to an instance, refusing if the volume
// already has a non-detached attachment (spec.md §4.6).
func (e *Engine) AttachVolume(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	volumeID, err := requireStr(args, "VolumeId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	instanceID, err := requireStr(args, "InstanceId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	device, err := requireStr(args, "Device")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	if e.Tracker.InUse(volumeID) {
		return nil, apierror.IncorrectState("volume %s is already attached", volumeID)
	}
	live, err := e.liveAttachments(ctx, volumeID)
	if err != nil {
		return nil, apierror.Internal("check existing attachments: %s", err)
	}
	if len(live) > 0 {
		return nil, apierror.IncorrectState("volume %s is already attached", volumeID)
	}

	diskXML := libvirtx.DiskXML(e.Conn.ImagePool, volumeID, device)
	if err := e.Conn.AttachDevice(instanceID, diskXML); err != nil {
		return nil, apierror.Internal("attach device: %s", err)
	}
	e.Tracker.Attach(volumeID, instanceID, device)

	c := xmlresp.El("")
	c.Field("volumeId", volumeID)
	c.Field("instanceId", instanceID)
	c.Field("device", device)
	c.Field("status", string(attachment.Attaching))
	return c, nil
}

// DetachVolume detaches a volume from an instance.
func (e *Engine) DetachVolume(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	volumeID, err := requireStr(args, "VolumeId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	instanceID, err := requireStr(args, "InstanceId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	live, err := e.liveAttachments(ctx, volumeID)
	if err != nil {
		return nil, apierror.Internal("look up attachment: %s", err)
	}
	a, ok := live[instanceID]
	if !ok {
		// libvirt no longer reports the device as attached, but the
		// tracker may still be mid-settle from a just-issued detach
		// (spec.md §4.6: tolerate the race and echo that state back
		// rather than erroring).
		if device, status, found := e.Tracker.Lookup(volumeID, instanceID); found && status == attachment.Detaching {
			c := xmlresp.El("")
			c.Field("volumeId", volumeID)
			c.Field("instanceId", instanceID)
			c.Field("device", device)
			c.Field("status", string(attachment.Detaching))
			return c, nil
		}
		return nil, apierror.AttachmentNotFound("no attachment of volume %s to instance %s", volumeID, instanceID)
	}

	diskXML := libvirtx.DiskXML(e.Conn.ImagePool, volumeID, a.Device)
	if err := e.Conn.DetachDevice(instanceID, diskXML); err != nil {
		return nil, apierror.Internal("detach device: %s", err)
	}
	e.Tracker.Detach(volumeID, instanceID)

	c := xmlresp.El("")
	c.Field("volumeId", volumeID)
	c.Field("instanceId", instanceID)
	c.Field("device", a.Device)
	c.Field("status", string(attachment.Detaching))
	return c, nil
}

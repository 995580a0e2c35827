package ec2handlers

import (
	"context"
	"database/sql"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/ids"
	"github.com/libvirt-aws/libvirt-aws/internal/libvirtx"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// domainStateToAWS maps a libvirt VIR_DOMAIN_STATE code to the AWS instance
// state string, per spec.md §4.7's literal table: 0,2,6 are reported
// opaquely (no clean AWS analogue: NOSTATE, BLOCKED, CRASHED), 1 is
// running, 3/5/7 are stopped (PAUSED, SHUTOFF, PMSUSPENDED), 4 is
// shutting-down/stopping.
func domainStateToAWS(state int32) string {
	switch state {
	case 1:
		return store.InstanceRunning
	case 3, 5, 7:
		return store.InstanceStopped
	case 4:
		return store.InstanceStopping
	default:
		return fmt.Sprintf("??? (libvirt domain state %d)", state)
	}
}

// resolveImage resolves the source domain name RunInstances should clone,
// either from an explicit ImageId or a referenced launch template.
func (e *Engine) resolveImage(ctx context.Context, args map[string]any) (string, error) {
	if ltRef, ok := args["LaunchTemplate"].(map[string]any); ok {
		var lt *store.LaunchTemplate
		var err error
		if id := str(ltRef, "LaunchTemplateId"); id != "" {
			lt, err = store.GetLaunchTemplate(ctx, e.Store.DB(), id)
		} else if name := str(ltRef, "LaunchTemplateName"); name != "" {
			lt, err = store.GetLaunchTemplateByName(ctx, e.Store.DB(), name)
		} else {
			return "", apierror.InvalidParameterValue("LaunchTemplate requires LaunchTemplateId or LaunchTemplateName")
		}
		if err != nil {
			return "", apierror.InvalidParameterValue("unknown launch template: %s", err)
		}
		return lt.ImageID, nil
	}

	imageID := str(args, "ImageId")
	if imageID == "" {
		return "", apierror.InvalidParameterValue("RunInstances requires ImageId or LaunchTemplate")
	}
	exists, err := store.ImageExists(ctx, e.Store.DB(), imageID)
	if err != nil {
		return "", apierror.Internal("check image existence: %s", err)
	}
	if !exists {
		return "", apierror.InvalidParameterValue("unknown image %q", imageID)
	}
	return imageID, nil
}

// cloneInstance runs virt-clone + virt-sysprep to materialize a new domain
// from sourceImage under a fresh instance id (spec.md §4.7, §3's "Lifecycle
// of an instance").
func (e *Engine) cloneInstance(ctx context.Context, sourceImage, instanceID string) error {
	sourceDomain := store.DecodeImageName(sourceImage)

	clone := exec.CommandContext(ctx, "virt-clone",
		"--original="+sourceDomain, "--name="+instanceID, "--auto-clone")
	if out, err := clone.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "virt-clone %s -> %s: %s", sourceDomain, instanceID, out)
	}

	sysprep := exec.CommandContext(ctx, "virt-sysprep",
		"-d", instanceID, "--hostname", instanceID, "--operations", "machine-id,ssh-hostkeys")
	if out, err := sysprep.CombinedOutput(); err != nil {
		return errors.Wrapf(err, "virt-sysprep %s: %s", instanceID, out)
	}
	return nil
}

// RunInstances clones a new domain from an image or launch template,
// autostarts and boots it, and records the shadow instance row.
func (e *Engine) RunInstances(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	sourceImage, err := e.resolveImage(ctx, args)
	if err != nil {
		return nil, err
	}

	count := 1
	if maxCount := str(args, "MaxCount"); maxCount != "" {
		n, convErr := strconv.Atoi(maxCount)
		if convErr != nil || n <= 0 {
			return nil, apierror.InvalidParameterValue("invalid MaxCount %q", maxCount)
		}
		count = n
	}

	az := e.AvailabilityZones()[0]
	if placement, ok := args["Placement"].(map[string]any); ok {
		if v := str(placement, "AvailabilityZone"); v != "" {
			az = v
		}
	}
	subnet := str(args, "SubnetId")

	var items []*xmlresp.Element
	for i := 0; i < count; i++ {
		instanceID := ids.Instance()
		if err := e.cloneInstance(ctx, sourceImage, instanceID); err != nil {
			return nil, apierror.Internal("clone instance: %s", err)
		}
		if err := e.Conn.DomainSetAutostart(instanceID, true); err != nil {
			e.Log.Warn("set autostart failed", zap.String("instance_id", instanceID), zap.Error(err))
		}
		if err := e.Conn.DomainCreate(instanceID); err != nil {
			return nil, apierror.Internal("start domain %s: %s", instanceID, err)
		}

		err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.InsertInstance(ctx, tx, store.Instance{
				ID: instanceID, State: store.InstanceRunning,
				AvailabilityZone: az, SubnetID: subnet,
			})
		})
		if err != nil {
			return nil, apierror.Internal("record instance %s: %s", instanceID, err)
		}

		if tags := parseTagSpecification(args, "instance"); len(tags) > 0 {
			if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
				return store.PutTags(ctx, tx, "instance", instanceID, tags)
			}); err != nil {
				e.Log.Warn("tag instance failed", zap.String("instance_id", instanceID), zap.Error(err))
			}
		}

		item := xmlresp.El("item")
		item.Field("instanceId", instanceID)
		item.Field("imageId", sourceImage)
		item.Child(xmlresp.El("instanceState").Field("name", store.InstanceRunning))
		item.Field("privateDnsName", "")
		item.Field("availabilityZone", az)
		item.Field("subnetId", subnet)
		items = append(items, item)
	}

	c := xmlresp.El("")
	c.Field("reservationId", ids.RequestID())
	c.List("instancesSet", xmlresp.Expanded, items)
	return c, nil
}

// parseTagSpecification reads TagSpecification.N entries filtered to
// resourceType (the RunInstances "ResourceType=instance" convention).
func parseTagSpecification(args map[string]any, resourceType string) []store.Tag {
	var tags []store.Tag
	for _, spec := range list(args, "TagSpecification") {
		if str(spec, "ResourceType") != resourceType {
			continue
		}
		tags = append(tags, parseTagList(spec)...)
	}
	return tags
}

// TerminateInstances destroys and undefines each domain, deletes its
// image-pool-backed disks, and marks the shadow row terminated (idempotent:
// a second call against an already-terminated instance is a no-op per
// store.TerminateInstance).
func (e *Engine) TerminateInstances(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	requested := scalarList(args, "InstanceId")
	if len(requested) == 0 {
		return nil, apierror.InvalidParameterValue("TerminateInstances requires at least one InstanceId")
	}

	var items []*xmlresp.Element
	for _, id := range requested {
		prev, err := store.GetInstance(ctx, e.Store.DB(), id)
		if err != nil {
			return nil, apierror.InstanceNotFound("instance %s: %s", id, err)
		}

		if prev.State != store.InstanceTerminated {
			if xmlText, xmlErr := e.Conn.DomainXML(id); xmlErr == nil {
				if dom, parseErr := libvirtx.ParseDomain(xmlText); parseErr == nil {
					for _, disk := range dom.Disks() {
						if disk.Pool == e.Conn.ImagePool && disk.Vol != "" {
							if delErr := e.Conn.DeleteVolume(e.Conn.ImagePool, disk.Vol); delErr != nil {
								e.Log.Warn("delete instance disk failed",
									zap.String("instance_id", id), zap.String("volume", disk.Vol), zap.Error(delErr))
							}
						}
					}
				}
			}
			if err := e.Conn.DomainDestroyAndUndefine(id); err != nil {
				e.Log.Warn("destroy/undefine domain failed", zap.String("instance_id", id), zap.Error(err))
			}
		}

		now := time.Now().UTC().Format(time.RFC3339)
		err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
			changed, txErr := store.TerminateInstance(ctx, tx, id, now)
			if txErr != nil {
				return txErr
			}
			if changed {
				return store.DeleteTags(ctx, tx, "instance", id, nil)
			}
			return nil
		})
		if err != nil {
			return nil, apierror.Internal("terminate instance %s: %s", id, err)
		}

		item := xmlresp.El("item")
		item.Field("instanceId", id)
		item.Field("previousState", prev.State)
		item.Field("currentState", store.InstanceTerminated)
		items = append(items, item)
	}

	c := xmlresp.El("")
	c.List("instancesSet", xmlresp.Expanded, items)
	return c, nil
}

// StopInstances requests ACPI shutdown and polls until the domain settles
// into a stopped state or the configured deadline elapses (spec.md §4.7,
// resolving Open Question 4 with a bounded wait — see DESIGN.md).
func (e *Engine) StopInstances(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	requested := scalarList(args, "InstanceId")
	if len(requested) == 0 {
		return nil, apierror.InvalidParameterValue("StopInstances requires at least one InstanceId")
	}

	deadline := time.Now().Add(time.Duration(e.Cfg.StopWaitDeadlineSeconds) * time.Second)

	var items []*xmlresp.Element
	for _, id := range requested {
		prev, err := store.GetInstance(ctx, e.Store.DB(), id)
		if err != nil {
			return nil, apierror.InstanceNotFound("instance %s: %s", id, err)
		}

		if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.SetInstanceState(ctx, tx, id, store.InstanceStopping)
		}); err != nil {
			return nil, apierror.Internal("mark instance stopping: %s", err)
		}
		if err := e.Conn.DomainShutdown(id); err != nil {
			e.Log.Warn("domain shutdown request failed", zap.String("instance_id", id), zap.Error(err))
		}

		finalState := store.InstanceStopping
		ticker := time.NewTicker(5 * time.Second)
	pollLoop:
		for {
			if state, stateErr := e.Conn.DomainState(id); stateErr == nil && domainStateToAWS(state) == store.InstanceStopped {
				finalState = store.InstanceStopped
				break pollLoop
			}
			if time.Now().After(deadline) {
				break pollLoop
			}
			select {
			case <-ctx.Done():
				ticker.Stop()
				return nil, apierror.Internal("stop instance %s: %s", id, ctx.Err())
			case <-ticker.C:
			}
		}
		ticker.Stop()

		if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.SetInstanceState(ctx, tx, id, finalState)
		}); err != nil {
			return nil, apierror.Internal("record final instance state: %s", err)
		}

		item := xmlresp.El("item")
		item.Field("instanceId", id)
		item.Field("previousState", prev.State)
		item.Field("currentState", finalState)
		items = append(items, item)
	}

	c := xmlresp.El("")
	c.List("instancesSet", xmlresp.Expanded, items)
	return c, nil
}

// DescribeInstances returns shadow+live state for the requested instances,
// or every known instance if none were named. A terminated instance
// reports only state/AZ/subnet (spec.md §4.7).
func (e *Engine) DescribeInstances(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	requested := scalarList(args, "InstanceId")

	var instances []store.Instance
	if len(requested) == 0 {
		all, err := store.ListInstances(ctx, e.Store.DB())
		if err != nil {
			return nil, apierror.Internal("list instances: %s", err)
		}
		instances = all
	} else {
		for _, id := range requested {
			inst, err := store.GetInstance(ctx, e.Store.DB(), id)
			if err != nil {
				return nil, apierror.InstanceNotFound("instance %s: %s", id, err)
			}
			instances = append(instances, *inst)
		}
	}

	var items []*xmlresp.Element
	for _, inst := range instances {
		state := inst.State
		if inst.State != store.InstanceTerminated {
			if liveState, err := e.Conn.DomainState(inst.ID); err == nil {
				mapped := domainStateToAWS(liveState)
				if mapped != inst.State {
					state = mapped
					_ = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
						return store.SetInstanceState(ctx, tx, inst.ID, mapped)
					})
				}
			}
		}

		tags, _ := store.GetTags(ctx, e.Store.DB(), "instance", inst.ID)

		item := xmlresp.El("item")
		item.Field("instanceId", inst.ID)
		item.Child(xmlresp.El("instanceState").Field("name", state))
		item.Field("availabilityZone", inst.AvailabilityZone)
		item.Field("subnetId", inst.SubnetID)

		var tagItems []*xmlresp.Element
		for _, t := range tags {
			ti := xmlresp.El("item")
			ti.Field("key", t.Key)
			ti.Field("value", t.Value)
			tagItems = append(tagItems, ti)
		}
		item.List("tagSet", xmlresp.Expanded, tagItems)

		if state != store.InstanceTerminated {
			if xmlText, err := e.Conn.DomainXML(inst.ID); err == nil {
				if dom, err := libvirtx.ParseDomain(xmlText); err == nil {
					var bdm []*xmlresp.Element
					for _, disk := range dom.Disks() {
						if disk.Vol == "" {
							continue
						}
						bi := xmlresp.El("item")
						bi.Field("deviceName", disk.TargetDevice)
						ebs := xmlresp.El("ebs")
						ebs.Field("volumeId", disk.Vol)
						ebs.Field("status", "attached")
						bi.Child(ebs)
						bdm = append(bdm, bi)
					}
					item.List("blockDeviceMapping", xmlresp.Expanded, bdm)
				}
			}
		}

		items = append(items, item)
	}

	var reservations []*xmlresp.Element
	for _, item := range items {
		res := xmlresp.El("item")
		res.Field("reservationId", ids.RequestID())
		res.List("instancesSet", xmlresp.Expanded, []*xmlresp.Element{item})
		reservations = append(reservations, res)
	}

	c := xmlresp.El("")
	c.List("reservationSet", xmlresp.Expanded, reservations)
	return c, nil
}

// describedInstanceTypes is a small fixed catalog for DescribeInstanceTypes
// (spec.md §4.13 supplement): enough shapes for CLIs/SDKs that probe
// instance-type metadata before calling RunInstances.
var describedInstanceTypes = []struct {
	Name   string
	VCPUs  int
	MemMiB int
}{
	{"t3.micro", 2, 1024},
	{"t3.small", 2, 2048},
	{"t3.medium", 2, 4096},
	{"m5.large", 2, 8192},
	{"m5.xlarge", 4, 16384},
}

// DescribeInstanceTypes returns a fixed catalog of instance type shapes
// (spec.md §4.13: added for CLI/SDK compatibility, this emulator has no
// real capacity-shape concept since every instance is a clone of its
// source image's sizing).
func (e *Engine) DescribeInstanceTypes(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	var items []*xmlresp.Element
	for _, it := range describedInstanceTypes {
		item := xmlresp.El("item")
		item.Field("instanceType", it.Name)
		item.Field("vCpuInfo", strconv.Itoa(it.VCPUs))
		item.Field("memoryInfo", strconv.Itoa(it.MemMiB))
		items = append(items, item)
	}
	c := xmlresp.El("")
	c.List("instanceTypeSet", xmlresp.Expanded, items)
	return c, nil
}

// DescribeInstanceAttribute returns a fixed, best-effort attribute value:
// this emulator doesn't model per-attribute instance metadata beyond what
// RunInstances recorded, so unsupported attributes report an empty value
// rather than failing (spec.md §4.13: "thin fixed-response handlers").
func (e *Engine) DescribeInstanceAttribute(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	instanceID, err := requireStr(args, "InstanceId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	if _, err := store.GetInstance(ctx, e.Store.DB(), instanceID); err != nil {
		return nil, apierror.InstanceNotFound("instance %s: %s", instanceID, err)
	}

	attribute := str(args, "Attribute")
	c := xmlresp.El("")
	c.Field("instanceId", instanceID)
	switch attribute {
	case "instanceType":
		c.Child(xmlresp.El("instanceType").Field("value", "t3.micro"))
	case "disableApiTermination":
		c.Child(xmlresp.El("disableApiTermination").Field("value", "false"))
	default:
		c.Child(xmlresp.El(attribute))
	}
	return c, nil
}

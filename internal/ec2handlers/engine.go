package ec2handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/attachment"
	"github.com/libvirt-aws/libvirt-aws/internal/config"
	"github.com/libvirt-aws/libvirt-aws/internal/dispatch"
	"github.com/libvirt-aws/libvirt-aws/internal/lvclient"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
)

// Engine holds the collaborators every EC2 handler needs: the shadow-state
// store, the libvirt connection, the in-memory attachment tracker, service
// configuration, and a logger.
type Engine struct {
	Store   *store.Store
	Conn    *lvclient.Conn
	Tracker *attachment.Tracker
	Cfg     *config.Config
	Log     *zap.Logger
}

// New builds an Engine over its collaborators.
func New(st *store.Store, conn *lvclient.Conn, tracker *attachment.Tracker, cfg *config.Config, log *zap.Logger) *Engine {
	return &Engine{Store: st, Conn: conn, Tracker: tracker, Cfg: cfg, Log: log}
}

// Register wires every EC2 action this service answers into reg.
func (e *Engine) Register(reg *dispatch.Registry) {
	post := func(action string, h dispatch.XMLHandlerFunc) {
		reg.Register(dispatch.Binding{Action: action, Method: http.MethodPost, Handler: h, InjectRequestID: true})
	}
	get := func(action string, h dispatch.XMLHandlerFunc) {
		reg.Register(dispatch.Binding{Action: action, Method: http.MethodGet, Handler: h, InjectRequestID: true})
	}

	get("DescribeAvailabilityZones", e.DescribeAvailabilityZones)
	post("DescribeAvailabilityZones", e.DescribeAvailabilityZones)

	post("AllocateAddress", e.AllocateAddress)
	post("AssociateAddress", e.AssociateAddress)
	post("DisassociateAddress", e.DisassociateAddress)
	post("ReleaseAddress", e.ReleaseAddress)
	get("DescribeAddresses", e.DescribeAddresses)
	post("DescribeAddresses", e.DescribeAddresses)
	post("AssignPrivateIpAddresses", e.AssignPrivateIpAddresses)
	post("UnassignPrivateIpAddresses", e.UnassignPrivateIpAddresses)

	post("CreateVolume", e.CreateVolume)
	post("DeleteVolume", e.DeleteVolume)
	get("DescribeVolumes", e.DescribeVolumes)
	post("DescribeVolumes", e.DescribeVolumes)
	post("AttachVolume", e.AttachVolume)
	post("DetachVolume", e.DetachVolume)

	post("RunInstances", e.RunInstances)
	post("TerminateInstances", e.TerminateInstances)
	post("StopInstances", e.StopInstances)
	get("DescribeInstances", e.DescribeInstances)
	post("DescribeInstances", e.DescribeInstances)
	get("DescribeInstanceTypes", e.DescribeInstanceTypes)
	post("DescribeInstanceTypes", e.DescribeInstanceTypes)
	post("DescribeInstanceAttribute", e.DescribeInstanceAttribute)
	get("DescribeInstanceAttribute", e.DescribeInstanceAttribute)

	get("DescribeImages", e.DescribeImages)
	post("DescribeImages", e.DescribeImages)
	post("CreateImage", e.CreateImage)
	post("DeregisterImage", e.DeregisterImage)

	post("CreateLaunchTemplate", e.CreateLaunchTemplate)
	get("DescribeLaunchTemplates", e.DescribeLaunchTemplates)
	post("DescribeLaunchTemplates", e.DescribeLaunchTemplates)
	post("DeleteLaunchTemplate", e.DeleteLaunchTemplate)

	post("CreateTags", e.CreateTags)
	post("DeleteTags", e.DeleteTags)
	get("DescribeTags", e.DescribeTags)
	post("DescribeTags", e.DescribeTags)
}

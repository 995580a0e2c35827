// Package route53handlers implements the Route 53 REST surface: hosted
// zones (the libvirt network's primary zone plus persisted virtual
// sub-zones), resource record sets backed by the network's live DNS
// configuration, change tracking, and resource tags (spec.md §4.4, §4.13).
package route53handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/config"
	"github.com/libvirt-aws/libvirt-aws/internal/dispatch"
	"github.com/libvirt-aws/libvirt-aws/internal/lvclient"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
)

// Engine holds the collaborators every Route 53 handler needs.
type Engine struct {
	Store *store.Store
	Conn  *lvclient.Conn
	Cfg   *config.Config
	Log   *zap.Logger
}

// New builds an Engine over its collaborators.
func New(st *store.Store, conn *lvclient.Conn, cfg *config.Config, log *zap.Logger) *Engine {
	return &Engine{Store: st, Conn: conn, Cfg: cfg, Log: log}
}

// Register wires every Route 53 action this service answers into reg,
// matching the REST paths already bound in dispatch.Route53Routes.
func (e *Engine) Register(reg *dispatch.Registry) {
	bind := func(action, method string, h dispatch.XMLHandlerFunc) {
		reg.Register(dispatch.Binding{
			Action:          action,
			Method:          method,
			Handler:         h,
			ErrorEnvelope:   dispatch.Route53Envelope,
			InjectRequestID: true,
		})
	}

	bind("ListHostedZones", http.MethodGet, e.ListHostedZones)
	bind("CreateHostedZone", http.MethodPost, e.CreateHostedZone)
	bind("GetHostedZone", http.MethodGet, e.GetHostedZone)
	bind("UpdateHostedZoneComment", http.MethodPost, e.UpdateHostedZoneComment)
	bind("DeleteHostedZone", http.MethodDelete, e.DeleteHostedZone)
	bind("ListResourceRecordSets", http.MethodGet, e.ListResourceRecordSets)
	bind("ChangeResourceRecordSets", http.MethodPost, e.ChangeResourceRecordSets)
	bind("ListHostedZonesByName", http.MethodGet, e.ListHostedZonesByName)
	bind("ListTagsForResource", http.MethodGet, e.ListTagsForResource)
	bind("ChangeTagsForResource", http.MethodPost, e.ChangeTagsForResource)
	bind("GetChange", http.MethodGet, e.GetChange)
}

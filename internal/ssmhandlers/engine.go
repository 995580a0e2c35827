// Package ssmhandlers implements the SSM subset of the control-plane
// surface: document storage, SendCommand dispatch over the guest agent,
// and GetCommandInvocation lookup (spec.md §4.8). Unlike ec2handlers and
// route53handlers, every action here speaks AWS JSON-1.1 rather than the
// query/XML dialect.
package ssmhandlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/config"
	"github.com/libvirt-aws/libvirt-aws/internal/dispatch"
	"github.com/libvirt-aws/libvirt-aws/internal/lvclient"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
)

// Engine holds the collaborators every SSM handler needs.
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

// Register wires the three AmazonSSM actions this service answers into
// reg, all under the JSON-1.1 protocol (spec.md §6: "SSM uses
// AmazonSSM.<Action>").
func (e *Engine) Register(reg *dispatch.Registry) {
	bind := func(action string, h dispatch.JSONHandlerFunc) {
		reg.Register(dispatch.Binding{
			Action:      action,
			Method:      http.MethodPost,
			Protocol:    dispatch.JSON,
			JSONHandler: h,
		})
	}

	bind("CreateDocument", e.CreateDocument)
	bind("SendCommand", e.SendCommand)
	bind("GetCommandInvocation", e.GetCommandInvocation)
}

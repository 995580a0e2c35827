// Package dispatch implements the protocol dispatcher: a registry keyed
// by (action, HTTP method) serving both the AWS "query" XML dialect and
// AWS JSON-1.1, with per-binding error-envelope selection, matching
// spec.md §4.1's action-resolution and error-formatting rules.
package dispatch

import (
	"context"

	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// Protocol names the wire dialect a binding answers.
type Protocol int

const (
	// EC2 is the query-string/XML dialect used by most EC2 actions and,
	// with a different error envelope, by the Route 53 REST surface.
	EC2 Protocol = iota
	// JSON is AWS JSON-1.1, used by SSM actions.
	JSON
)

// ErrorEnvelope selects which XML error envelope a binding's failures are
// rendered in (spec.md §6: EC2 vs Route 53 use different shapes).
type ErrorEnvelope int

const (
	EC2Envelope ErrorEnvelope = iota
	Route53Envelope
)

// Key identifies a binding by the action name and the HTTP method it
// answers.
type Key struct {
	Action string
	Method string
}

// XMLHandlerFunc is a query/REST-protocol handler. It returns the
// *content* of a successful response — the children that will be nested
// under the dispatcher-synthesized `<{Action}Response>` root — or a
// apierror.Condition (or any error, which the dispatcher treats as
// Internal) on failure.
type XMLHandlerFunc func(ctx context.Context, args map[string]any) (*xmlresp.Element, error)

// JSONHandlerFunc is a JSON-1.1 protocol handler (SSM). It returns a
// value that will be marshaled as the response body directly.
type JSONHandlerFunc func(ctx context.Context, body map[string]any) (any, error)

// Binding describes one registered action.
type Binding struct {
	Action   string
	Method   string
	Protocol Protocol

	// Handler is set for Protocol == EC2 bindings.
	Handler XMLHandlerFunc
	// JSONHandler is set for Protocol == JSON bindings.
	JSONHandler JSONHandlerFunc

	// XMLNS overrides the response root element's xmlns; if empty, the
	// dispatcher fills in the EC2 default
	// ("http://ec2.amazonaws.com/doc/{Version}/") or, for Route53Envelope
	// bindings, "https://route53.amazonaws.com/doc/2013-04-01/".
	XMLNS string
	// InjectRequestID, when true, adds a RequestID (or, for
	// Route53Envelope bindings, RequestId) child with a fresh id.
	InjectRequestID bool
	// ErrorEnvelope selects the XML shape failures are rendered in.
	ErrorEnvelope ErrorEnvelope
}

// Registry maps (action, method) to its Binding.
type Registry struct {
	bindings map[Key]*Binding
	// byAction indexes every method registered for an action, so the
	// dispatcher can tell "unknown action" (400 InvalidAction) apart from
	// "known action, wrong method" (405 MethodNotAllowed).
	byAction map[string][]string
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bindings: make(map[Key]*Binding),
		byAction: make(map[string][]string),
	}
}

// Register adds a binding. Registering the same (action, method) twice
// panics: it indicates a wiring bug, not a runtime condition.
func (r *Registry) Register(b Binding) {
	key := Key{Action: b.Action, Method: b.Method}
	if _, exists := r.bindings[key]; exists {
		panic("dispatch: duplicate binding for " + b.Action + " " + b.Method)
	}
	bCopy := b
	r.bindings[key] = &bCopy
	r.byAction[b.Action] = append(r.byAction[b.Action], b.Method)
}

// Lookup resolves a binding. actionKnown is false if the action is entirely
// unknown; methodAllowed is false if the action is known but not for
// this method — the two cases the dispatcher maps to InvalidAction (400)
// and MethodNotAllowed (405) respectively.
func (r *Registry) Lookup(action, method string) (binding *Binding, methodAllowed, actionKnown bool) {
	if _, known := r.byAction[action]; !known {
		return nil, false, false
	}
	if b, ok := r.bindings[Key{Action: action, Method: method}]; ok {
		return b, true, true
	}
	return nil, false, true
}

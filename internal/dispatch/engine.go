package dispatch

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/argdecoder"
)

const jsonContentType = "application/x-amz-json-1.1"

// RouteBinding maps one (HTTP path, method) pair the Route 53 REST surface
// exposes onto an explicit action name, resolved at registration time per
// spec.md §4.1's action-resolution rule #2.
type RouteBinding struct {
	Path   string
	Method string
	Action string
}

// Route53Routes is the REST path table from spec.md §6.
var Route53Routes = []RouteBinding{
	{Path: "/2013-04-01/hostedzone", Method: http.MethodGet, Action: "ListHostedZones"},
	{Path: "/2013-04-01/hostedzone", Method: http.MethodPost, Action: "CreateHostedZone"},
	{Path: "/2013-04-01/hostedzone/{Id}", Method: http.MethodGet, Action: "GetHostedZone"},
	{Path: "/2013-04-01/hostedzone/{Id}", Method: http.MethodPost, Action: "UpdateHostedZoneComment"},
	{Path: "/2013-04-01/hostedzone/{Id}", Method: http.MethodDelete, Action: "DeleteHostedZone"},
	{Path: "/2013-04-01/hostedzone/{Id}/rrset", Method: http.MethodGet, Action: "ListResourceRecordSets"},
	{Path: "/2013-04-01/hostedzone/{Id}/rrset/", Method: http.MethodPost, Action: "ChangeResourceRecordSets"},
	{Path: "/2013-04-01/hostedzonesbyname", Method: http.MethodGet, Action: "ListHostedZonesByName"},
	{Path: "/2013-04-01/tags/{ResourceType}/{ResourceId}", Method: http.MethodGet, Action: "ListTagsForResource"},
	{Path: "/2013-04-01/tags/{ResourceType}/{ResourceId}", Method: http.MethodPost, Action: "ChangeTagsForResource"},
	{Path: "/2013-04-01/change/{Id}", Method: http.MethodGet, Action: "GetChange"},
}

// Engine serves HTTP requests against a Registry, resolving the wire
// protocol and action per spec.md §4.1 and rendering the result.
type Engine struct {
	registry *Registry
	log      *zap.Logger
}

// NewEngine builds an Engine over registry.
func NewEngine(registry *Registry, log *zap.Logger) *Engine {
	return &Engine{registry: registry, log: log}
}

// Router builds the gorilla/mux router for the whole HTTP surface: "/"
// for EC2 query/JSON actions, plus the Route 53 REST paths.
func (e *Engine) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", e.serveRoot).Methods(http.MethodGet, http.MethodPost)
	for _, rb := range Route53Routes {
		rb := rb
		r.HandleFunc(rb.Path, e.serveExplicitAction(rb.Action)).Methods(rb.Method)
	}
	return r
}

// serveRoot handles "/": either AWS JSON-1.1 (SSM) or the EC2 query
// protocol, distinguished by Content-Type per spec.md §4.1.
func (e *Engine) serveRoot(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), jsonContentType) {
		e.serveJSON(w, r)
		return
	}
	e.serveXML(w, r, "")
}

// serveExplicitAction returns a handler for a Route 53 REST route whose
// action is fixed at registration time rather than read from the body.
func (e *Engine) serveExplicitAction(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		e.serveXML(w, r, action)
	}
}

// serveXML implements the EC2 query-protocol / Route 53 REST dispatch
// path (spec.md §4.1's "EC2 path").
func (e *Engine) serveXML(w http.ResponseWriter, r *http.Request, explicitAction string) {
	ctx := r.Context()

	var values map[string][]string
	var bodyText string

	if r.Method == http.MethodPost {
		raw, err := io.ReadAll(r.Body)
		if err != nil {
			e.writeXMLError(w, EC2Envelope, apierror.InvalidInput("reading request body: %s", err))
			return
		}
		bodyText = string(raw)
		r.Body = io.NopCloser(bytes.NewReader(raw))
		if err := r.ParseForm(); err != nil {
			// Not form-encoded (e.g. a Route 53 change-batch XML body);
			// that's expected for those actions, which read BodyText
			// instead of form fields.
			r.Form = map[string][]string{}
		}
		values = map[string][]string(r.Form)
	} else {
		values = map[string][]string(r.URL.Query())
	}

	action := explicitAction
	if action == "" {
		if len(values["Action"]) > 0 {
			action = values["Action"][0]
		}
	}
	if action == "" {
		e.writeXMLError(w, EC2Envelope, apierror.InvalidAction("no action specified"))
		return
	}

	binding, methodAllowed, actionKnown := e.registry.Lookup(action, r.Method)
	if !actionKnown {
		e.writeXMLError(w, EC2Envelope, apierror.InvalidAction("unrecognized action %q", action))
		return
	}
	if !methodAllowed {
		e.writeXMLError(w, EC2Envelope, apierror.MethodNotAllowed("action %q does not support method %s", action, r.Method))
		return
	}

	args, err := argdecoder.Decode(values)
	if err != nil {
		e.writeXMLError(w, binding.ErrorEnvelope, apierror.InvalidParameterValue("%s", err))
		return
	}
	if bodyText != "" {
		args["BodyText"] = bodyText
	}
	for k, v := range mux.Vars(r) {
		args[k] = v
	}

	content, err := binding.Handler(ctx, args)
	if err != nil {
		e.log.Debug("handler error", zap.String("action", action), zap.Error(err))
		e.writeXMLError(w, binding.ErrorEnvelope, apierror.AsCondition(err))
		return
	}

	out, err := renderSuccess(binding, action, content)
	if err != nil {
		e.writeXMLError(w, binding.ErrorEnvelope, apierror.Internal("rendering response: %s", err))
		return
	}
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

// serveJSON implements the AWS JSON-1.1 dispatch path (spec.md §4.1's
// "JSON path"), used by SSM.
func (e *Engine) serveJSON(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	target := r.Header.Get("X-Amz-Target")
	action := target
	if idx := strings.LastIndex(target, "."); idx >= 0 {
		action = target[idx+1:]
	}
	if action == "" {
		e.writeJSONError(w, apierror.InvalidAction("missing X-Amz-Target header"))
		return
	}

	var body map[string]any
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil && err != io.EOF {
			e.writeJSONError(w, apierror.InvalidInput("decoding JSON body: %s", err))
			return
		}
	}
	if body == nil {
		body = map[string]any{}
	}

	binding, methodAllowed, actionKnown := e.registry.Lookup(action, http.MethodPost)
	if !actionKnown {
		e.writeJSONError(w, apierror.InvalidAction("unrecognized action %q", action))
		return
	}
	if !methodAllowed {
		e.writeJSONError(w, apierror.MethodNotAllowed("action %q does not support POST", action))
		return
	}

	result, err := binding.JSONHandler(ctx, body)
	if err != nil {
		e.log.Debug("handler error", zap.String("action", action), zap.Error(err))
		e.writeJSONError(w, apierror.AsCondition(err))
		return
	}

	out, err := json.Marshal(result)
	if err != nil {
		e.writeJSONError(w, apierror.Internal("marshaling response: %s", err))
		return
	}
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(out)
}

func (e *Engine) writeXMLError(w http.ResponseWriter, envelope ErrorEnvelope, cond apierror.Condition) {
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(cond.Status())
	w.Write(renderError(envelope, cond))
}

type jsonErrorBody struct {
	Type    string `json:"__type"`
	Message string `json:"message"`
}

func (e *Engine) writeJSONError(w http.ResponseWriter, cond apierror.Condition) {
	w.Header().Set("Content-Type", jsonContentType)
	w.WriteHeader(cond.Status())
	body, _ := json.Marshal(jsonErrorBody{Type: cond.Code(), Message: cond.Error()})
	w.Write(body)
}

package dispatch

import (
	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/ids"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

const (
	ec2DefaultVersion   = "2016-11-15"
	route53DefaultXMLNS = "https://route53.amazonaws.com/doc/2013-04-01/"
)

func ec2DefaultXMLNS() string {
	return "http://ec2.amazonaws.com/doc/" + ec2DefaultVersion + "/"
}

// renderSuccess wraps a handler's content element under
// "<{action}Response>", applying xmlns and request-id injection per the
// binding, and serializes it.
func renderSuccess(b *Binding, action string, content *xmlresp.Element) ([]byte, error) {
	root := xmlresp.El(action + "Response")

	idField := "RequestID"
	if b.ErrorEnvelope == Route53Envelope {
		idField = "RequestId"
	}
	if b.InjectRequestID {
		root.Field(idField, ids.RequestID())
	}
	if content != nil {
		root.Children = append(root.Children, content.Children...)
	}

	xmlns := b.XMLNS
	if xmlns == "" {
		if b.ErrorEnvelope == Route53Envelope {
			xmlns = route53DefaultXMLNS
		} else {
			xmlns = ec2DefaultXMLNS()
		}
	}
	return xmlresp.Render(root, xmlns)
}

// renderError renders a failure per the binding's error envelope
// (spec.md §6): EC2's <Response><Errors><Error>...</Error></Errors></Response>
// or Route 53's <ErrorResponse><Error>...</Error></ErrorResponse>.
func renderError(envelope ErrorEnvelope, cond apierror.Condition) []byte {
	errEl := xmlresp.El("Error")
	errEl.Field("Code", cond.Code())
	errEl.Field("Message", cond.Error())
	errEl.Field("Type", "Sender")

	var root *xmlresp.Element
	if envelope == Route53Envelope {
		root = xmlresp.El("ErrorResponse")
		root.Field("RequestId", ids.RequestID())
		root.Child(errEl)
	} else {
		root = xmlresp.El("Response")
		root.Field("RequestID", ids.RequestID())
		root.Child(xmlresp.El("Errors").Child(errEl))
	}

	out, err := xmlresp.Render(root, "")
	if err != nil {
		// Render only fails on programmer error (it never does today); a
		// minimal fallback keeps this function infallible for callers.
		return []byte(`<ErrorResponse><Error><Code>InternalError</Code></Error></ErrorResponse>`)
	}
	return out
}

package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

func testEngine(t *testing.T) (*Engine, *Registry) {
	t.Helper()
	reg := NewRegistry()
	return NewEngine(reg, zap.NewNop()), reg
}

func TestServeXMLSuccess(t *testing.T) {
	e, reg := testEngine(t)
	reg.Register(Binding{
		Action: "DescribeAvailabilityZones",
		Method: http.MethodGet,
		Handler: func(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
			c := xmlresp.El("")
			c.Field("zoneName", "us-east-2a")
			return c, nil
		},
		InjectRequestID: true,
	})

	req := httptest.NewRequest(http.MethodGet, "/?Action=DescribeAvailabilityZones", nil)
	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	require.Contains(t, body, "<DescribeAvailabilityZonesResponse")
	require.Contains(t, body, "<zoneName>us-east-2a</zoneName>")
	require.Contains(t, body, "<RequestID>")
}

func TestServeXMLUnknownAction(t *testing.T) {
	e, _ := testEngine(t)
	req := httptest.NewRequest(http.MethodGet, "/?Action=NoSuchAction", nil)
	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "InvalidAction")
}

func TestServeXMLMethodNotAllowed(t *testing.T) {
	e, reg := testEngine(t)
	reg.Register(Binding{
		Action: "DescribeAvailabilityZones",
		Method: http.MethodGet,
		Handler: func(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
			return xmlresp.El(""), nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("Action=DescribeAvailabilityZones"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestServeXMLHandlerCondition(t *testing.T) {
	e, reg := testEngine(t)
	reg.Register(Binding{
		Action: "TerminateInstances",
		Method: http.MethodPost,
		Handler: func(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
			return nil, apierror.InstanceNotFound("no such instance %v", args["InstanceId"])
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("Action=TerminateInstances&InstanceId=i-bad"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "InvalidInstanceID.NotFound")
}

func TestServeRoute53ExplicitAction(t *testing.T) {
	e, reg := testEngine(t)
	reg.Register(Binding{
		Action:        "GetHostedZone",
		Method:        http.MethodGet,
		ErrorEnvelope: Route53Envelope,
		Handler: func(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
			require.Equal(t, "ABCDEF", args["Id"])
			c := xmlresp.El("")
			c.Field("Name", "example.local.")
			return c, nil
		},
	})

	req := httptest.NewRequest(http.MethodGet, "/2013-04-01/hostedzone/ABCDEF", nil)
	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "<GetHostedZoneResponse")
	require.Contains(t, rec.Body.String(), "route53.amazonaws.com")
}

func TestServeJSON(t *testing.T) {
	e, reg := testEngine(t)
	reg.Register(Binding{
		Action:   "GetCommandInvocation",
		Method:   http.MethodPost,
		Protocol: JSON,
		JSONHandler: func(ctx context.Context, body map[string]any) (any, error) {
			return map[string]any{"Status": "Success"}, nil
		},
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"CommandId":"c1"}`))
	req.Header.Set("Content-Type", "application/x-amz-json-1.1")
	req.Header.Set("X-Amz-Target", "AmazonSSM.GetCommandInvocation")
	rec := httptest.NewRecorder()
	e.Router().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"Status":"Success"}`, rec.Body.String())
}

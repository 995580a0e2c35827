// Package apierror defines the typed error conditions raised by handlers
// and consumed by the protocol dispatcher's error formatters.
package apierror

import "fmt"

// Condition is the interface the dispatcher type-switches on when a handler
// returns an error. Any error that doesn't implement Condition is treated as
// an Internal failure.
type Condition interface {
	error
	Code() string
	Status() int
}

type condition struct {
	code   string
	status int
	msg    string
}

func (c *condition) Error() string { return c.msg }
func (c *condition) Code() string  { return c.code }
func (c *condition) Status() int   { return c.status }

func newf(code string, status int, format string, args ...any) *condition {
	return &condition{code: code, status: status, msg: fmt.Sprintf(format, args...)}
}

// InvalidAction covers both an unrecognized action and a method the
// dispatcher has no binding for (spec.md §7: both map to code InvalidAction,
// distinguished only by HTTP status).
func InvalidAction(format string, args ...any) Condition {
	return newf("InvalidAction", 400, format, args...)
}

// MethodNotAllowed is InvalidAction with a 405 status.
func MethodNotAllowed(format string, args ...any) Condition {
	return newf("InvalidAction", 405, format, args...)
}

func InvalidParameterValue(format string, args ...any) Condition {
	return newf("InvalidParameterValue", 400, format, args...)
}

func IncorrectState(format string, args ...any) Condition {
	return newf("IncorrectState", 400, format, args...)
}

func InstanceNotFound(format string, args ...any) Condition {
	return newf("InvalidInstanceID.NotFound", 400, format, args...)
}

func VolumeNotFound(format string, args ...any) Condition {
	return newf("InvalidVolume.NotFound", 400, format, args...)
}

func AttachmentNotFound(format string, args ...any) Condition {
	return newf("InvalidAttachment.NotFound", 400, format, args...)
}

func AddressNotFound(format string, args ...any) Condition {
	return newf("InvalidAddress.NotFound", 400, format, args...)
}

func AddressIDNotFound(format string, args ...any) Condition {
	return newf("InvalidAddressID.NotFound", 400, format, args...)
}

func AssociationIDNotFound(format string, args ...any) Condition {
	return newf("InvalidAssociationID.NotFound", 400, format, args...)
}

func AddressInUse(format string, args ...any) Condition {
	return newf("InvalidIPAddress.InUse", 400, format, args...)
}

func AddressLimitExceeded(format string, args ...any) Condition {
	return newf("AddressLimitExceeded", 400, format, args...)
}

func NoSuchHostedZone(format string, args ...any) Condition {
	return newf("NoSuchHostedZone", 404, format, args...)
}

func HostedZoneNotEmpty(format string, args ...any) Condition {
	return newf("HostedZoneNotEmpty", 400, format, args...)
}

func InvalidInput(format string, args ...any) Condition {
	return newf("InvalidInput", 400, format, args...)
}

func InvalidChangeBatch(format string, args ...any) Condition {
	return newf("InvalidChangeBatch", 400, format, args...)
}

func NoSuchChange(format string, args ...any) Condition {
	return newf("NoSuchChange", 404, format, args...)
}

func Internal(format string, args ...any) Condition {
	return newf("InternalError", 500, format, args...)
}

// AsCondition unwraps err into a Condition if possible, otherwise wraps it
// as an InternalError carrying err's message. Handlers are free to return
// plain errors from helper calls; the dispatcher always gets a Condition.
func AsCondition(err error) Condition {
	if err == nil {
		return nil
	}
	if c, ok := err.(Condition); ok {
		return c
	}
	return Internal("%s", err.Error())
}

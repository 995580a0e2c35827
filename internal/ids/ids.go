// Package ids generates the identifier strings AWS clients expect back
// from this service: instance ids, allocation/association ids, hosted
// zone and change ids, and so on.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

func hex32() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:32]
}

// Instance returns a fresh "i-<hex32>" instance id (spec.md §4.7).
func Instance() string {
	return "i-" + hex32()
}

// Volume returns a fresh "vol-<uuid>.qcow2" volume name.
func Volume() string {
	return "vol-" + uuid.NewString() + ".qcow2"
}

// AllocationID returns a fresh "eipalloc-<uuid>" elastic IP allocation id.
func AllocationID() string {
	return "eipalloc-" + uuid.NewString()
}

// AssociationID returns a fresh "eipassoc-<uuid>" elastic IP association id.
func AssociationID() string {
	return "eipassoc-" + uuid.NewString()
}

// HostedZoneID returns a fresh 32-hex-character hosted zone id (spec.md
// §8 scenario 2: "HostedZone.Id=/hostedzone/<32-hex>").
func HostedZoneID() string {
	return hex32()
}

// ChangeID returns a fresh change-batch id, 32 hex characters (dns.py:
// str(uuid.uuid4()).replace("-", "")).
func ChangeID() string {
	return hex32()
}

// CommandID returns a fresh SSM command id.
func CommandID() string {
	return uuid.NewString()
}

// LaunchTemplateID returns a fresh launch template id.
func LaunchTemplateID() string {
	return "lt-" + hex32()
}

// RequestID returns a fresh AWS-style request id injected into every
// response (spec.md §4.1).
func RequestID() string {
	return uuid.NewString()
}

// Package ec2handlers implements the EC2-surface actions: instances,
// volumes, elastic/private addresses, availability zones, machine
// images, launch templates, and resource tags.
package ec2handlers

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/argdecoder"
	"github.com/libvirt-aws/libvirt-aws/internal/ids"
)

// volID returns a fresh volume name; kept as a one-line indirection so
// every call site reads "a volume id" rather than reaching into internal/ids
// directly.
func volID() string {
	return ids.Volume()
}

// zapVolumeFields builds the structured log fields CreateVolume's entry log
// line uses: the volume id and its size in human-readable form (via
// go-humanize, the same library the teacher uses for ec2.go's
// human-readable resource logging).
func zapVolumeFields(volumeID string, sizeGiB int64) []zap.Field {
	return []zap.Field{
		zap.String("volume_id", volumeID),
		zap.String("size", humanize.IBytes(uint64(sizeGiB)*humanize.GiByte)),
	}
}

// str reads a scalar string argument, returning "" if absent or not a
// string (the argument decoder only ever produces strings at leaves, so a
// non-string here means the caller walked into a container by mistake).
func str(args map[string]any, key string) string {
	v, ok := args[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// list reads a SparseList argument as a slice of map[string]any, skipping
// nil gaps (the decoder pads with nils on out-of-order indices).
func list(args map[string]any, key string) []map[string]any {
	v, ok := args[key]
	if !ok {
		return nil
	}
	sl, ok := v.(*argdecoder.SparseList)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(*sl))
	for _, item := range *sl {
		if item == nil {
			continue
		}
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

// scalarList reads a SparseList of plain string values (e.g.
// InstanceId.1, InstanceId.2), skipping nil gaps.
func scalarList(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok {
		return nil
	}
	sl, ok := v.(*argdecoder.SparseList)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(*sl))
	for _, item := range *sl {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// requireStr reads a required scalar argument, erroring if absent.
func requireStr(args map[string]any, key string) (string, error) {
	s := str(args, key)
	if s == "" {
		return "", fmt.Errorf("missing required parameter %s", key)
	}
	return s, nil
}

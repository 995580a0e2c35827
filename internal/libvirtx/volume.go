package libvirtx

import (
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

type volumeXML struct {
	XMLName  xml.Name `xml:"volume"`
	Name     string   `xml:"name"`
	Capacity struct {
		Unit  string `xml:"unit,attr"`
		Value string `xml:",chardata"`
	} `xml:"capacity"`
	Target struct {
		Path string `xml:"path"`
	} `xml:"target"`
	BackingStore *struct {
		Path string `xml:"path"`
	} `xml:"backingStore"`
}

// Volume is a typed view over a <volume> definition.
type Volume struct {
	Name string
	// CapacityBytes is the volume capacity, normalized to bytes from
	// whatever unit the XML declared (spec.md §4.3: "capacity (bytes; unit
	// text preserved where declared)" — the raw unit is kept on CapacityUnit
	// for diagnostic/log purposes, normalization happens on the numeric
	// value so callers never have to unit-convert themselves).
	CapacityBytes int64
	CapacityUnit  string
	TargetPath    string
	// BackingPath is the backing-store path, or "" if the volume has none.
	BackingPath string
}

var volumeCache sync.Map // map[string]*Volume

// ParseVolume parses volume XML text into a Volume, memoized by input text.
func ParseVolume(rawXML string) (*Volume, error) {
	if cached, ok := volumeCache.Load(rawXML); ok {
		return cached.(*Volume), nil
	}

	var raw volumeXML
	if err := xml.Unmarshal([]byte(rawXML), &raw); err != nil {
		return nil, fmt.Errorf("libvirtx: parse volume xml: %w", err)
	}

	unit := raw.Capacity.Unit
	if unit == "" {
		unit = "bytes"
	}
	value, err := strconv.ParseInt(strings.TrimSpace(raw.Capacity.Value), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("libvirtx: parse volume capacity %q: %w", raw.Capacity.Value, err)
	}
	bytes, err := toBytes(value, unit)
	if err != nil {
		return nil, err
	}

	vol := &Volume{
		Name:          raw.Name,
		CapacityBytes: bytes,
		CapacityUnit:  unit,
		TargetPath:    raw.Target.Path,
	}
	if raw.BackingStore != nil {
		vol.BackingPath = raw.BackingStore.Path
	}

	volumeCache.Store(rawXML, vol)
	return vol, nil
}

func toBytes(value int64, unit string) (int64, error) {
	var multiplier int64
	switch unit {
	case "bytes", "B":
		multiplier = 1
	case "KB":
		multiplier = 1000
	case "K", "KiB":
		multiplier = 1024
	case "MB":
		multiplier = 1000 * 1000
	case "M", "MiB":
		multiplier = 1024 * 1024
	case "GB":
		multiplier = 1000 * 1000 * 1000
	case "G", "GiB":
		multiplier = 1024 * 1024 * 1024
	case "TB":
		multiplier = 1000 * 1000 * 1000 * 1000
	case "T", "TiB":
		multiplier = 1024 * 1024 * 1024 * 1024
	default:
		return 0, fmt.Errorf("libvirtx: unknown capacity unit %q", unit)
	}
	return value * multiplier, nil
}

// VolumeXML renders the <volume> definition CreateVolume passes to
// StorageVolCreateXML: qcow2, given capacity in GiB, with the
// compat=1.1/lazy_refcounts settings spec.md §4.6 requires.
func VolumeXML(name string, sizeGiB int64) string {
	capacityBytes := sizeGiB * 1024 * 1024 * 1024
	return fmt.Sprintf(`<volume>
  <name>%s</name>
  <capacity unit='bytes'>%d</capacity>
  <target>
    <format type='qcow2'/>
    <compat>1.1</compat>
    <features>
      <lazy_refcounts/>
    </features>
  </target>
</volume>`, name, capacityBytes)
}

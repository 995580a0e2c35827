// Package libvirtx provides typed, read-through views over libvirt XML
// definitions (domain, volume, network) plus the Route 53-shaped DNS
// record-set computation derived from a network's <dns> block. Every
// parser is memoized by its input text and the resulting object is
// immutable after construction, mirroring the original implementation's
// functools.lru_cache on domain_from_xml/volume_from_xml/network_from_xml.
package libvirtx

import (
	"encoding/xml"
	"fmt"
	"sync"
)

// domainXML is the subset of libvirt's domain XML schema this service
// reads: the disk devices attached to a domain.
type domainXML struct {
	XMLName xml.Name `xml:"domain"`
	Name    string   `xml:"name"`
	Devices struct {
		Disks []diskXML `xml:"disk"`
	} `xml:"devices"`
}

type diskXML struct {
	Device string `xml:"device,attr"`
	Source struct {
		File string `xml:"file,attr"`
		Pool string `xml:"pool,attr"`
		Vol  string `xml:"volume,attr"`
	} `xml:"source"`
	Target struct {
		Dev string `xml:"dev,attr"`
		Bus string `xml:"bus,attr"`
	} `xml:"target"`
}

// Disk is a single attached block device.
type Disk struct {
	// Pool and Vol are populated when the disk source is a libvirt-managed
	// volume (type='volume'); File is populated for file-backed sources.
	Pool string
	Vol  string
	File string
	// TargetDevice is the in-guest device name (e.g. "vdb").
	TargetDevice string
}

// Attachment describes where a disk is attached: which domain, at which
// device, sourced from which pool/volume.
type Attachment struct {
	DomainName string
	Pool       string
	Vol        string
	Device     string
}

// Domain is a typed view over a <domain> definition.
type Domain struct {
	Name  string
	disks []Disk
}

// Disks returns the domain's attached disks, lazily materialized on first
// access (the struct itself is built eagerly from XML, "lazily
// materialized" here matches the source's on-demand disk device walking
// rather than deferring the XML parse itself).
func (d *Domain) Disks() []Disk {
	return d.disks
}

// Attachments returns every disk on the domain backed by a libvirt-managed
// volume (type='volume'), as Attachment descriptors, the shape
// AttachVolume/DetachVolume/DescribeVolumes reconcile against.
func (d *Domain) Attachments() []Attachment {
	var out []Attachment
	for _, disk := range d.disks {
		if disk.Pool == "" || disk.Vol == "" {
			continue
		}
		out = append(out, Attachment{
			DomainName: d.Name,
			Pool:       disk.Pool,
			Vol:        disk.Vol,
			Device:     disk.TargetDevice,
		})
	}
	return out
}

var domainCache sync.Map // map[string]*Domain

// ParseDomain parses domain XML text into a Domain, memoized by the exact
// input text.
func ParseDomain(rawXML string) (*Domain, error) {
	if cached, ok := domainCache.Load(rawXML); ok {
		return cached.(*Domain), nil
	}

	var raw domainXML
	if err := xml.Unmarshal([]byte(rawXML), &raw); err != nil {
		return nil, fmt.Errorf("libvirtx: parse domain xml: %w", err)
	}

	disks := make([]Disk, 0, len(raw.Devices.Disks))
	for _, d := range raw.Devices.Disks {
		disks = append(disks, Disk{
			Pool:         d.Source.Pool,
			Vol:          d.Source.Vol,
			File:         d.Source.File,
			TargetDevice: d.Target.Dev,
		})
	}

	dom := &Domain{Name: raw.Name, disks: disks}
	domainCache.Store(rawXML, dom)
	return dom, nil
}

// DiskXML renders the <disk> fragment AttachVolume passes to
// DomainAttachDevice, targeting a libvirt-managed volume in pool at
// device (e.g. "vdb").
func DiskXML(pool, vol, device string) string {
	return fmt.Sprintf(`<disk type='volume' device='disk'>
  <driver name='qemu' type='qcow2'/>
  <source pool='%s' volume='%s'/>
  <target dev='%s' bus='virtio'/>
</disk>`, pool, vol, device)
}

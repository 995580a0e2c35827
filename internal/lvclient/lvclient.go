// Package lvclient wraps the libvirt RPC connection, exposing only the
// operations the emulation engine needs (domain/pool/volume/network
// lookup, device attach/detach, guest-agent passthrough, network
// record updates) rather than the full generated API surface of
// digitalocean/go-libvirt.
package lvclient

import (
	"context"
	"fmt"

	"github.com/digitalocean/go-libvirt"
	"github.com/digitalocean/go-libvirt/socket/dialers"
)

// libVersionFor720 is ConnectGetLibVersion's encoding of libvirt 7.2.0:
// major*1,000,000 + minor*1,000 + release.
const libVersionFor720 = 7_002_000

// Conn is a connected libvirt client plus the pieces of local state the
// engine needs alongside it (the image pool and network names it was
// configured with, and whether the connected libvirt predates 7.2.0's
// networkUpdate argument-order fix).
type Conn struct {
	lv          *libvirt.Libvirt
	ImagePool   string
	NetworkName string
	preNetworkUpdateFix bool
}

// Dial connects to uri (e.g. "qemu:///system") and resolves the
// networkUpdate version quirk once up front.
func Dial(uri, imagePool, networkName string) (*Conn, error) {
	lv := libvirt.NewWithDialer(dialers.NewLocal(dialers.WithRemote(uri)))
	if err := lv.Connect(); err != nil {
		return nil, fmt.Errorf("lvclient: connect %s: %w", uri, err)
	}

	version, err := lv.ConnectGetLibVersion()
	if err != nil {
		lv.Disconnect()
		return nil, fmt.Errorf("lvclient: get lib version: %w", err)
	}

	return &Conn{
		lv:                  lv,
		ImagePool:           imagePool,
		NetworkName:         networkName,
		preNetworkUpdateFix: version < libVersionFor720,
	}, nil
}

// Close releases the connection.
func (c *Conn) Close() error {
	return c.lv.Disconnect()
}

// DomainXML returns the raw XML definition of the named domain.
func (c *Conn) DomainXML(name string) (string, error) {
	dom, err := c.lv.DomainLookupByName(name)
	if err != nil {
		return "", fmt.Errorf("lvclient: lookup domain %s: %w", name, err)
	}
	xml, err := c.lv.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return "", fmt.Errorf("lvclient: get domain xml %s: %w", name, err)
	}
	return xml, nil
}

// DomainExists reports whether a domain is currently defined.
func (c *Conn) DomainExists(name string) bool {
	_, err := c.lv.DomainLookupByName(name)
	return err == nil
}

// DomainState is libvirt's reported state code (VIR_DOMAIN_* constant) for
// a domain, used by the domain-state → AWS instance-state mapping in
// spec.md §4.7.
func (c *Conn) DomainState(name string) (int32, error) {
	dom, err := c.lv.DomainLookupByName(name)
	if err != nil {
		return 0, fmt.Errorf("lvclient: lookup domain %s: %w", name, err)
	}
	state, _, err := c.lv.DomainGetState(dom, 0)
	if err != nil {
		return 0, fmt.Errorf("lvclient: get domain state %s: %w", name, err)
	}
	return state, nil
}

// DomainCreate starts (boots) a defined domain.
func (c *Conn) DomainCreate(name string) error {
	dom, err := c.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("lvclient: lookup domain %s: %w", name, err)
	}
	if err := c.lv.DomainCreate(dom); err != nil {
		return fmt.Errorf("lvclient: create domain %s: %w", name, err)
	}
	return nil
}

// DomainShutdown requests a graceful ACPI shutdown, the op StopInstances
// polls against (spec.md §4.7).
func (c *Conn) DomainShutdown(name string) error {
	dom, err := c.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("lvclient: lookup domain %s: %w", name, err)
	}
	if err := c.lv.DomainShutdown(dom); err != nil {
		return fmt.Errorf("lvclient: shutdown domain %s: %w", name, err)
	}
	return nil
}

// DomainDestroyAndUndefine powers off (if running) and removes a domain's
// definition, the TerminateInstances op.
func (c *Conn) DomainDestroyAndUndefine(name string) error {
	dom, err := c.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("lvclient: lookup domain %s: %w", name, err)
	}
	_ = c.lv.DomainDestroy(dom) // best-effort: already-stopped domains error here
	if err := c.lv.DomainUndefine(dom); err != nil {
		return fmt.Errorf("lvclient: undefine domain %s: %w", name, err)
	}
	return nil
}

// DomainSetAutostart toggles whether a domain starts with the hypervisor.
func (c *Conn) DomainSetAutostart(name string, autostart bool) error {
	dom, err := c.lv.DomainLookupByName(name)
	if err != nil {
		return fmt.Errorf("lvclient: lookup domain %s: %w", name, err)
	}
	var flag int32
	if autostart {
		flag = 1
	}
	if err := c.lv.DomainSetAutostart(dom, flag); err != nil {
		return fmt.Errorf("lvclient: set autostart %s: %w", name, err)
	}
	return nil
}

// AttachDevice attaches a <disk> XML fragment to a running domain.
func (c *Conn) AttachDevice(domainName, deviceXML string) error {
	dom, err := c.lv.DomainLookupByName(domainName)
	if err != nil {
		return fmt.Errorf("lvclient: lookup domain %s: %w", domainName, err)
	}
	if err := c.lv.DomainAttachDevice(dom, deviceXML); err != nil {
		return fmt.Errorf("lvclient: attach device on %s: %w", domainName, err)
	}
	return nil
}

// DetachDevice detaches a <disk> XML fragment from a running domain.
func (c *Conn) DetachDevice(domainName, deviceXML string) error {
	dom, err := c.lv.DomainLookupByName(domainName)
	if err != nil {
		return fmt.Errorf("lvclient: lookup domain %s: %w", domainName, err)
	}
	if err := c.lv.DomainDetachDevice(dom, deviceXML); err != nil {
		return fmt.Errorf("lvclient: detach device on %s: %w", domainName, err)
	}
	return nil
}

// QemuAgentCommand implements guestagent.Caller by passing a raw QEMU
// guest-agent JSON command through libvirt's agent passthrough.
func (c *Conn) QemuAgentCommand(ctx context.Context, domainName, cmd string, timeoutSeconds int) (string, error) {
	dom, err := c.lv.DomainLookupByName(domainName)
	if err != nil {
		return "", fmt.Errorf("lvclient: lookup domain %s: %w", domainName, err)
	}
	result, err := c.lv.DomainQemuAgentCommand(dom, cmd, int32(timeoutSeconds), 0)
	if err != nil {
		return "", fmt.Errorf("lvclient: qemu agent command on %s: %w", domainName, err)
	}
	return result, nil
}

// VolumeXML returns the raw XML definition of a volume in pool.
func (c *Conn) VolumeXML(pool, name string) (string, error) {
	p, err := c.lv.StoragePoolLookupByName(pool)
	if err != nil {
		return "", fmt.Errorf("lvclient: lookup pool %s: %w", pool, err)
	}
	vol, err := c.lv.StorageVolLookupByName(p, name)
	if err != nil {
		return "", fmt.Errorf("lvclient: lookup volume %s/%s: %w", pool, name, err)
	}
	xml, err := c.lv.StorageVolGetXMLDesc(vol, 0)
	if err != nil {
		return "", fmt.Errorf("lvclient: get volume xml %s/%s: %w", pool, name, err)
	}
	return xml, nil
}

// CreateVolume creates a new volume in pool from volumeXML with the given
// creation flags (see the libvirt.StorageVolCreate* constants).
func (c *Conn) CreateVolume(pool, volumeXML string, flags uint32) error {
	p, err := c.lv.StoragePoolLookupByName(pool)
	if err != nil {
		return fmt.Errorf("lvclient: lookup pool %s: %w", pool, err)
	}
	if _, err := c.lv.StorageVolCreateXML(p, volumeXML, flags); err != nil {
		return fmt.Errorf("lvclient: create volume in %s: %w", pool, err)
	}
	return nil
}

// DeleteVolume removes a volume from pool.
func (c *Conn) DeleteVolume(pool, name string) error {
	p, err := c.lv.StoragePoolLookupByName(pool)
	if err != nil {
		return fmt.Errorf("lvclient: lookup pool %s: %w", pool, err)
	}
	vol, err := c.lv.StorageVolLookupByName(p, name)
	if err != nil {
		return fmt.Errorf("lvclient: lookup volume %s/%s: %w", pool, name, err)
	}
	if err := c.lv.StorageVolDelete(vol, 0); err != nil {
		return fmt.Errorf("lvclient: delete volume %s/%s: %w", pool, name, err)
	}
	return nil
}

// ListVolumeNames lists every volume name in pool, the enumeration
// DescribeVolumes needs since volumes have no shadow-table row of their
// own (spec.md §3: volumes are libvirt-native, only their tags persist).
func (c *Conn) ListVolumeNames(pool string) ([]string, error) {
	p, err := c.lv.StoragePoolLookupByName(pool)
	if err != nil {
		return nil, fmt.Errorf("lvclient: lookup pool %s: %w", pool, err)
	}
	names, err := c.lv.StoragePoolListVolumes(p, 1024)
	if err != nil {
		return nil, fmt.Errorf("lvclient: list volumes in %s: %w", pool, err)
	}
	return names, nil
}

// NetworkXML returns the raw XML definition of the configured network.
func (c *Conn) NetworkXML() (string, error) {
	net, err := c.lv.NetworkLookupByName(c.NetworkName)
	if err != nil {
		return "", fmt.Errorf("lvclient: lookup network %s: %w", c.NetworkName, err)
	}
	xml, err := c.lv.NetworkGetXMLDesc(net, 0)
	if err != nil {
		return "", fmt.Errorf("lvclient: get network xml %s: %w", c.NetworkName, err)
	}
	return xml, nil
}

// NetworkUpdate section/command constants, matching libvirt's
// VIR_NETWORK_UPDATE_COMMAND_* / VIR_NETWORK_SECTION_* enums for the
// <dns> sub-element kinds this service edits.
const (
	UpdateCommandDelete = 2
	UpdateCommandAddLast = 3

	SectionDNSHost = 10
	SectionDNSTXT  = 11
	SectionDNSSRV  = 12

	// updateAffectLive matches libvirt's VIR_NETWORK_UPDATE_AFFECT_LIVE.
	updateAffectLive = 1
)

// NetworkUpdateDNS applies one add/delete of a <dns> child element
// (host/txt/srv) to the live network, swapping the command/section
// argument order for libvirt versions before 7.2.0 (spec.md §4.4's
// "Version quirk").
func (c *Conn) NetworkUpdateDNS(command, section uint32, xmlFragment string) error {
	net, err := c.lv.NetworkLookupByName(c.NetworkName)
	if err != nil {
		return fmt.Errorf("lvclient: lookup network %s: %w", c.NetworkName, err)
	}

	if c.preNetworkUpdateFix {
		command, section = section, command
	}

	if err := c.lv.NetworkUpdate(net, command, section, -1, xmlFragment, updateAffectLive); err != nil {
		return fmt.Errorf("lvclient: network update (section %d command %d): %w", section, command, err)
	}
	return nil
}

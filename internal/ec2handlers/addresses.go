package ec2handlers

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/libvirt-aws/libvirt-aws/internal/apierror"
	"github.com/libvirt-aws/libvirt-aws/internal/guestagent"
	"github.com/libvirt-aws/libvirt-aws/internal/ids"
	"github.com/libvirt-aws/libvirt-aws/internal/libvirtx"
	"github.com/libvirt-aws/libvirt-aws/internal/store"
	"github.com/libvirt-aws/libvirt-aws/internal/xmlresp"
)

// publicBlockSize is the reserved width of the public EIP block at the
// bottom of the static range (spec.md §4.5, §GLOSSARY "Static range").
const publicBlockSize = 16

// network returns the configured libvirt network's typed view.
func (e *Engine) network() (*libvirtx.Network, error) {
	xmlText, err := e.Conn.NetworkXML()
	if err != nil {
		return nil, fmt.Errorf("get network xml: %w", err)
	}
	return libvirtx.ParseNetwork(xmlText)
}

func ipToUint32(ip net.IP) uint32 {
	v4 := ip.To4()
	return uint32(v4[0])<<24 | uint32(v4[1])<<16 | uint32(v4[2])<<8 | uint32(v4[3])
}

func uint32ToIP(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// nextUnusedInRange returns the first address in [start, end] not present in
// used, or "" if the range is exhausted.
func nextUnusedInRange(start, end net.IP, used map[string]bool) string {
	for v := ipToUint32(start); v <= ipToUint32(end); v++ {
		ip := uint32ToIP(v).String()
		if !used[ip] {
			return ip
		}
	}
	return ""
}

// interfaceAddr is the subset of `ip -json addr show` this service parses.
type interfaceAddr struct {
	IfName string `json:"ifname"`
	Addr   []struct {
		Family    string `json:"family"`
		Local     string `json:"local"`
		PrefixLen int    `json:"prefixlen"`
	} `json:"addr_info"`
}

// findInterface runs `ip -json addr show` in domain and returns the name of
// the interface whose address falls in net (spec.md §4.5: "iface is
// determined by matching the VM's interface subnet to the libvirt network").
func (e *Engine) findInterface(ctx context.Context, domain string, ipNet *net.IPNet) (string, error) {
	result, err := guestagent.Exec(ctx, e.Conn, domain, "ip", []string{"-json", "addr", "show"}, nil, e.Cfg.GuestAgentTimeoutSeconds)
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	if result.ExitCode != 0 {
		return "", fmt.Errorf("list interfaces: exit %d: %s", result.ExitCode, result.Stderr)
	}

	var ifaces []interfaceAddr
	if err := json.Unmarshal(result.Stdout, &ifaces); err != nil {
		return "", fmt.Errorf("decode ip addr show output: %w", err)
	}
	for _, iface := range ifaces {
		for _, a := range iface.Addr {
			if a.Family != "inet" {
				continue
			}
			candidate := &net.IPNet{IP: net.ParseIP(a.Local).To4(), Mask: net.CIDRMask(a.PrefixLen, 32)}
			if candidate.IP.Mask(candidate.Mask).Equal(ipNet.IP) && a.PrefixLen == maskBits(ipNet.Mask) {
				return iface.IfName, nil
			}
		}
	}
	return "", fmt.Errorf("no interface on network %s", ipNet)
}

func maskBits(mask net.IPMask) int {
	bits, _ := mask.Size()
	return bits
}

// removeGuestIP best-effort removes ip from domain's interface, tolerating a
// domain that's gone (spec.md §4.5: "best-effort if domain is gone").
func (e *Engine) removeGuestIP(ctx context.Context, domain, ip string, ipNet *net.IPNet) {
	if !e.Conn.DomainExists(domain) {
		return
	}
	iface, err := e.findInterface(ctx, domain, ipNet)
	if err != nil {
		e.Log.Warn("find interface for address removal failed", zap.Error(err))
		return
	}
	if _, err := guestagent.Exec(ctx, e.Conn, domain, "ip", []string{"addr", "del", ip, "dev", iface}, nil, e.Cfg.GuestAgentTimeoutSeconds); err != nil {
		e.Log.Warn("remove guest address failed", zap.Error(err))
	}
}

// AllocateAddress reserves the first unused address in the network's static
// range, preferring the reserved public block at its lower bound.
func (e *Engine) AllocateAddress(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	if str(args, "Address") != "" {
		return nil, apierror.InvalidParameterValue("claiming existing addresses is not supported")
	}
	if domain := str(args, "Domain"); domain != "" && domain != "vpc" {
		return nil, apierror.InvalidParameterValue("standard domain is not supported")
	}

	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	if netw.StaticRangeStart == nil {
		return nil, apierror.Internal("network has no static range configured")
	}

	used, err := store.AllocatedIPs(ctx, e.Store.DB())
	if err != nil {
		return nil, apierror.Internal("list allocated addresses: %s", err)
	}

	publicEnd := uint32ToIP(ipToUint32(netw.StaticRangeStart) + publicBlockSize - 1)
	if ipToUint32(publicEnd) > ipToUint32(netw.StaticRangeEnd) {
		publicEnd = netw.StaticRangeEnd
	}
	ip := nextUnusedInRange(netw.StaticRangeStart, publicEnd, used)
	if ip == "" {
		ip = nextUnusedInRange(netw.StaticRangeStart, netw.StaticRangeEnd, used)
	}
	if ip == "" {
		return nil, apierror.AddressLimitExceeded("libvirt network is out of static addresses")
	}

	allocationID := ids.AllocationID()
	err = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.InsertAddress(ctx, tx, allocationID, ip); err != nil {
			return err
		}
		if tags := parseTagSpecification(args, "elastic-ip"); len(tags) > 0 {
			return store.PutTags(ctx, tx, "elastic-ip", allocationID, tags)
		}
		return nil
	})
	if err != nil {
		return nil, apierror.Internal("allocate address: %s", err)
	}

	c := xmlresp.El("")
	c.Field("publicIp", ip)
	c.Field("domain", "vpc")
	c.Field("allocationId", allocationID)
	return c, nil
}

// AssociateAddress moves a public IP onto a target instance, first removing
// it from any instance it currently sits on (spec.md §4.5).
func (e *Engine) AssociateAddress(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	allocationID, err := requireStr(args, "AllocationId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}
	instanceID, err := requireStr(args, "InstanceId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	addr, err := store.GetAddressByAllocationID(ctx, e.Store.DB(), allocationID)
	if err != nil {
		return nil, apierror.AddressIDNotFound("allocation %s: %s", allocationID, err)
	}

	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}

	if addr.InstanceID.Valid && addr.InstanceID.String != "" {
		e.removeGuestIP(ctx, addr.InstanceID.String, addr.IPAddress, netw.IPNet)
	}

	iface, err := e.findInterface(ctx, instanceID, netw.IPNet)
	if err != nil {
		return nil, apierror.Internal("find target interface: %s", err)
	}
	result, err := guestagent.Exec(ctx, e.Conn, instanceID, "ip", []string{"addr", "add", addr.IPAddress, "dev", iface}, nil, e.Cfg.GuestAgentTimeoutSeconds)
	if err != nil {
		return nil, apierror.Internal("assign address in guest: %s", err)
	}
	if result.ExitCode != 0 {
		return nil, apierror.Internal("could not assign address in VM: exit %d: %s", result.ExitCode, result.Stderr)
	}

	associationID := ids.AssociationID()
	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.AssociateAddress(ctx, tx, allocationID, associationID, instanceID)
	}); err != nil {
		return nil, apierror.Internal("record association: %s", err)
	}

	c := xmlresp.El("")
	c.Field("return", "true")
	c.Field("associationId", associationID)
	return c, nil
}

// DisassociateAddress removes the in-guest address (best-effort) and clears
// the association.
func (e *Engine) DisassociateAddress(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	associationID, err := requireStr(args, "AssociationId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	addr, err := store.GetAddressByAssociationID(ctx, e.Store.DB(), associationID)
	if err != nil {
		return nil, apierror.AssociationIDNotFound("association %s: %s", associationID, err)
	}

	if addr.InstanceID.Valid && addr.InstanceID.String != "" {
		if netw, netErr := e.network(); netErr == nil {
			e.removeGuestIP(ctx, addr.InstanceID.String, addr.IPAddress, netw.IPNet)
		}
	}

	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.DisassociateAddress(ctx, tx, addr.AllocationID)
	}); err != nil {
		return nil, apierror.Internal("disassociate address: %s", err)
	}

	c := xmlresp.El("")
	c.Field("return", "true")
	return c, nil
}

// ReleaseAddress deletes an allocation outright, refusing while associated.
func (e *Engine) ReleaseAddress(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	allocationID, err := requireStr(args, "AllocationId")
	if err != nil {
		return nil, apierror.InvalidParameterValue("%s", err)
	}

	addr, err := store.GetAddressByAllocationID(ctx, e.Store.DB(), allocationID)
	if err != nil {
		return nil, apierror.AddressNotFound("allocation %s: %s", allocationID, err)
	}
	if addr.InstanceID.Valid && addr.InstanceID.String != "" {
		return nil, apierror.AddressInUse("specified address is in use by instance %s, call DisassociateAddress first", addr.InstanceID.String)
	}

	if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := store.ReleaseAddress(ctx, tx, allocationID); err != nil {
			return err
		}
		return store.DeleteTags(ctx, tx, "elastic-ip", allocationID, nil)
	}); err != nil {
		return nil, apierror.Internal("release address: %s", err)
	}

	c := xmlresp.El("")
	c.Field("return", "true")
	return c, nil
}

// DescribeAddresses lists elastic IPs, optionally filtered by PublicIp,
// instance-id, allocation-id, association-id, or tag:<key> filters.
func (e *Engine) DescribeAddresses(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	requestedIPs := make(map[string]bool)
	for _, ip := range scalarList(args, "PublicIp") {
		requestedIPs[ip] = true
	}
	requestedInstances := make(map[string]bool)
	requestedAllocations := make(map[string]bool)
	requestedAssociations := make(map[string]bool)
	tagFilters := map[string]string{}
	for _, f := range list(args, "Filter") {
		name := str(f, "Name")
		values := scalarList(f, "Value")
		switch {
		case strings.HasPrefix(name, "tag:"):
			if len(values) > 0 {
				tagFilters[strings.TrimPrefix(name, "tag:")] = values[0]
			}
		case name == "public-ip":
			for _, v := range values {
				requestedIPs[v] = true
			}
		case name == "instance-id":
			for _, v := range values {
				requestedInstances[v] = true
			}
		case name == "allocation-id":
			for _, v := range values {
				requestedAllocations[v] = true
			}
		case name == "association-id":
			for _, v := range values {
				requestedAssociations[v] = true
			}
		default:
			return nil, apierror.InvalidParameterValue("unsupported filter type: %s", name)
		}
	}

	all, err := store.ListAddresses(ctx, e.Store.DB())
	if err != nil {
		return nil, apierror.Internal("list addresses: %s", err)
	}

	var items []*xmlresp.Element
	for _, a := range all {
		if len(requestedIPs) > 0 && !requestedIPs[a.IPAddress] {
			continue
		}
		if len(requestedInstances) > 0 && !requestedInstances[a.InstanceID.String] {
			continue
		}
		if len(requestedAllocations) > 0 && !requestedAllocations[a.AllocationID] {
			continue
		}
		if len(requestedAssociations) > 0 && !requestedAssociations[a.AssociationID.String] {
			continue
		}

		tags, err := store.GetTags(ctx, e.Store.DB(), "elastic-ip", a.AllocationID)
		if err != nil {
			return nil, apierror.Internal("get address tags: %s", err)
		}
		if len(tagFilters) > 0 {
			match := false
			for _, t := range tags {
				if v, ok := tagFilters[t.Key]; ok && v == t.Value {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}

		item := xmlresp.El("item")
		item.Field("publicIp", a.IPAddress)
		item.Field("instanceId", a.InstanceID.String)
		item.Field("allocationId", a.AllocationID)
		item.Field("associationId", a.AssociationID.String)
		item.Field("domain", "vpc")

		var tagItems []*xmlresp.Element
		for _, t := range tags {
			ti := xmlresp.El("item")
			ti.Field("key", t.Key)
			ti.Field("value", t.Value)
			tagItems = append(tagItems, ti)
		}
		item.List("tagSet", xmlresp.Expanded, tagItems)
		items = append(items, item)
	}

	c := xmlresp.El("")
	c.List("addressesSet", xmlresp.Expanded, items)
	return c, nil
}

// AssignPrivateIpAddresses allocates secondary private IPs from the static
// range above the reserved public block and adds them in-guest, rolling
// back on any failure (spec.md §4.5, §8: "exhausting the static range
// releases partially assigned addresses before failing").
func (e *Engine) AssignPrivateIpAddresses(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	instanceID, err := requireStr(args, "NetworkInterfaceId")
	if err != nil {
		instanceID, err = requireStr(args, "InstanceId")
		if err != nil {
			return nil, apierror.InvalidParameterValue("AssignPrivateIpAddresses requires NetworkInterfaceId or InstanceId")
		}
	} else {
		instanceID, _, _ = parseNetworkInterfaceID(instanceID)
	}

	countStr := str(args, "SecondaryPrivateIpAddressCount")
	count := 1
	if countStr != "" {
		n, convErr := strconv.Atoi(countStr)
		if convErr != nil || n <= 0 {
			return nil, apierror.InvalidParameterValue("invalid SecondaryPrivateIpAddressCount %q", countStr)
		}
		count = n
	}

	netw, err := e.network()
	if err != nil {
		return nil, apierror.Internal("%s", err)
	}
	privateStart := uint32ToIP(ipToUint32(netw.StaticRangeStart) + publicBlockSize)

	eips, err := store.AllocatedIPs(ctx, e.Store.DB())
	if err != nil {
		return nil, apierror.Internal("list allocated addresses: %s", err)
	}
	privates, err := store.UsedPrivateIPs(ctx, e.Store.DB())
	if err != nil {
		return nil, apierror.Internal("list private addresses: %s", err)
	}
	used := make(map[string]bool, len(eips)+len(privates))
	for ip := range eips {
		used[ip] = true
	}
	for ip := range privates {
		used[ip] = true
	}

	iface, err := e.findInterface(ctx, instanceID, netw.IPNet)
	if err != nil {
		return nil, apierror.Internal("find target interface: %s", err)
	}

	var assigned []string
	rollback := func() {
		_ = e.Store.WithTx(ctx, func(tx *sql.Tx) error {
			for _, ip := range assigned {
				if err := store.DeletePrivateAddress(ctx, tx, ip); err != nil {
					return err
				}
			}
			return nil
		})
	}

	for i := 0; i < count; i++ {
		ip := nextUnusedInRange(privateStart, netw.StaticRangeEnd, used)
		if ip == "" {
			rollback()
			return nil, apierror.Internal("static range exhausted assigning private addresses")
		}
		used[ip] = true

		result, execErr := guestagent.Exec(ctx, e.Conn, instanceID, "ip", []string{"addr", "add", ip, "dev", iface}, nil, e.Cfg.GuestAgentTimeoutSeconds)
		if execErr != nil {
			rollback()
			return nil, apierror.Internal("assign private address in guest: %s", execErr)
		}
		if result.ExitCode != 0 {
			rollback()
			return nil, apierror.Internal("assign private address in guest: exit %d: %s", result.ExitCode, result.Stderr)
		}

		if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.InsertPrivateAddress(ctx, tx, ip, instanceID, iface)
		}); err != nil {
			rollback()
			return nil, apierror.Internal("record private address: %s", err)
		}
		assigned = append(assigned, ip)
	}

	var items []*xmlresp.Element
	for _, ip := range assigned {
		item := xmlresp.El("item")
		item.Field("privateIpAddress", ip)
		items = append(items, item)
	}
	c := xmlresp.El("")
	c.List("assignedPrivateIpAddressesSet", xmlresp.Expanded, items)
	return c, nil
}

// UnassignPrivateIpAddresses removes secondary private IPs from an
// instance's interface, best-effort in-guest.
func (e *Engine) UnassignPrivateIpAddresses(ctx context.Context, args map[string]any) (*xmlresp.Element, error) {
	instanceID, err := requireStr(args, "NetworkInterfaceId")
	if err == nil {
		instanceID, _, _ = parseNetworkInterfaceID(instanceID)
	} else {
		instanceID, err = requireStr(args, "InstanceId")
		if err != nil {
			return nil, apierror.InvalidParameterValue("UnassignPrivateIpAddresses requires NetworkInterfaceId or InstanceId")
		}
	}

	addrs := scalarList(args, "PrivateIpAddress")
	if len(addrs) == 0 {
		return nil, apierror.InvalidParameterValue("UnassignPrivateIpAddresses requires at least one PrivateIpAddress")
	}

	netw, netErr := e.network()

	for _, ip := range addrs {
		if netErr == nil && e.Conn.DomainExists(instanceID) {
			if iface, ifErr := e.findInterface(ctx, instanceID, netw.IPNet); ifErr == nil {
				if _, execErr := guestagent.Exec(ctx, e.Conn, instanceID, "ip", []string{"addr", "del", ip, "dev", iface}, nil, e.Cfg.GuestAgentTimeoutSeconds); execErr != nil {
					e.Log.Warn("remove private address in guest failed", zap.Error(execErr))
				}
			}
		}
		if err := e.Store.WithTx(ctx, func(tx *sql.Tx) error {
			return store.DeletePrivateAddress(ctx, tx, ip)
		}); err != nil {
			return nil, apierror.Internal("record private address removal: %s", err)
		}
	}

	c := xmlresp.El("")
	c.Field("return", "true")
	return c, nil
}

// parseNetworkInterfaceID splits the synthetic "eni-<instance_id>::<ifname>"
// id format (spec.md §4.5) into its instance id and interface name.
func parseNetworkInterfaceID(eniID string) (instanceID, ifname string, ok bool) {
	rest := strings.TrimPrefix(eniID, "eni-")
	if rest == eniID {
		return eniID, "", false
	}
	parts := strings.SplitN(rest, "::", 2)
	if len(parts) != 2 {
		return rest, "", false
	}
	return parts[0], parts[1], true
}

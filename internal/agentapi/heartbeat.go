package agentapi

import (
	"net"
	"sort"
	"strings"
)

// primaryAddress picks the device's IPv4 address from the heartbeat "network"
// section: {"interfaces": {name: {"addresses": [{"address", "netmask"}]}},
// "default_gateway": ip}. The interface on the gateway's subnet wins; without
// one, the first usable address by interface name is used.
func primaryAddress(network map[string]any) string {
	ifaces, _ := network["interfaces"].(map[string]any)
	if len(ifaces) == 0 {
		return ""
	}
	gateway := net.ParseIP(stringValue(network["default_gateway"]))

	names := make([]string, 0, len(ifaces))
	for name := range ifaces {
		names = append(names, name)
	}
	sort.Strings(names)

	var first string
	for _, name := range names {
		iface, _ := ifaces[name].(map[string]any)
		addrs, _ := iface["addresses"].([]any)
		for _, a := range addrs {
			addr, _ := a.(map[string]any)
			ip := net.ParseIP(strings.TrimSpace(stringValue(addr["address"]))).To4()
			if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
				continue
			}
			if first == "" {
				first = ip.String()
			}
			if gateway == nil {
				continue
			}
			mask := net.IPMask(net.ParseIP(stringValue(addr["netmask"])).To4())
			if len(mask) == net.IPv4len && ip.Mask(mask).Equal(gateway.Mask(mask)) {
				return ip.String()
			}
		}
	}
	return first
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

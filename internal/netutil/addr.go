package netutil

import (
	"fmt"
	"net"
)

// ValidateDestination reports false when dstAddrs:dstPort points back at the
// listener itself.
func ValidateDestination(
	dstAddrs []net.IPAddr,
	dstPort int,
	listenAddr *net.TCPAddr,
) (bool, error) {
	if listenAddr == nil || dstPort != listenAddr.Port {
		return true, nil
	}

	ifAddrs, err := net.InterfaceAddrs() // Needs AF_NETLINK on Linux.

	for _, dstAddr := range dstAddrs {
		ip := dstAddr.IP
		if ip.IsLoopback() || ip.IsUnspecified() {
			return false, fmt.Errorf("loopback addr detected %v", ip.String())
		}

		if listenAddr.IP != nil && listenAddr.IP.Equal(ip) {
			return false, fmt.Errorf("listen addr detected %v", ip.String())
		}

		for _, addr := range ifAddrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				if ipnet.IP.Equal(ip) {
					return false, fmt.Errorf("interface addr detected %v", ipnet.String())
				}
			}
		}
	}

	return true, err
}

// Package netx detects the address a peer advertises to others.
package netx

import (
	"net"
)

// DetectLocalAddress returns the outbound IPv4 address of this host, or
// "127.0.0.1" when none is found. No packet is sent: dialing UDP only
// selects a route.
func DetectLocalAddress() string {
	if c, err := net.Dial("udp4", "8.8.8.8:80"); err == nil {
		defer c.Close()
		if a, ok := c.LocalAddr().(*net.UDPAddr); ok && !a.IP.IsUnspecified() {
			return a.IP.String()
		}
	}
	return firstInterfaceAddr()
}

func firstInterfaceAddr() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, a := range addrs {
		ipn, ok := a.(*net.IPNet)
		if !ok || ipn.IP.IsLoopback() {
			continue
		}
		if ip4 := ipn.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return "127.0.0.1"
}

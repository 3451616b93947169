package fetch

import (
	"fmt"
	"net"
	"strings"
)

// blockedNets is the CIDR blocklist the gateway rejects outbound fetches
// against, named in the boundary-behavior rule: loopback, private, link-
// local, and the cloud-metadata range.
var blockedNets = mustParseCIDRs(
	"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16",
	"169.254.0.0/16", "::1/128", "fc00::/7", "fe80::/10",
)

var blockedHostnames = map[string]bool{
	"localhost":               true,
	"metadata.google.internal": true,
}

func mustParseCIDRs(cidrs ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(c)
		if err != nil {
			panic("fetch: invalid CIDR literal " + c)
		}
		nets = append(nets, n)
	}
	return nets
}

// checkHost rejects a hostname outright when it's on the literal blocklist
// or is itself a blocked IP, ahead of any DNS resolution.
func checkHost(host string) error {
	if blockedHostnames[strings.ToLower(host)] {
		return fmt.Errorf("fetch: host %q is not allowed", host)
	}
	if ip := net.ParseIP(host); ip != nil {
		return checkIP(ip)
	}
	return nil
}

// checkIP rejects an address in any blocked range. Called both against the
// pre-resolution literal (when the URL already carries an IP) and against
// the address the dialer actually connected to, so a public-looking
// hostname that DNS resolves to a blocked address — or rebinding between
// the two checks — can't smuggle a request past the guard.
func checkIP(ip net.IP) error {
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return fmt.Errorf("fetch: address %s is not allowed", ip)
		}
	}
	return nil
}

package hostnet

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"strings"

	"github.com/AdguardTeam/golibs/osutil/executil"
	"github.com/grnet/tapdhcpd/internal/binding"
)

// ParseRoutes invokes the system route utility for table, the routing
// table named after a link (spec.md §4.1: "invokes the system route
// utility (`ip -<family> ro ls table <table>`)"), and extracts the
// connected prefix and default gateway.
//
// The first pass finds the "default via <gw> dev <dev>" line to learn the
// gateway and default egress device. The second pass finds the
// least-specific connected route whose dev matches the default device (or,
// if there is no default route, the least-specific connected route
// regardless of device — see SPEC_FULL.md §4.1a). An empty or
// unparseable table yields a Subnet with all fields unset, never an error;
// per spec.md invariant 9 this must never crash.
func ParseRoutes(
	ctx context.Context,
	cmdCons executil.CommandConstructor,
	table string,
	family int,
) (subnet *binding.Subnet, err error) {
	familyFlag := "-4"
	if family == 6 {
		familyFlag = "-6"
	}

	var stdout bytes.Buffer
	runErr := executil.Run(ctx, cmdCons, &executil.CommandConfig{
		Path:   "ip",
		Args:   []string{familyFlag, "ro", "ls", "table", table},
		Stdout: &stdout,
	})
	if runErr != nil {
		return nil, fmt.Errorf("running route table utility for table %q: %w", table, runErr)
	}

	return parseRouteOutput(stdout.String()), nil
}

// parseRouteOutput implements the two-pass extraction described in
// ParseRoutes's doc comment. It never returns an error: any line it cannot
// make sense of is ignored.
func parseRouteOutput(output string) *binding.Subnet {
	subnet := &binding.Subnet{}

	var gateway netip.Addr
	var defaultDev string
	haveDefault := false

	s := lineScanner(output)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 || fields[0] != "default" {
			continue
		}

		gateway, defaultDev = parseDefaultRoute(fields)
		haveDefault = gateway.IsValid() && defaultDev != ""

		break
	}

	var best netip.Prefix
	var bestDev string
	haveBest := false

	s = lineScanner(output)
	for s.Scan() {
		fields := strings.Fields(s.Text())
		if len(fields) == 0 || fields[0] == "default" {
			continue
		}

		prefix, dev, ok := parseConnectedRoute(fields)
		if !ok {
			continue
		}

		if haveDefault && dev != defaultDev {
			continue
		}

		if !haveBest || prefix.Bits() < best.Bits() {
			best, bestDev = prefix, dev
			haveBest = true
		}
	}

	if haveBest {
		subnet.Prefix = best
		subnet.Device = bestDev
	}

	if haveDefault {
		subnet.Gateway = gateway
		if subnet.Device == "" {
			subnet.Device = defaultDev
		}
	}

	return subnet
}

// parseDefaultRoute parses the fields of a line of the form
// "default via <gw> dev <dev> ...".
func parseDefaultRoute(fields []string) (gw netip.Addr, dev string) {
	for i := 0; i < len(fields)-1; i++ {
		switch fields[i] {
		case "via":
			gw, _ = netip.ParseAddr(fields[i+1])
		case "dev":
			dev = fields[i+1]
		}
	}

	return gw, dev
}

// parseConnectedRoute parses the fields of a connected-route line of the
// form "<prefix> dev <dev> ...". A bare IP address without a mask is
// treated as a /32 (or /128) host route.
func parseConnectedRoute(fields []string) (prefix netip.Prefix, dev string, ok bool) {
	prefix, err := netip.ParsePrefix(fields[0])
	if err != nil {
		addr, addrErr := netip.ParseAddr(fields[0])
		if addrErr != nil {
			return netip.Prefix{}, "", false
		}

		prefix = netip.PrefixFrom(addr, addr.BitLen())
	}

	for i := 1; i < len(fields)-1; i++ {
		if fields[i] == "dev" {
			dev = fields[i+1]
		}
	}

	if dev == "" {
		return netip.Prefix{}, "", false
	}

	return prefix, dev, true
}

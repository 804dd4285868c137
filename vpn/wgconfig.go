package vpn

import (
	"fmt"
	"strings"

	"github.com/yllada/anonvpn/common"
	"github.com/yllada/anonvpn/engine"
)

// RenderConfig returns conn as a wg-quick configuration file, for use with
// tooling outside this program. In tunnel-only mode wg-quick is told not
// to install routes.
func RenderConfig(conn engine.VpnConnection, tunnelOnly bool, dns []string) string {
	var b strings.Builder

	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", conn.ClientPrivateKey)
	fmt.Fprintf(&b, "Address = %s\n", strings.Join(conn.InterfaceAddresses(), ", "))
	if len(dns) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(dns, ", "))
	}
	fmt.Fprintf(&b, "MTU = %d\n", tunnelMTU)
	if tunnelOnly {
		b.WriteString("Table = off\n")
	}

	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", conn.ServerPublicKey)
	fmt.Fprintf(&b, "Endpoint = %s\n", conn.ServerEndpoint)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", common.FullTunnelAllowedIPs)
	fmt.Fprintf(&b, "PersistentKeepalive = %d\n", common.PersistentKeepalive)

	return b.String()
}

package engine

import (
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"github.com/yllada/anonvpn/common"
)

// VpnConnection describes a negotiated WireGuard tunnel.
// It is only meaningful together with the client state that produced it.
type VpnConnection struct {
	// ClientAddresses are the tunnel addresses assigned to the client,
	// IPv4 first then IPv6.
	ClientAddresses  []string `json:"client_addresses"`
	ServerPublicKey  string   `json:"wg_public_key"`
	ServerEndpoint   string   `json:"wg_endpoint"`
	ClientPrivateKey string   `json:"client_private_key"`
	ClientPublicKey  string   `json:"client_public_key"`
}

// ParseVpnConnection decodes and validates a connection descriptor.
func ParseVpnConnection(data []byte) (VpnConnection, error) {
	var c VpnConnection
	if err := json.Unmarshal(data, &c); err != nil {
		return VpnConnection{}, fmt.Errorf("%w: vpn connection: %v", common.ErrParse, err)
	}
	if err := c.Validate(); err != nil {
		return VpnConnection{}, err
	}
	return c, nil
}

// Validate checks that every field is present and well formed.
func (c VpnConnection) Validate() error {
	if len(c.ClientAddresses) == 0 {
		return fmt.Errorf("%w: vpn connection has no client addresses", common.ErrParse)
	}
	for _, addr := range c.ClientAddresses {
		if _, err := parseAddress(addr); err != nil {
			return fmt.Errorf("%w: client address %q: %v", common.ErrParse, addr, err)
		}
	}

	keys := []struct {
		name, value string
	}{
		{"wg_public_key", c.ServerPublicKey},
		{"client_private_key", c.ClientPrivateKey},
		{"client_public_key", c.ClientPublicKey},
	}
	for _, k := range keys {
		if _, err := wgtypes.ParseKey(k.value); err != nil {
			return fmt.Errorf("%w: %s: %v", common.ErrParse, k.name, err)
		}
	}

	priv, _ := wgtypes.ParseKey(c.ClientPrivateKey)
	if priv.PublicKey().String() != c.ClientPublicKey {
		return fmt.Errorf("%w: client key pair does not match", common.ErrParse)
	}

	if _, _, err := net.SplitHostPort(c.ServerEndpoint); err != nil {
		return fmt.Errorf("%w: wg_endpoint %q: %v", common.ErrParse, c.ServerEndpoint, err)
	}
	return nil
}

// InterfaceAddresses returns the client addresses in CIDR form
// (/32 for IPv4, /128 for IPv6 when no prefix is given).
func (c VpnConnection) InterfaceAddresses() []string {
	out := make([]string, 0, len(c.ClientAddresses))
	for _, addr := range c.ClientAddresses {
		p, err := parseAddress(addr)
		if err != nil {
			continue
		}
		out = append(out, p.String())
	}
	return out
}

// String hides the private key.
func (c VpnConnection) String() string {
	return fmt.Sprintf("endpoint=%s server_key=%s addresses=%s",
		c.ServerEndpoint, c.ServerPublicKey, strings.Join(c.ClientAddresses, ","))
}

func parseAddress(s string) (netip.Prefix, error) {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "/") {
		return netip.ParsePrefix(s)
	}
	a, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	return netip.PrefixFrom(a, a.BitLen()), nil
}

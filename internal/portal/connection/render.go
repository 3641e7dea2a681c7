package connection

import (
	"fmt"
	"strings"
	"time"

	"github.com/altivon/vpn-portal/internal/portal/config"
	"github.com/altivon/vpn-portal/pkg/crypto"
)

// Content types of the client configuration documents returned by connect.
const (
	ContentTypeOpenVPN   = "application/x-openvpn-profile"
	ContentTypeWireGuard = "application/x-wireguard-profile"
)

// renderOpenVPNProfile produces a unified OpenVPN client profile with the
// CA certificate and the issued client certificate inlined.
func renderOpenVPNProfile(profile *config.ProfileConfig, ca *crypto.CA, cert *crypto.ClientCertificate, preferTCP bool) string {
	transports := []string{"udp", "tcp-client"}
	if preferTCP {
		transports = []string{"tcp-client", "udp"}
	}

	var b strings.Builder
	b.WriteString("# Profile: " + profile.DisplayName + "\n")
	b.WriteString("client\n")
	b.WriteString("dev tun\n")
	b.WriteString("persist-key\n")
	b.WriteString("persist-tun\n")
	b.WriteString("remote-cert-tls server\n")
	b.WriteString("verb 3\n")
	for _, transport := range transports {
		fmt.Fprintf(&b, "remote %s %d %s\n", profile.HostName, profile.OpenVPNPort, transport)
	}
	if !profile.DefaultGateway {
		b.WriteString("route-nopull\n")
	}
	b.WriteString("<ca>\n")
	b.WriteString(strings.TrimSpace(ca.CertificatePEM()) + "\n")
	b.WriteString("</ca>\n")
	b.WriteString("<cert>\n")
	b.WriteString(strings.TrimSpace(cert.CertificatePEM) + "\n")
	b.WriteString("</cert>\n")
	b.WriteString("<key>\n")
	b.WriteString(strings.TrimSpace(cert.PrivateKeyPEM) + "\n")
	b.WriteString("</key>\n")
	return b.String()
}

// wireGuardParams collects everything the WireGuard config template needs.
type wireGuardParams struct {
	// PrivateKey is empty when the client generated the key pair; the
	// rendered config then carries a placeholder the client fills in.
	PrivateKey string
	IPFour     string
	IPSix      string
	ExpiresAt  time.Time
}

// renderWireGuardConfig produces an INI-style WireGuard client
// configuration. The private key only appears when the portal generated
// the key pair; a client-supplied public key never has a private half
// server-side.
func renderWireGuardConfig(profile *config.ProfileConfig, params wireGuardParams) string {
	privateKey := params.PrivateKey
	if privateKey == "" {
		privateKey = "client-managed"
	}

	addresses := []string{params.IPFour}
	if params.IPSix != "" {
		addresses = append(addresses, params.IPSix)
	}

	allowedIPs := "0.0.0.0/0, ::/0"
	if !profile.DefaultGateway {
		allowedIPs = strings.Join(addresses, ", ")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# Profile: %s\n", profile.DisplayName)
	fmt.Fprintf(&b, "# Expires: %s\n", params.ExpiresAt.UTC().Format(time.RFC3339))
	b.WriteString("[Interface]\n")
	fmt.Fprintf(&b, "PrivateKey = %s\n", privateKey)
	fmt.Fprintf(&b, "Address = %s\n", strings.Join(addresses, ", "))
	if len(profile.DNSServers) > 0 {
		fmt.Fprintf(&b, "DNS = %s\n", strings.Join(profile.DNSServers, ", "))
	}
	b.WriteString("\n[Peer]\n")
	fmt.Fprintf(&b, "PublicKey = %s\n", profile.WireGuardNodePublicKey)
	fmt.Fprintf(&b, "AllowedIPs = %s\n", allowedIPs)
	fmt.Fprintf(&b, "Endpoint = %s:%d\n", profile.HostName, profile.WireGuardPort)
	return b.String()
}

// Package link decodes proxy share links (vless://, vmess://, trojan://)
// into typed descriptors. Parsing is a pure string transform.
package link

import (
	"net"
	"strconv"
)

// Protocol is a supported tunnel protocol.
type Protocol string

const (
	ProtocolVLESS  Protocol = "vless"
	ProtocolVMess  Protocol = "vmess"
	ProtocolTrojan Protocol = "trojan"
)

// Supported reports whether p is one of the known protocols.
func (p Protocol) Supported() bool {
	switch p {
	case ProtocolVLESS, ProtocolVMess, ProtocolTrojan:
		return true
	}
	return false
}

// Security is the TLS layer of a link.
type Security string

const (
	SecurityNone    Security = "none"
	SecurityTLS     Security = "tls"
	SecurityReality Security = "reality"
)

// DefaultTransport is used when a link carries no "type" parameter.
const DefaultTransport = "tcp"

// RealityParams holds the extra parameters REALITY requires.
type RealityParams struct {
	PublicKey   string // pbk
	Fingerprint string // fp
	ServerName  string // sni
	ShortID     string // sid
	SpiderX     string // spx
}

// TLSParams holds standard TLS parameters.
type TLSParams struct {
	ServerName    string
	Fingerprint   string
	AllowInsecure bool
	ALPN          []string
}

// TransportParams holds transport-specific settings (ws, grpc, ...).
type TransportParams struct {
	Path        string
	Host        string
	ServiceName string
}

// Descriptor is the parsed form of one connection link.
//
// Reality is non-nil iff Security is SecurityReality and TLS is non-nil iff
// Security is SecurityTLS.
type Descriptor struct {
	Protocol   Protocol
	Credential string
	Host       string
	Port       int
	Transport  string
	Security   Security
	Flow       string

	Reality *RealityParams
	TLS     *TLSParams

	TransportParams TransportParams

	// Name is the display name from the URI fragment.
	Name string
}

// Address returns host:port.
func (d Descriptor) Address() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// Package xray models the JSON configuration consumed by the external
// proxy engine and builds it from parsed share links.
package xray

// Fixed parts of the generated configuration.
const (
	DefaultListenAddr = "127.0.0.1"
	DefaultListenPort = 10801
	DefaultLogLevel   = "warning"

	InboundTag = "socks"
	ProxyTag   = "proxy"
	DirectTag  = "direct"
)

// Config is the top-level engine configuration. Field order is the
// serialized key order.
type Config struct {
	Log       LogConfig  `json:"log"`
	Inbounds  []Inbound  `json:"inbounds"`
	Outbounds []Outbound `json:"outbounds"`
}

// LogConfig is the engine's own logging section.
type LogConfig struct {
	LogLevel string `json:"loglevel"`
}

// Inbound is a local listener.
type Inbound struct {
	Listen   string          `json:"listen"`
	Port     int             `json:"port"`
	Protocol string          `json:"protocol"`
	Settings InboundSettings `json:"settings"`
	Tag      string          `json:"tag"`
}

// InboundSettings are the SOCKS listener options.
type InboundSettings struct {
	Auth string `json:"auth"`
	UDP  bool   `json:"udp"`
}

// Outbound is one routing target. Outbounds are evaluated in order.
type Outbound struct {
	Protocol       string           `json:"protocol"`
	Tag            string           `json:"tag"`
	Settings       OutboundSettings `json:"settings"`
	StreamSettings *StreamSettings  `json:"streamSettings,omitempty"`
}

// OutboundSettings holds the server list. vless and vmess use VNext,
// trojan uses Servers; freedom uses neither and serializes as {}.
type OutboundSettings struct {
	VNext   []VNextServer  `json:"vnext,omitempty"`
	Servers []TrojanServer `json:"servers,omitempty"`
}

// VNextServer is a vless/vmess server entry.
type VNextServer struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Users   []User `json:"users"`
}

// User is a vless/vmess account.
type User struct {
	ID         string `json:"id"`
	Encryption string `json:"encryption,omitempty"` // vless
	Security   string `json:"security,omitempty"`   // vmess
	Flow       string `json:"flow,omitempty"`
}

// TrojanServer is a trojan server entry. XTLS flow is vless-only, so a
// flow carried by a trojan link is not written.
type TrojanServer struct {
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Password string `json:"password"`
}

// StreamSettings configures transport and security of an outbound.
// At most one of the security blocks is set.
type StreamSettings struct {
	Network  string `json:"network"`
	Security string `json:"security"`

	TLSSettings     *TLSSettings     `json:"tlsSettings,omitempty"`
	RealitySettings *RealitySettings `json:"realitySettings,omitempty"`

	WSSettings          *WSSettings          `json:"wsSettings,omitempty"`
	GRPCSettings        *GRPCSettings        `json:"grpcSettings,omitempty"`
	HTTPUpgradeSettings *HTTPUpgradeSettings `json:"httpupgradeSettings,omitempty"`
	XHTTPSettings       *XHTTPSettings       `json:"xhttpSettings,omitempty"`
}

// TLSSettings holds standard TLS settings.
type TLSSettings struct {
	ServerName    string   `json:"serverName,omitempty"`
	Fingerprint   string   `json:"fingerprint,omitempty"`
	AllowInsecure bool     `json:"allowInsecure,omitempty"`
	ALPN          []string `json:"alpn,omitempty"`
}

// RealitySettings holds REALITY settings. All keys are always written.
type RealitySettings struct {
	PublicKey   string `json:"publicKey"`
	Fingerprint string `json:"fingerprint"`
	ServerName  string `json:"serverName"`
	ShortID     string `json:"shortId"`
	SpiderX     string `json:"spiderX"`
}

// WSSettings holds WebSocket transport settings.
type WSSettings struct {
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
}

// GRPCSettings holds gRPC transport settings.
type GRPCSettings struct {
	ServiceName string `json:"serviceName"`
}

// HTTPUpgradeSettings holds HTTPUpgrade transport settings.
type HTTPUpgradeSettings struct {
	Path string `json:"path,omitempty"`
	Host string `json:"host,omitempty"`
}

// XHTTPSettings holds XHTTP (SplitHTTP) transport settings.
type XHTTPSettings struct {
	Path string `json:"path,omitempty"`
	Host string `json:"host,omitempty"`
}

// Proxy returns the proxy outbound, if present.
func (c Config) Proxy() (Outbound, bool) {
	for _, ob := range c.Outbounds {
		if ob.Tag == ProxyTag {
			return ob, true
		}
	}
	return Outbound{}, false
}

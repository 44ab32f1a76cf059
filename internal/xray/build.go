package xray

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gridvpn/internal/link"
)

// Build maps a descriptor into an engine configuration listening on
// 127.0.0.1:listenPort. A port outside 1-65535 falls back to
// DefaultListenPort. The proxy outbound always precedes the direct one.
func Build(d link.Descriptor, listenPort int) Config {
	if listenPort < 1 || listenPort > 65535 {
		listenPort = DefaultListenPort
	}

	return Config{
		Log: LogConfig{LogLevel: DefaultLogLevel},
		Inbounds: []Inbound{{
			Listen:   DefaultListenAddr,
			Port:     listenPort,
			Protocol: "socks",
			Settings: InboundSettings{Auth: "noauth", UDP: true},
			Tag:      InboundTag,
		}},
		Outbounds: []Outbound{
			proxyOutbound(d),
			{Protocol: "freedom", Tag: DirectTag},
		},
	}
}

func proxyOutbound(d link.Descriptor) Outbound {
	ob := Outbound{
		Protocol:       string(d.Protocol),
		Tag:            ProxyTag,
		StreamSettings: streamSettings(d),
	}

	switch d.Protocol {
	case link.ProtocolTrojan:
		ob.Settings.Servers = []TrojanServer{{
			Address:  d.Host,
			Port:     d.Port,
			Password: d.Credential,
		}}
	case link.ProtocolVMess:
		ob.Settings.VNext = []VNextServer{{
			Address: d.Host,
			Port:    d.Port,
			Users:   []User{{ID: d.Credential, Security: "auto"}},
		}}
	default:
		ob.Settings.VNext = []VNextServer{{
			Address: d.Host,
			Port:    d.Port,
			Users:   []User{{ID: d.Credential, Encryption: "none", Flow: d.Flow}},
		}}
	}
	return ob
}

func streamSettings(d link.Descriptor) *StreamSettings {
	network := d.Transport
	if network == "" {
		network = link.DefaultTransport
	}
	ss := &StreamSettings{Network: network}

	tp := d.TransportParams
	switch network {
	case "ws":
		ss.WSSettings = &WSSettings{Path: tp.Path}
		if tp.Host != "" {
			ss.WSSettings.Headers = map[string]string{"Host": tp.Host}
		}
	case "grpc":
		ss.GRPCSettings = &GRPCSettings{ServiceName: tp.ServiceName}
	case "httpupgrade":
		ss.HTTPUpgradeSettings = &HTTPUpgradeSettings{Path: tp.Path, Host: tp.Host}
	case "xhttp", "splithttp":
		ss.Network = "xhttp"
		ss.XHTTPSettings = &XHTTPSettings{Path: tp.Path, Host: tp.Host}
	}

	SecurityFor(d).apply(ss)
	return ss
}

// Marshal is the single encoder for engine configs: struct field order,
// two-space indent, no HTML escaping, trailing newline. Equal configs
// always produce identical bytes.
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("marshal xray config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile serializes cfg to path, replacing any previous file atomically.
func WriteFile(path string, cfg Config) error {
	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace config %s: %w", path, err)
	}
	return nil
}

// ReadFile loads a previously written config.
func ReadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read xray config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse xray config: %w", err)
	}
	return cfg, nil
}

package xray

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gridvpn/internal/link"
)

const realityURI = "vless://uid-123@example.com:443?type=tcp&security=reality&pbk=ABC&fp=chrome&sni=example.com&sid=01&spx=%2Fpath"

func mustParse(t *testing.T, uri string) link.Descriptor {
	t.Helper()
	d, err := link.Parse(uri)
	if err != nil {
		t.Fatalf("link.Parse(%q): %v", uri, err)
	}
	return d
}

func mustMarshal(t *testing.T, cfg Config) []byte {
	t.Helper()
	data, err := Marshal(cfg)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

// decodeOutbounds returns the outbounds as generic maps so key presence
// can be checked on the serialized form.
func decodeOutbounds(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	var raw struct {
		Outbounds []map[string]any `json:"outbounds"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return raw.Outbounds
}

func TestBuildDeterministic(t *testing.T) {
	uris := []string{
		realityURI,
		"trojan://pwd@1.2.3.4:8443",
		"vmess://uuid@example.com:443?type=ws&path=%2Fws&host=cdn.example.com&security=tls&sni=example.com",
		"vless://id@example.com:443?type=grpc&serviceName=svc&security=tls&alpn=h2,http/1.1",
	}
	for _, uri := range uris {
		first := mustMarshal(t, Build(mustParse(t, uri), 10801))
		for i := 0; i < 5; i++ {
			again := mustMarshal(t, Build(mustParse(t, uri), 10801))
			if !bytes.Equal(first, again) {
				t.Fatalf("non-deterministic output for %q:\n%s\n---\n%s", uri, first, again)
			}
		}
	}
}

func TestBuildRealityExample(t *testing.T) {
	data := mustMarshal(t, Build(mustParse(t, realityURI), 10801))
	obs := decodeOutbounds(t, data)
	if len(obs) != 2 {
		t.Fatalf("expected 2 outbounds, got %d", len(obs))
	}

	stream, ok := obs[0]["streamSettings"].(map[string]any)
	if !ok {
		t.Fatalf("proxy outbound has no streamSettings: %s", data)
	}
	reality, ok := stream["realitySettings"].(map[string]any)
	if !ok {
		t.Fatalf("realitySettings missing: %s", data)
	}
	want := map[string]string{
		"publicKey":   "ABC",
		"fingerprint": "chrome",
		"serverName":  "example.com",
		"shortId":     "01",
		"spiderX":     "/path",
	}
	for k, v := range want {
		if reality[k] != v {
			t.Errorf("realitySettings.%s = %v, want %q", k, reality[k], v)
		}
	}
	if _, ok := stream["tlsSettings"]; ok {
		t.Error("tlsSettings must be absent for reality")
	}
}

func TestBuildRealityBlockOnlyForReality(t *testing.T) {
	tests := []struct {
		uri         string
		wantReality bool
	}{
		{realityURI, true},
		{"vless://id@example.com:443?security=reality", true},
		{"vless://id@example.com:443?security=tls&pbk=ABC&sid=01", false},
		{"vless://id@example.com:443?security=none&pbk=ABC", false},
		{"trojan://pwd@1.2.3.4:8443", false},
	}
	for _, tt := range tests {
		data := mustMarshal(t, Build(mustParse(t, tt.uri), 10801))
		stream := decodeOutbounds(t, data)[0]["streamSettings"].(map[string]any)
		_, got := stream["realitySettings"]
		if got != tt.wantReality {
			t.Errorf("%s: realitySettings present = %v, want %v", tt.uri, got, tt.wantReality)
		}
		if !tt.wantReality && strings.Contains(string(data), "realitySettings") {
			t.Errorf("%s: serialized output mentions realitySettings", tt.uri)
		}
	}
}

func TestBuildTrojanGolden(t *testing.T) {
	got := mustMarshal(t, Build(mustParse(t, "trojan://pwd@1.2.3.4:8443"), 10801))
	want := `{
  "log": {
    "loglevel": "warning"
  },
  "inbounds": [
    {
      "listen": "127.0.0.1",
      "port": 10801,
      "protocol": "socks",
      "settings": {
        "auth": "noauth",
        "udp": true
      },
      "tag": "socks"
    }
  ],
  "outbounds": [
    {
      "protocol": "trojan",
      "tag": "proxy",
      "settings": {
        "servers": [
          {
            "address": "1.2.3.4",
            "port": 8443,
            "password": "pwd"
          }
        ]
      },
      "streamSettings": {
        "network": "tcp",
        "security": "none"
      }
    },
    {
      "protocol": "freedom",
      "tag": "direct",
      "settings": {}
    }
  ]
}
`
	if string(got) != want {
		t.Errorf("unexpected config:\n%s", got)
	}
}

func TestBuildOutboundOrderAndListener(t *testing.T) {
	cfg := Build(mustParse(t, "vless://id@example.com:443?flow=xtls-rprx-vision"), 20000)

	if len(cfg.Inbounds) != 1 {
		t.Fatalf("expected 1 inbound, got %d", len(cfg.Inbounds))
	}
	in := cfg.Inbounds[0]
	if in.Listen != "127.0.0.1" || in.Port != 20000 || in.Protocol != "socks" || !in.Settings.UDP || in.Settings.Auth != "noauth" {
		t.Errorf("unexpected inbound: %+v", in)
	}

	if cfg.Outbounds[0].Tag != ProxyTag || cfg.Outbounds[1].Tag != DirectTag {
		t.Fatalf("outbound order = %q, %q", cfg.Outbounds[0].Tag, cfg.Outbounds[1].Tag)
	}
	if cfg.Outbounds[1].Protocol != "freedom" || cfg.Outbounds[1].StreamSettings != nil {
		t.Errorf("direct outbound carries parameters: %+v", cfg.Outbounds[1])
	}

	user := cfg.Outbounds[0].Settings.VNext[0].Users[0]
	if user.ID != "id" || user.Encryption != "none" || user.Flow != "xtls-rprx-vision" {
		t.Errorf("unexpected vless user: %+v", user)
	}
}

func TestBuildFlowOmittedWhenEmpty(t *testing.T) {
	data := mustMarshal(t, Build(mustParse(t, "vless://id@example.com:443"), 10801))
	if strings.Contains(string(data), `"flow"`) {
		t.Errorf("empty flow must not be serialized:\n%s", data)
	}
}

func TestBuildTrojanIgnoresFlow(t *testing.T) {
	d := mustParse(t, "trojan://pwd@1.2.3.4:8443?flow=xtls-rprx-vision&security=tls&sni=a.example")
	if d.Flow != "xtls-rprx-vision" {
		t.Fatalf("descriptor flow = %q", d.Flow)
	}
	data := mustMarshal(t, Build(d, 10801))
	if strings.Contains(string(data), `"flow"`) {
		t.Errorf("trojan output carries flow:\n%s", data)
	}
}

func TestBuildInvalidListenPortFallsBack(t *testing.T) {
	cfg := Build(mustParse(t, "trojan://pwd@1.2.3.4:8443"), 0)
	if cfg.Inbounds[0].Port != DefaultListenPort {
		t.Errorf("port = %d, want %d", cfg.Inbounds[0].Port, DefaultListenPort)
	}
}

func TestBuildTransports(t *testing.T) {
	cfg := Build(mustParse(t, "vmess://uuid@example.com:443?type=ws&path=%2Fws&host=cdn.example.com"), 10801)
	ss := cfg.Outbounds[0].StreamSettings
	if ss.WSSettings == nil || ss.WSSettings.Path != "/ws" || ss.WSSettings.Headers["Host"] != "cdn.example.com" {
		t.Errorf("unexpected ws settings: %+v", ss.WSSettings)
	}
	if u := cfg.Outbounds[0].Settings.VNext[0].Users[0]; u.Security != "auto" || u.Encryption != "" {
		t.Errorf("unexpected vmess user: %+v", u)
	}

	cfg = Build(mustParse(t, "vless://id@example.com:443?type=splithttp&path=%2Fx"), 10801)
	ss = cfg.Outbounds[0].StreamSettings
	if ss.Network != "xhttp" || ss.XHTTPSettings == nil || ss.XHTTPSettings.Path != "/x" {
		t.Errorf("unexpected xhttp settings: network=%q %+v", ss.Network, ss.XHTTPSettings)
	}
}

func TestWriteFileAndReadBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.json")
	cfg := Build(mustParse(t, realityURI), 10801)

	if err := WriteFile(path, cfg); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	// Overwrite to exercise the replace path.
	if err := WriteFile(path, cfg); err != nil {
		t.Fatalf("second WriteFile: %v", err)
	}

	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(onDisk, mustMarshal(t, cfg)) {
		t.Error("file content differs from Marshal output")
	}

	back, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	proxy, ok := back.Proxy()
	if !ok || proxy.StreamSettings == nil || proxy.StreamSettings.RealitySettings == nil {
		t.Fatalf("proxy outbound lost on read-back: %+v", proxy)
	}
	if proxy.StreamSettings.RealitySettings.ShortID != "01" {
		t.Errorf("shortId = %q", proxy.StreamSettings.RealitySettings.ShortID)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temp files left behind: %d entries", len(entries))
	}
}

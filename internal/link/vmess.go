package link

import (
	"encoding/base64"
	"encoding/json"
	"strings"
)

// vmessJSON is the v2rayN share format: vmess://base64(json).
type vmessJSON struct {
	Name      string          `json:"ps"`
	Address   string          `json:"add"`
	Port      json.RawMessage `json:"port"`
	ID        string          `json:"id"`
	Network   string          `json:"net"`
	TLS       string          `json:"tls"`
	SNI       string          `json:"sni"`
	Host      string          `json:"host"`
	Path      string          `json:"path"`
	FP        string          `json:"fp"`
	ALPN      string          `json:"alpn"`
	PublicKey string          `json:"pbk"`
	ShortID   string          `json:"sid"`
	SpiderX   string          `json:"spx"`
}

// looksLikeVMessJSON reports whether a vmess body is a base64 blob rather
// than the credential@host:port form.
func looksLikeVMessJSON(body string) bool {
	body, _, _ = strings.Cut(body, "#")
	if body == "" || strings.ContainsAny(body, "@?") {
		return false
	}
	_, ok := decodeBase64(body)
	return ok
}

func parseVMessJSON(body string) (Descriptor, error) {
	body, _, _ = strings.Cut(body, "#")
	raw, ok := decodeBase64(body)
	if !ok {
		return Descriptor{}, malformed("vmess payload", "is not valid base64")
	}

	var v vmessJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return Descriptor{}, &MalformedLinkError{Field: "vmess payload", Err: err}
	}

	port, err := parsePort(strings.Trim(strings.TrimSpace(string(v.Port)), `"`))
	if err != nil {
		return Descriptor{}, err
	}

	sec, err := parseSecurity(v.TLS)
	if err != nil {
		return Descriptor{}, err
	}

	d := Descriptor{
		Protocol:   ProtocolVMess,
		Credential: strings.TrimSpace(v.ID),
		Host:       strings.TrimSpace(v.Address),
		Port:       port,
		Transport:  strings.ToLower(strings.TrimSpace(v.Network)),
		Security:   sec,
		Name:       v.Name,
		TransportParams: TransportParams{
			Path: v.Path,
			Host: v.Host,
		},
	}
	if d.Transport == "" {
		d.Transport = DefaultTransport
	}
	if d.Transport == "grpc" {
		d.TransportParams.ServiceName = v.Path
		d.TransportParams.Path = ""
	}

	switch sec {
	case SecurityReality:
		d.Reality = &RealityParams{
			PublicKey:   v.PublicKey,
			Fingerprint: v.FP,
			ServerName:  v.SNI,
			ShortID:     v.ShortID,
			SpiderX:     decodeTwice(v.SpiderX),
		}
	case SecurityTLS:
		d.TLS = &TLSParams{
			ServerName:  v.SNI,
			Fingerprint: v.FP,
			ALPN:        splitList(v.ALPN),
		}
	}

	if err := validate(d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

func decodeBase64(s string) ([]byte, bool) {
	s = strings.TrimSpace(s)
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil && json.Valid(b) {
			return b, true
		}
	}
	return nil, false
}

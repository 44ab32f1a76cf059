package link

import (
	"net/url"
	"strconv"
	"strings"
)

// Parse decodes a share link into a Descriptor.
//
// Format: scheme://credential@host:port?params#name
//
//	type          → transport (default "tcp")
//	security      → security: none, tls, reality (default "none")
//	flow          → flow (optional)
//	pbk, fp, sni, sid, spx → REALITY parameters
//	sni, fp, alpn, allowInsecure → TLS parameters
//	path, host, serviceName → transport parameters
//
// A vmess:// link whose body is base64-encoded JSON is also accepted.
// Parse fails with *UnsupportedProtocolError for an unknown scheme and with
// *MalformedLinkError when host, port or credential cannot be determined.
func Parse(uri string) (Descriptor, error) {
	uri = strings.TrimSpace(uri)

	scheme, body, ok := strings.Cut(uri, "://")
	if !ok {
		return Descriptor{}, &UnsupportedProtocolError{}
	}
	proto := Protocol(strings.ToLower(scheme))
	if !proto.Supported() {
		return Descriptor{}, &UnsupportedProtocolError{Scheme: scheme}
	}

	if proto == ProtocolVMess && looksLikeVMessJSON(body) {
		return parseVMessJSON(body)
	}

	u, err := url.Parse(string(proto) + "://" + body)
	if err != nil {
		return Descriptor{}, &MalformedLinkError{Field: "uri", Err: err}
	}

	d := Descriptor{
		Protocol: proto,
		Host:     u.Hostname(),
		Name:     u.Fragment,
	}
	if u.User != nil {
		d.Credential = u.User.Username()
	}

	if d.Port, err = parsePort(u.Port()); err != nil {
		return Descriptor{}, err
	}

	q := u.Query()
	d.Transport = strings.ToLower(queryDefault(q, "type", DefaultTransport))
	d.Flow = queryDefault(q, "flow", "")
	d.TransportParams = TransportParams{
		Path:        queryDefault(q, "path", ""),
		Host:        queryDefault(q, "host", ""),
		ServiceName: queryDefault(q, "serviceName", ""),
	}

	sec, err := parseSecurity(queryDefault(q, "security", string(SecurityNone)))
	if err != nil {
		return Descriptor{}, err
	}
	d.Security = sec

	switch sec {
	case SecurityReality:
		d.Reality = &RealityParams{
			PublicKey:   queryDefault(q, "pbk", ""),
			Fingerprint: queryDefault(q, "fp", ""),
			ServerName:  queryDefault(q, "sni", ""),
			ShortID:     queryDefault(q, "sid", ""),
			SpiderX:     decodeTwice(queryDefault(q, "spx", "")),
		}
	case SecurityTLS:
		d.TLS = &TLSParams{
			ServerName:    queryDefault(q, "sni", ""),
			Fingerprint:   queryDefault(q, "fp", ""),
			AllowInsecure: parseBool(queryDefault(q, "allowInsecure", "")),
			ALPN:          splitList(queryDefault(q, "alpn", "")),
		}
	}

	if err := validate(d); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// validate checks the fields every descriptor needs.
func validate(d Descriptor) error {
	if d.Host == "" {
		return malformed("host", "is missing")
	}
	if d.Credential == "" {
		return malformed("credential", "is missing")
	}
	return nil
}

func parsePort(raw string) (int, error) {
	if raw == "" {
		return 0, malformed("port", "is missing")
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &MalformedLinkError{Field: "port", Reason: strconv.Quote(raw), Err: err}
	}
	if port < 1 || port > 65535 {
		return 0, malformed("port", strconv.Itoa(port)+" out of range")
	}
	return port, nil
}

func parseSecurity(raw string) (Security, error) {
	switch s := Security(strings.ToLower(strings.TrimSpace(raw))); s {
	case "", SecurityNone:
		return SecurityNone, nil
	case SecurityTLS, SecurityReality:
		return s, nil
	default:
		return "", malformed("security", strconv.Quote(raw)+" is not supported")
	}
}

// queryDefault returns the first non-empty value for key, or def.
func queryDefault(q url.Values, key, def string) string {
	if v := q.Get(key); v != "" {
		return v
	}
	return def
}

// decodeTwice undoes the double percent-encoding some clients apply to
// paths inside share links. Values that do not decode are kept as-is.
func decodeTwice(s string) string {
	if !strings.Contains(s, "%") {
		return s
	}
	if v, err := url.PathUnescape(s); err == nil {
		return v
	}
	return s
}

func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package xray

import "gridvpn/internal/link"

// Security is the tagged variant for an outbound's security layer. Each
// variant writes only its own block into StreamSettings.
type Security interface {
	Name() string
	apply(ss *StreamSettings)
}

// NoSecurity is plain transport.
type NoSecurity struct{}

func (NoSecurity) Name() string { return string(link.SecurityNone) }

func (NoSecurity) apply(ss *StreamSettings) {
	ss.Security = string(link.SecurityNone)
}

// TLSSecurity is standard TLS.
type TLSSecurity struct {
	Params link.TLSParams
}

func (TLSSecurity) Name() string { return string(link.SecurityTLS) }

func (s TLSSecurity) apply(ss *StreamSettings) {
	ss.Security = string(link.SecurityTLS)
	ss.TLSSettings = &TLSSettings{
		ServerName:    s.Params.ServerName,
		Fingerprint:   s.Params.Fingerprint,
		AllowInsecure: s.Params.AllowInsecure,
		ALPN:          append([]string(nil), s.Params.ALPN...),
	}
}

// RealitySecurity is REALITY with its extended parameters.
type RealitySecurity struct {
	Params link.RealityParams
}

func (RealitySecurity) Name() string { return string(link.SecurityReality) }

func (s RealitySecurity) apply(ss *StreamSettings) {
	ss.Security = string(link.SecurityReality)
	ss.RealitySettings = &RealitySettings{
		PublicKey:   s.Params.PublicKey,
		Fingerprint: s.Params.Fingerprint,
		ServerName:  s.Params.ServerName,
		ShortID:     s.Params.ShortID,
		SpiderX:     s.Params.SpiderX,
	}
}

// SecurityFor selects the variant for a descriptor.
func SecurityFor(d link.Descriptor) Security {
	switch d.Security {
	case link.SecurityReality:
		if d.Reality != nil {
			return RealitySecurity{Params: *d.Reality}
		}
		return RealitySecurity{}
	case link.SecurityTLS:
		if d.TLS != nil {
			return TLSSecurity{Params: *d.TLS}
		}
		return TLSSecurity{}
	default:
		return NoSecurity{}
	}
}

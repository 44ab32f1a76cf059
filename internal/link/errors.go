package link

import "fmt"

// UnsupportedProtocolError is returned when a link's scheme is not one of
// the supported tunnel protocols.
type UnsupportedProtocolError struct {
	Scheme string
}

func (e *UnsupportedProtocolError) Error() string {
	if e.Scheme == "" {
		return "unsupported protocol: missing scheme"
	}
	return fmt.Sprintf("unsupported protocol: %s", e.Scheme)
}

// MalformedLinkError is returned when a required part of a link is missing
// or invalid.
type MalformedLinkError struct {
	Field  string
	Reason string
	Err    error
}

func (e *MalformedLinkError) Error() string {
	msg := "malformed link: " + e.Field
	if e.Reason != "" {
		msg += " " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MalformedLinkError) Unwrap() error { return e.Err }

func malformed(field, reason string) error {
	return &MalformedLinkError{Field: field, Reason: reason}
}

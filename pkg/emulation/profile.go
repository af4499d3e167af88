// Package emulation holds the browser/runtime fingerprint catalogue: plain
// data records bundling the TLS, HTTP/1, and HTTP/2 knobs and the default
// header template of a specific real-world build. Adding a browser version
// means adding a record, not a type.
package emulation

import (
	"net/http"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// ExtensionID names a TLS extension positionally, independent of the
// concrete utls type used to realize it. Kept separate from the crypto
// library's own type so a profile's extension order can be declared as
// plain data (see pkg/tlsconf for how it is realized).
type ExtensionID int

const (
	ExtGREASE ExtensionID = iota
	ExtServerName
	ExtExtendedMasterSecret
	ExtRenegotiationInfo
	ExtSupportedCurves
	ExtSupportedPoints
	ExtSessionTicket
	ExtALPN
	ExtStatusRequest
	ExtSignatureAlgorithms
	ExtSignedCertificateTimestamp
	ExtPadding
	ExtExtendedMasterSecretDup // placeholder for profiles that repeat the bit at a second position
	ExtCompressCertificate
	ExtApplicationSettings // ALPS
	ExtSupportedVersions
	ExtPSKKeyExchangeModes
	ExtKeyShare
	ExtPreSharedKey // must be last when present (TLS 1.3 PSK binder)
	ExtECHGREASE    // GREASE placeholder for Encrypted Client Hello
)

// TLSSettings is the declarative ClientHello fingerprint of one build.
type TLSSettings struct {
	MinVersion          uint16
	MaxVersion          uint16
	CipherSuites        []uint16
	Curves              []utls.CurveID
	PointFormats        []uint8
	SignatureAlgorithms []utls.SignatureScheme
	ALPNProtocols       []string
	ALPSProtocols       []string
	CompressCertAlgs    []utls.CertCompressionAlgo
	ExtensionOrder      []ExtensionID
	GREASE              bool
	// PermuteExtensions shuffles the non-pinned extensions in
	// ExtensionOrder on each handshake, matching Chrome's randomized
	// ClientHello extension order. A leading GREASE and a trailing run of
	// GREASE / PSK extensions are pinned in place; padding is shuffled
	// with the rest.
	PermuteExtensions bool
	PSK               bool
	// ECHGREASE emits a GREASE Encrypted Client Hello extension, matching
	// browsers that send one even when no real ECH config is available.
	ECHGREASE bool
	// ALPSNewCodepoint selects the newer ALPS extension codepoint
	// (draft-vvv-tls-alps-v2-like deployment used since later Chrome
	// releases) instead of the original draft codepoint.
	ALPSNewCodepoint bool
}

// HTTP1Settings controls wire-level HTTP/1.1 formatting.
type HTTP1Settings struct {
	// PreserveHeaderCase keeps caller-supplied header casing on the wire
	// instead of net/textproto's canonical form.
	PreserveHeaderCase bool
	// TitleCase forces Title-Case-Header-Names regardless of caller casing.
	TitleCase bool
}

// HTTP2Settings mirrors pkg/http2.Options' fingerprint-relevant fields,
// kept as a separate small record here so a profile stays a flat struct
// literal instead of importing the dispatcher's full option surface.
type HTTP2Settings struct {
	HeaderTableSize      uint32
	EnablePush           bool
	MaxConcurrentStreams uint32
	InitialWindowSize    uint32
	MaxFrameSize         uint32
	MaxHeaderListSize    uint32
	UnknownSettings      map[http2.SettingID]uint32
	SettingsOrder        []http2.SettingID
	PseudoHeaderOrder    []string
	HeaderOrder          []string
	ConnectionFlow       uint32
	StreamDependency     uint32
	StreamWeight         uint8
	StreamExclusive      bool
}

// HeaderInitializer returns the default header set for a profile
// (method/path/host are not here; this governs the rest). The result is a
// map and carries no order; Profile.HeaderOrder sets the send order.
type HeaderInitializer func() http.Header

// Profile is the immutable, shared bundle of knobs used to emulate one
// real-world browser or HTTP-library build.
type Profile struct {
	Name    string
	TLS     TLSSettings
	HTTP1   HTTP1Settings
	HTTP2   HTTP2Settings
	Headers HeaderInitializer
	// HeaderOrder names the send order of default + caller headers at the
	// HTTP/1 and HTTP/2 header-frame level (besides pseudo-headers). For
	// HTTP/2, a non-empty HTTP2.HeaderOrder is used instead.
	HeaderOrder []string
}

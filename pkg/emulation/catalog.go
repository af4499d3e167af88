package emulation

import (
	"net/http"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// Shared building blocks. Real captures vary slightly release to release;
// these follow the chromium/BoringSSL defaults for the modern (TLS 1.3
// capable) cipher/curve/sigalg sets.
var (
	chromiumCipherSuites = []uint16{
		utls.GREASE_PLACEHOLDER,
		utls.TLS_AES_128_GCM_SHA256,
		utls.TLS_AES_256_GCM_SHA384,
		utls.TLS_CHACHA20_POLY1305_SHA256,
		utls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		utls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		utls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		utls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		utls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		utls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		utls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
		utls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
		utls.TLS_RSA_WITH_AES_128_GCM_SHA256,
		utls.TLS_RSA_WITH_AES_256_GCM_SHA384,
		utls.TLS_RSA_WITH_AES_128_CBC_SHA,
		utls.TLS_RSA_WITH_AES_256_CBC_SHA,
	}

	chromiumCurves = []utls.CurveID{
		utls.CurveID(utls.GREASE_PLACEHOLDER),
		utls.X25519,
		utls.CurveP256,
		utls.CurveP384,
	}

	chromiumSigAlgs = []utls.SignatureScheme{
		utls.ECDSAWithP256AndSHA256,
		utls.PSSWithSHA256,
		utls.PKCS1WithSHA256,
		utls.ECDSAWithP384AndSHA384,
		utls.PSSWithSHA384,
		utls.PKCS1WithSHA384,
		utls.PSSWithSHA512,
		utls.PKCS1WithSHA512,
	}

	firefoxCurves = []utls.CurveID{
		utls.X25519,
		utls.CurveP256,
		utls.CurveP384,
		utls.CurveP521,
	}

	firefoxSigAlgs = []utls.SignatureScheme{
		utls.ECDSAWithP256AndSHA256,
		utls.ECDSAWithP384AndSHA384,
		utls.ECDSAWithP521AndSHA512,
		utls.PSSWithSHA256,
		utls.PSSWithSHA384,
		utls.PSSWithSHA512,
		utls.PKCS1WithSHA256,
		utls.PKCS1WithSHA384,
		utls.PKCS1WithSHA512,
	}

	// chromiumExtensionOrder is the standard modern-Chromium ClientHello
	// extension order: GREASE, SNI, extended_master_secret,
	// renegotiation_info, supported_groups, ec_point_formats,
	// session_ticket, ALPN, status_request, signature_algorithms, SCT,
	// key_share, PSK_key_exchange_modes, supported_versions,
	// compress_certificate, application_settings (ALPS), ECH GREASE,
	// padding, GREASE.
	chromiumExtensionOrder = []ExtensionID{
		ExtGREASE,
		ExtServerName,
		ExtExtendedMasterSecret,
		ExtRenegotiationInfo,
		ExtSupportedCurves,
		ExtSupportedPoints,
		ExtSessionTicket,
		ExtALPN,
		ExtStatusRequest,
		ExtSignatureAlgorithms,
		ExtSignedCertificateTimestamp,
		ExtKeyShare,
		ExtPSKKeyExchangeModes,
		ExtSupportedVersions,
		ExtCompressCertificate,
		ExtApplicationSettings,
		ExtECHGREASE,
		ExtPadding,
		ExtGREASE,
	}

	firefoxExtensionOrder = []ExtensionID{
		ExtServerName,
		ExtExtendedMasterSecret,
		ExtRenegotiationInfo,
		ExtSupportedCurves,
		ExtSupportedPoints,
		ExtSessionTicket,
		ExtALPN,
		ExtStatusRequest,
		ExtSupportedVersions,
		ExtCompressCertificate,
		ExtSignatureAlgorithms,
		ExtKeyShare,
		ExtPSKKeyExchangeModes,
	}

	okHttpExtensionOrder = []ExtensionID{
		ExtServerName,
		ExtSupportedCurves,
		ExtSupportedPoints,
		ExtSessionTicket,
		ExtALPN,
		ExtStatusRequest,
		ExtSignatureAlgorithms,
		ExtSupportedVersions,
		ExtPSKKeyExchangeModes,
		ExtKeyShare,
	}

	chromiumSettingsOrder = []http2.SettingID{
		http2.SettingHeaderTableSize,
		http2.SettingEnablePush,
		http2.SettingInitialWindowSize,
		http2.SettingMaxHeaderListSize,
	}

	chromiumPseudoHeaderOrder = []string{":method", ":authority", ":scheme", ":path"}
	firefoxPseudoHeaderOrder  = []string{":method", ":path", ":authority", ":scheme"}
)

func chromeUserAgent(version string) string {
	return "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/" +
		version + " Safari/537.36"
}

func edgeUserAgent(chromeVersion, edgeVersion string) string {
	return chromeUserAgent(chromeVersion) + " Edg/" + edgeVersion
}

// newChromeProfile builds a Chrome desktop profile for the given version,
// covering the header-initializer shape (sec-ch-ua/Upgrade-Insecure-
// Requests/sec-fetch-* plus standard Accept*) generalized across versions.
func newChromeProfile(name, chromeVersion, majorVersion string) Profile {
	ua := chromeUserAgent(chromeVersion)
	secChUA := `"Not_A Brand";v="8", "Chromium";v="` + majorVersion + `", "Google Chrome";v="` + majorVersion + `"`

	return Profile{
		Name: name,
		TLS: TLSSettings{
			MinVersion:          utls.VersionTLS12,
			MaxVersion:          utls.VersionTLS13,
			CipherSuites:        chromiumCipherSuites,
			Curves:              chromiumCurves,
			PointFormats:        []uint8{0},
			SignatureAlgorithms: chromiumSigAlgs,
			ALPNProtocols:       []string{"h2", "http/1.1"},
			ALPSProtocols:       []string{"h2"},
			CompressCertAlgs:    []utls.CertCompressionAlgo{utls.CertCompressionBrotli},
			ExtensionOrder:      chromiumExtensionOrder,
			GREASE:              true,
			PermuteExtensions:   true,
			ECHGREASE:           true,
			ALPSNewCodepoint:    true,
		},
		HTTP1: HTTP1Settings{PreserveHeaderCase: true},
		HTTP2: HTTP2Settings{
			HeaderTableSize:      65536,
			EnablePush:           false,
			MaxConcurrentStreams: 1000,
			InitialWindowSize:    6291456,
			MaxFrameSize:         16384,
			MaxHeaderListSize:    262144,
			SettingsOrder:        chromiumSettingsOrder,
			PseudoHeaderOrder:    chromiumPseudoHeaderOrder,
			ConnectionFlow:       15663105,
			StreamWeight:         255,
			StreamExclusive:      true,
		},
		Headers: func() http.Header {
			h := make(http.Header)
			h.Set("sec-ch-ua", secChUA)
			h.Set("sec-ch-ua-mobile", "?0")
			h.Set("sec-ch-ua-platform", `"Windows"`)
			h.Set("Upgrade-Insecure-Requests", "1")
			h.Set("User-Agent", ua)
			h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9")
			h.Set("Sec-Fetch-Site", "none")
			h.Set("Sec-Fetch-Mode", "navigate")
			h.Set("Sec-Fetch-User", "?1")
			h.Set("Sec-Fetch-Dest", "document")
			h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
			h.Set("Accept-Language", "en-US,en;q=0.9")
			return h
		},
		HeaderOrder: []string{
			"sec-ch-ua", "sec-ch-ua-mobile", "sec-ch-ua-platform",
			"upgrade-insecure-requests", "user-agent", "accept",
			"sec-fetch-site", "sec-fetch-mode", "sec-fetch-user", "sec-fetch-dest",
			"accept-encoding", "accept-language", "cookie",
		},
	}
}

func newEdgeProfile(name, chromeVersion, majorVersion, edgeVersion string) Profile {
	p := newChromeProfile(name, chromeVersion, majorVersion)
	ua := edgeUserAgent(chromeVersion, edgeVersion)
	p.TLS.ALPSProtocols = []string{"h2"}
	headers := p.Headers
	p.Headers = func() http.Header {
		h := headers()
		h.Set("User-Agent", ua)
		h.Set("sec-ch-ua", `"Microsoft Edge";v="`+majorVersion+`", "Not(A:Brand";v="24", "Chromium";v="`+majorVersion+`"`)
		return h
	}
	return p
}

func newFirefoxProfile(name, version string) Profile {
	ua := "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:" + version + ") Gecko/20100101 Firefox/" + version

	return Profile{
		Name: name,
		TLS: TLSSettings{
			MinVersion: utls.VersionTLS12,
			MaxVersion: utls.VersionTLS13,
			CipherSuites: []uint16{
				utls.TLS_AES_128_GCM_SHA256,
				utls.TLS_CHACHA20_POLY1305_SHA256,
				utls.TLS_AES_256_GCM_SHA384,
				utls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				utls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				utls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
				utls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
				utls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				utls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				utls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
				utls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
				utls.TLS_RSA_WITH_AES_128_GCM_SHA256,
				utls.TLS_RSA_WITH_AES_256_GCM_SHA384,
				utls.TLS_RSA_WITH_AES_128_CBC_SHA,
				utls.TLS_RSA_WITH_AES_256_CBC_SHA,
			},
			Curves:              firefoxCurves,
			PointFormats:        []uint8{0},
			SignatureAlgorithms: firefoxSigAlgs,
			ALPNProtocols:       []string{"h2", "http/1.1"},
			CompressCertAlgs:    []utls.CertCompressionAlgo{utls.CertCompressionZlib},
			ExtensionOrder:      firefoxExtensionOrder,
			GREASE:              false,
		},
		HTTP1: HTTP1Settings{PreserveHeaderCase: true},
		HTTP2: HTTP2Settings{
			HeaderTableSize:   65536,
			EnablePush:        false,
			InitialWindowSize: 131072,
			MaxFrameSize:      16384,
			MaxHeaderListSize: 393216,
			SettingsOrder: []http2.SettingID{
				http2.SettingHeaderTableSize,
				http2.SettingID(8), // placeholder, Firefox sends an extra positional value here
				http2.SettingInitialWindowSize,
				http2.SettingMaxFrameSize,
			},
			UnknownSettings:   map[http2.SettingID]uint32{http2.SettingID(8): 0},
			PseudoHeaderOrder: firefoxPseudoHeaderOrder,
			ConnectionFlow:    12517377,
		},
		Headers: func() http.Header {
			h := make(http.Header)
			h.Set("User-Agent", ua)
			h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
			h.Set("Accept-Language", "en-US,en;q=0.5")
			h.Set("Accept-Encoding", "gzip, deflate, br, zstd")
			h.Set("Upgrade-Insecure-Requests", "1")
			h.Set("Sec-Fetch-Dest", "document")
			h.Set("Sec-Fetch-Mode", "navigate")
			h.Set("Sec-Fetch-Site", "none")
			h.Set("Sec-Fetch-User", "?1")
			return h
		},
		HeaderOrder: []string{
			"user-agent", "accept", "accept-language", "accept-encoding",
			"upgrade-insecure-requests", "sec-fetch-dest", "sec-fetch-mode",
			"sec-fetch-site", "sec-fetch-user", "cookie",
		},
	}
}

func newSafariProfile(name, version string) Profile {
	ua := "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/" +
		version + " Safari/605.1.15"

	return Profile{
		Name: name,
		TLS: TLSSettings{
			MinVersion: utls.VersionTLS12,
			MaxVersion: utls.VersionTLS13,
			CipherSuites: []uint16{
				utls.TLS_AES_128_GCM_SHA256,
				utls.TLS_AES_256_GCM_SHA384,
				utls.TLS_CHACHA20_POLY1305_SHA256,
				utls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				utls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
				utls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				utls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				utls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
				utls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
				utls.TLS_ECDHE_RSA_WITH_AES_256_CBC_SHA,
				utls.TLS_ECDHE_RSA_WITH_AES_128_CBC_SHA,
				utls.TLS_RSA_WITH_AES_256_GCM_SHA384,
				utls.TLS_RSA_WITH_AES_128_GCM_SHA256,
				utls.TLS_RSA_WITH_AES_256_CBC_SHA,
				utls.TLS_RSA_WITH_AES_128_CBC_SHA,
			},
			Curves:              chromiumCurves[1:],
			PointFormats:        []uint8{0},
			SignatureAlgorithms: chromiumSigAlgs,
			ALPNProtocols:       []string{"h2", "http/1.1"},
			CompressCertAlgs:    nil,
			ExtensionOrder: []ExtensionID{
				ExtServerName,
				ExtExtendedMasterSecret,
				ExtRenegotiationInfo,
				ExtSupportedCurves,
				ExtSupportedPoints,
				ExtALPN,
				ExtStatusRequest,
				ExtSignatureAlgorithms,
				ExtSignedCertificateTimestamp,
				ExtKeyShare,
				ExtPSKKeyExchangeModes,
				ExtSupportedVersions,
				ExtPadding,
			},
			GREASE: false,
		},
		HTTP1: HTTP1Settings{PreserveHeaderCase: true},
		HTTP2: HTTP2Settings{
			HeaderTableSize:      4096,
			EnablePush:           false,
			MaxConcurrentStreams: 100,
			InitialWindowSize:    2097152,
			MaxFrameSize:         16384,
			SettingsOrder: []http2.SettingID{
				http2.SettingHeaderTableSize,
				http2.SettingMaxConcurrentStreams,
				http2.SettingInitialWindowSize,
				http2.SettingMaxFrameSize,
			},
			PseudoHeaderOrder: []string{":method", ":scheme", ":path", ":authority"},
		},
		Headers: func() http.Header {
			h := make(http.Header)
			h.Set("User-Agent", ua)
			h.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8")
			h.Set("Accept-Language", "en-US,en;q=0.9")
			return h
		},
		HeaderOrder: []string{"user-agent", "accept", "accept-language", "accept-encoding", "cookie"},
	}
}

func newOkHttpProfile(name, okhttpVersion, androidUA string) Profile {
	return Profile{
		Name: name,
		TLS: TLSSettings{
			MinVersion:          utls.VersionTLS12,
			MaxVersion:          utls.VersionTLS13,
			CipherSuites:        chromiumCipherSuites[1:],
			Curves:              chromiumCurves[1:],
			PointFormats:        []uint8{0},
			SignatureAlgorithms: chromiumSigAlgs,
			ALPNProtocols:       []string{"h2", "http/1.1"},
			ExtensionOrder:      okHttpExtensionOrder,
			GREASE:              false,
		},
		HTTP1: HTTP1Settings{PreserveHeaderCase: false},
		HTTP2: HTTP2Settings{
			HeaderTableSize:      4096,
			MaxConcurrentStreams: 100,
			InitialWindowSize:    65535,
			MaxFrameSize:         16384,
			SettingsOrder: []http2.SettingID{
				http2.SettingMaxConcurrentStreams,
				http2.SettingInitialWindowSize,
			},
			PseudoHeaderOrder: []string{":method", ":path", ":authority", ":scheme"},
		},
		Headers: func() http.Header {
			h := make(http.Header)
			h.Set("User-Agent", androidUA+" okhttp/"+okhttpVersion)
			return h
		},
		HeaderOrder: []string{"user-agent", "accept-encoding", "cookie"},
	}
}

// catalog is the full emulation set, keyed by public identifier. Built once
// at package init; profiles are never mutated afterward.
var catalog = map[string]Profile{
	"Chrome104":  newChromeProfile("Chrome104", "104.0.0.0", "104"),
	"Chrome116":  newChromeProfile("Chrome116", "116.0.0.0", "116"),
	"Chrome120":  newChromeProfile("Chrome120", "120.0.0.0", "120"),
	"Chrome124":  newChromeProfile("Chrome124", "124.0.0.0", "124"),
	"Chrome131":  newChromeProfile("Chrome131", "131.0.0.0", "131"),
	"Edge127":    newEdgeProfile("Edge127", "127.0.0.0", "127", "127.0.0.0"),
	"Edge131":    newEdgeProfile("Edge131", "131.0.0.0", "131", "131.0.0.0"),
	"Safari18":   newSafariProfile("Safari18", "18.0"),
	"Firefox133": newFirefoxProfile("Firefox133", "133.0"),

	"OkHttp3.9":  newOkHttpProfile("OkHttp3.9", "3.9.0", "Dalvik/2.1.0 (Linux; U; Android 9)"),
	"OkHttp3.11": newOkHttpProfile("OkHttp3.11", "3.11.0", "Dalvik/2.1.0 (Linux; U; Android 9)"),
	"OkHttp3.13": newOkHttpProfile("OkHttp3.13", "3.13.0", "Dalvik/2.1.0 (Linux; U; Android 10)"),
	"OkHttp3.14": newOkHttpProfile("OkHttp3.14", "3.14.0", "Dalvik/2.1.0 (Linux; U; Android 10)"),
	"OkHttp4.9":  newOkHttpProfile("OkHttp4.9", "4.9.0", "Dalvik/2.1.0 (Linux; U; Android 11)"),
	"OkHttp4.10": newOkHttpProfile("OkHttp4.10", "4.10.0", "Dalvik/2.1.0 (Linux; U; Android 12)"),
	"OkHttp5":    newOkHttpProfile("OkHttp5", "5.0.0", "Dalvik/2.1.0 (Linux; U; Android 14)"),
}

// Lookup returns the named profile and whether it exists.
func Lookup(name string) (Profile, bool) {
	p, ok := catalog[name]
	return p, ok
}

// Names returns every catalogued profile identifier.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	return names
}

// Package tlsconf realizes an emulation.Profile's declarative TLS settings
// into a concrete *utls.ClientHelloSpec, the input utls applies to produce
// a byte-accurate ClientHello.
//
// Grounded on the buildClientHelloSpecFromProfile pattern used by the
// reference dialer implementations in the example pack: a profile carries
// plain data (cipher list, curve list, an ordered extension-ID sequence),
// and this package owns the one-time mapping from ExtensionID to the
// concrete utls.TLSExtension constructor.
package tlsconf

import (
	"fmt"
	"math/rand"

	utls "github.com/refraction-networking/utls"

	"github.com/WhileEndless/go-impersonate/pkg/emulation"
)

// Build realizes profile.TLS into a ClientHelloSpec ready for
// utls.UClient(...).ApplyPreset(spec).
func Build(profile *emulation.Profile, serverName string) (*utls.ClientHelloSpec, error) {
	if profile == nil {
		return nil, fmt.Errorf("tlsconf: nil profile")
	}
	t := profile.TLS

	extensions := make([]utls.TLSExtension, 0, len(t.ExtensionOrder))
	for _, id := range t.ExtensionOrder {
		ext, err := buildExtension(id, t, serverName)
		if err != nil {
			return nil, fmt.Errorf("tlsconf: profile %q: %w", profile.Name, err)
		}
		if ext != nil {
			extensions = append(extensions, ext)
		}
	}

	if t.PermuteExtensions {
		permuteExtensions(extensions)
	}

	cipherSuites := t.CipherSuites
	if len(cipherSuites) == 0 {
		cipherSuites = []uint16{utls.TLS_AES_128_GCM_SHA256, utls.TLS_AES_256_GCM_SHA384}
	}

	minVers, maxVers := t.MinVersion, t.MaxVersion
	if minVers == 0 {
		minVers = utls.VersionTLS12
	}
	if maxVers == 0 {
		maxVers = utls.VersionTLS13
	}

	return &utls.ClientHelloSpec{
		CipherSuites:       cipherSuites,
		CompressionMethods: []uint8{0},
		Extensions:         extensions,
		TLSVersMin:         minVers,
		TLSVersMax:         maxVers,
		GetSessionID:       nil,
	}, nil
}

// permuteExtensions shuffles extensions in place, matching Chrome's
// randomized ClientHello extension order. A leading run of GREASE
// extensions and a trailing run of GREASE / pre_shared_key extensions
// (TLS 1.3 requires pre_shared_key to stay last) are left pinned;
// everything between them is shuffled.
func permuteExtensions(extensions []utls.TLSExtension) {
	if len(extensions) < 3 {
		return
	}

	start := 0
	for start < len(extensions) {
		if _, ok := extensions[start].(*utls.UtlsGREASEExtension); !ok {
			break
		}
		start++
	}

	end := len(extensions)
	for end > start {
		switch extensions[end-1].(type) {
		case *utls.UtlsPreSharedKeyExtension, *utls.UtlsGREASEExtension:
			end--
		default:
			goto trimmed
		}
	}
trimmed:

	movable := extensions[start:end]
	rand.Shuffle(len(movable), func(i, j int) {
		movable[i], movable[j] = movable[j], movable[i]
	})
}

// buildExtension maps one declared ExtensionID to its concrete utls type.
// Returns (nil, nil) for extensions this profile declared but that carry no
// data worth emitting in the current settings (e.g. ALPS without protocols).
func buildExtension(id emulation.ExtensionID, t emulation.TLSSettings, serverName string) (utls.TLSExtension, error) {
	switch id {
	case emulation.ExtGREASE:
		if !t.GREASE {
			return nil, nil
		}
		return &utls.UtlsGREASEExtension{}, nil

	case emulation.ExtServerName:
		return &utls.SNIExtension{ServerName: serverName}, nil

	case emulation.ExtExtendedMasterSecret, emulation.ExtExtendedMasterSecretDup:
		return &utls.ExtendedMasterSecretExtension{}, nil

	case emulation.ExtRenegotiationInfo:
		return &utls.RenegotiationInfoExtension{Renegotiation: utls.RenegotiateOnceAsClient}, nil

	case emulation.ExtSupportedCurves:
		curves := t.Curves
		if len(curves) == 0 {
			curves = []utls.CurveID{utls.X25519, utls.CurveP256}
		}
		return &utls.SupportedCurvesExtension{Curves: curves}, nil

	case emulation.ExtSupportedPoints:
		points := t.PointFormats
		if len(points) == 0 {
			points = []uint8{0}
		}
		return &utls.SupportedPointsExtension{SupportedPoints: points}, nil

	case emulation.ExtSessionTicket:
		return &utls.SessionTicketExtension{}, nil

	case emulation.ExtALPN:
		protos := t.ALPNProtocols
		if len(protos) == 0 {
			protos = []string{"http/1.1"}
		}
		return &utls.ALPNExtension{AlpnProtocols: protos}, nil

	case emulation.ExtStatusRequest:
		return &utls.StatusRequestExtension{}, nil

	case emulation.ExtSignatureAlgorithms:
		algs := t.SignatureAlgorithms
		if len(algs) == 0 {
			algs = []utls.SignatureScheme{utls.ECDSAWithP256AndSHA256, utls.PSSWithSHA256, utls.PKCS1WithSHA256}
		}
		return &utls.SignatureAlgorithmsExtension{SupportedSignatureAlgorithms: algs}, nil

	case emulation.ExtSignedCertificateTimestamp:
		return &utls.SCTExtension{}, nil

	case emulation.ExtPadding:
		return &utls.UtlsPaddingExtension{GetPaddingLen: utls.BoringPaddingStyle}, nil

	case emulation.ExtCompressCertificate:
		algs := t.CompressCertAlgs
		if len(algs) == 0 {
			return nil, nil
		}
		return &utls.UtlsCompressCertExtension{Algorithms: algs}, nil

	case emulation.ExtApplicationSettings:
		if len(t.ALPSProtocols) == 0 {
			return nil, nil
		}
		if t.ALPSNewCodepoint {
			return &utls.ApplicationSettingsExtensionNew{SupportedProtocols: t.ALPSProtocols}, nil
		}
		return &utls.ApplicationSettingsExtension{SupportedProtocols: t.ALPSProtocols}, nil

	case emulation.ExtECHGREASE:
		if !t.ECHGREASE {
			return nil, nil
		}
		return &utls.GREASEEncryptedClientHelloExtension{
			CandidateCipherSuites: []utls.HPKESymmetricCipherSuite{
				{KdfId: utls.HKDF_SHA256, AeadId: utls.AEAD_AES_128_GCM},
			},
			CandidatePayloadLens: []uint16{223},
		}, nil

	case emulation.ExtSupportedVersions:
		versions := []uint16{t.MaxVersion, t.MinVersion}
		if t.MaxVersion == 0 {
			versions = []uint16{utls.VersionTLS13, utls.VersionTLS12}
		}
		return &utls.SupportedVersionsExtension{Versions: versions}, nil

	case emulation.ExtPSKKeyExchangeModes:
		return &utls.PSKKeyExchangeModesExtension{Modes: []uint8{utls.PskModeDHE}}, nil

	case emulation.ExtKeyShare:
		return &utls.KeyShareExtension{KeyShares: []utls.KeyShare{{Group: utls.X25519}}}, nil

	case emulation.ExtPreSharedKey:
		if !t.PSK {
			return nil, nil
		}
		return &utls.UtlsPreSharedKeyExtension{}, nil

	default:
		return nil, fmt.Errorf("unknown extension id %d", id)
	}
}

package protocol

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Pinner checks server certificates against SPKI sha256 pins per host.
type Pinner struct {
	pins map[string][]string
}

// NewPinner copies pins, lower-casing every hash.
func NewPinner(pins map[string][]string) *Pinner {
	p := &Pinner{pins: make(map[string][]string, len(pins))}
	for host, hashes := range pins {
		for _, h := range hashes {
			p.pins[strings.ToLower(host)] = append(p.pins[strings.ToLower(host)], strings.ToLower(h))
		}
	}
	return p
}

// TLSConfig returns a config enforcing the pins for host, or nil when host
// has none.
func (p *Pinner) TLSConfig(host string) *tls.Config {
	pins := p.match(strings.ToLower(host))
	if len(pins) == 0 {
		return nil
	}
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		VerifyPeerCertificate: func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {
			return verifyChains(host, pins, verifiedChains)
		},
	}
}

func (p *Pinner) match(host string) []string {
	if pins, ok := p.pins[host]; ok {
		return pins
	}
	for pinned, pins := range p.pins {
		if strings.HasPrefix(pinned, "*.") && strings.HasSuffix(host, pinned[1:]) {
			return pins
		}
	}
	return nil
}

func verifyChains(host string, pins []string, chains [][]*x509.Certificate) error {
	if len(chains) == 0 {
		return errors.New("no verified certificate chains")
	}
	for _, chain := range chains {
		for _, cert := range chain {
			hash := SPKIHash(cert)
			for _, pin := range pins {
				if hash == pin {
					return nil
				}
			}
		}
	}
	return fmt.Errorf("certificate pin verification failed for host %s", host)
}

// SPKIHash is the hex sha256 of the certificate's SubjectPublicKeyInfo.
func SPKIHash(cert *x509.Certificate) string {
	sum := sha256.Sum256(cert.RawSubjectPublicKeyInfo)
	return hex.EncodeToString(sum[:])
}

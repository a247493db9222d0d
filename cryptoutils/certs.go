package cryptoutils

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"time"
)

// CAValidity is how far the local CA validity window extends on each side of its creation time.
const CAValidity = 24 * time.Hour

// LocalCA is a self-signed certificate authority used for local TLS material.
type LocalCA struct {
	Cert   TLSCert
	KeyPEM []byte
}

// ValidityPeriod returns the window [now-CAValidity, now+CAValidity].
func ValidityPeriod(now time.Time) (notBefore, notAfter time.Time) {
	return now.Add(-CAValidity), now.Add(CAValidity)
}

// NewCA generates a fresh self-signed CA certificate valid from yesterday to tomorrow.
// The CA may sign certificates and CRLs; the chain of trust is not meant to leave the host.
func NewCA(commonName string) (*LocalCA, error) {
	privateKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial number: %w", err)
	}

	notBefore, notAfter := ValidityPeriod(time.Now().UTC())
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: commonName},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}

	certASN1, err := x509.CreateCertificate(rand.Reader, template, template, privateKey.Public(), privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create CA certificate: %w", err)
	}

	privkeyBytes, err := x509.MarshalPKCS8PrivateKey(privateKey)
	if err != nil {
		return nil, err
	}

	cert, err := NewTLSCert(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: certASN1}))
	if err != nil {
		return nil, err
	}

	return &LocalCA{
		Cert:   cert,
		KeyPEM: pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privkeyBytes}),
	}, nil
}

// TLSCertificate returns the CA as a certificate usable by a TLS listener.
func (ca *LocalCA) TLSCertificate() (tls.Certificate, error) {
	return tls.X509KeyPair(ca.Cert, ca.KeyPEM)
}

package cryptoutils

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidityPeriod(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	notBefore, notAfter := ValidityPeriod(now)

	assert.Equal(t, time.Date(2024, 3, 9, 12, 0, 0, 0, time.UTC), notBefore)
	assert.Equal(t, time.Date(2024, 3, 11, 12, 0, 0, 0, time.UTC), notAfter)
}

func TestNewCA(t *testing.T) {
	ca, err := NewCA("registry.local")
	require.NoError(t, err)
	require.NoError(t, ca.Cert.Validate())

	cert, err := ca.Cert.GetX509Cert()
	require.NoError(t, err)

	assert.True(t, cert.IsCA)
	assert.Equal(t, "registry.local", cert.Subject.CommonName)
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageDigitalSignature)
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageCertSign)
	assert.NotZero(t, cert.KeyUsage&x509.KeyUsageCRLSign)
	assert.WithinDuration(t, time.Now().Add(-CAValidity), cert.NotBefore, time.Minute)
	assert.WithinDuration(t, time.Now().Add(CAValidity), cert.NotAfter, time.Minute)

	valid, err := ca.Cert.ValidAt(time.Now())
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = ca.Cert.ValidAt(time.Now().Add(2 * CAValidity))
	require.NoError(t, err)
	assert.False(t, valid)

	tlsCert, err := ca.TLSCertificate()
	require.NoError(t, err)
	assert.Len(t, tlsCert.Certificate, 1)
}

func TestNewTLSCertRejectsGarbage(t *testing.T) {
	_, err := NewTLSCert([]byte("not a certificate"))
	assert.Error(t, err)
}

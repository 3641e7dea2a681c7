package crypto

import (
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateWireGuardKeyPair(t *testing.T) {
	keyPair, err := GenerateWireGuardKeyPair()
	require.NoError(t, err)

	assert.True(t, IsValidWireGuardKey(keyPair.PrivateKey))
	assert.True(t, IsValidWireGuardKey(keyPair.PublicKey))
	assert.NotEqual(t, keyPair.PrivateKey, keyPair.PublicKey)

	derived, err := DeriveWireGuardPublicKey(keyPair.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, keyPair.PublicKey, derived)
}

func TestIsValidWireGuardKey(t *testing.T) {
	assert.False(t, IsValidWireGuardKey(""))
	assert.False(t, IsValidWireGuardKey("too-short"))
	assert.False(t, IsValidWireGuardKey("not base64 at all ...........................="))

	keyPair, err := GenerateWireGuardKeyPair()
	require.NoError(t, err)
	assert.True(t, IsValidWireGuardKey(keyPair.PublicKey))
}

func TestDeriveWireGuardPublicKeyRejectsGarbage(t *testing.T) {
	_, err := DeriveWireGuardPublicKey("garbage")
	assert.Error(t, err)
}

func TestCAIssueClientCertificate(t *testing.T) {
	ca, err := NewCA("test-ca", time.Hour)
	require.NoError(t, err)

	notAfter := time.Now().Add(30 * time.Minute)
	cert, err := ca.IssueClientCertificate("client-1", notAfter)
	require.NoError(t, err)
	assert.Equal(t, "client-1", cert.CommonName)

	block, _ := pem.Decode([]byte(cert.CertificatePEM))
	require.NotNil(t, block)
	parsed, err := x509.ParseCertificate(block.Bytes)
	require.NoError(t, err)
	assert.Equal(t, "client-1", parsed.Subject.CommonName)
	assert.Contains(t, parsed.ExtKeyUsage, x509.ExtKeyUsageClientAuth)

	// The client certificate chains to the CA.
	caBlock, _ := pem.Decode([]byte(ca.CertificatePEM()))
	require.NotNil(t, caBlock)
	caCert, err := x509.ParseCertificate(caBlock.Bytes)
	require.NoError(t, err)

	roots := x509.NewCertPool()
	roots.AddCert(caCert)
	_, err = parsed.Verify(x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	require.NoError(t, err)
}

func TestLoadCARoundTrip(t *testing.T) {
	ca, err := NewCA("test-ca", time.Hour)
	require.NoError(t, err)

	keyPEM, err := ca.KeyPEM()
	require.NoError(t, err)

	loaded, err := LoadCA([]byte(ca.CertificatePEM()), []byte(keyPEM))
	require.NoError(t, err)
	assert.Equal(t, ca.CertificatePEM(), loaded.CertificatePEM())

	// The loaded CA still issues verifiable certificates.
	_, err = loaded.IssueClientCertificate("client-2", time.Now().Add(time.Minute))
	require.NoError(t, err)
}

func TestLoadCARejectsGarbage(t *testing.T) {
	_, err := LoadCA([]byte("nope"), []byte("nope"))
	assert.Error(t, err)
}

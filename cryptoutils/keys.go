package cryptoutils

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/ruteri/world-registry/interfaces"
)

// SignatureAlgorithm is the JWS algorithm used for every registry signature.
const SignatureAlgorithm = jose.EdDSA

// GenerateVCKey creates a new Ed25519 signing key wrapped as a private JWK.
// The key id is the RFC 7638 thumbprint of the public key.
func GenerateVCKey() (interfaces.VCKey, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return interfaces.VCKey{}, fmt.Errorf("failed to generate signing key: %w", err)
	}

	jwk := jose.JSONWebKey{
		Key:       priv,
		Algorithm: string(SignatureAlgorithm),
		Use:       "sig",
	}

	keyID, err := KeyThumbprint(jwk)
	if err != nil {
		return interfaces.VCKey{}, err
	}
	jwk.KeyID = keyID

	return interfaces.VCKey{JWK: jwk, KeyID: keyID}, nil
}

// KeyThumbprint returns the base64url SHA-256 thumbprint of the public part of jwk.
func KeyThumbprint(jwk jose.JSONWebKey) (string, error) {
	pub := jwk.Public()
	thumb, err := pub.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("failed to compute key thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(thumb), nil
}

// SignCompact signs payload with the key and returns a compact JWS.
// The JWS header carries kid so verifiers can pick the key from a DID document.
func SignCompact(key *interfaces.VCKey, kid string, payload []byte) (string, error) {
	if key == nil || key.JWK.Key == nil {
		return "", errors.New("no signing key")
	}

	opts := (&jose.SignerOptions{}).WithHeader(jose.HeaderKey("kid"), kid)
	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: SignatureAlgorithm, Key: key.JWK.Key}, opts)
	if err != nil {
		return "", fmt.Errorf("failed to create signer: %w", err)
	}

	obj, err := signer.Sign(payload)
	if err != nil {
		return "", fmt.Errorf("failed to sign payload: %w", err)
	}
	return obj.CompactSerialize()
}

// VerifyCompact checks a compact JWS against a public JWK and returns its payload.
func VerifyCompact(jws string, pub jose.JSONWebKey) ([]byte, error) {
	obj, err := jose.ParseSigned(jws, []jose.SignatureAlgorithm{SignatureAlgorithm})
	if err != nil {
		return nil, fmt.Errorf("failed to parse jws: %w", err)
	}
	return obj.Verify(pub)
}

// Package cryptoutils provides the key and certificate operations of the registry.
//
// # Signing Keys
//
// Registry keys are Ed25519 keys carried as JSON Web Keys:
//
//   - GenerateVCKey - Creates a private JWK whose key id is its RFC 7638 thumbprint
//   - KeyThumbprint - Computes the base64url SHA-256 thumbprint of a JWK
//   - SignCompact - Produces a compact EdDSA JWS with a kid header
//   - VerifyCompact - Verifies a compact JWS against a public JWK
//
// # Local TLS Material
//
// NewCA creates a self-signed P-256 certificate authority valid from one day
// before to one day after its creation. It may sign certificates and CRLs and
// is meant for local HTTPS only.
package cryptoutils

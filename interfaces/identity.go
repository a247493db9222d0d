package interfaces

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-jose/go-jose/v4"
)

// DIDWebPrefix is the method prefix of every registry DID.
const DIDWebPrefix = "did:web:"

// DIDForAddress returns the did:web identifier bound to a serving address.
func DIDForAddress(address string) string {
	return DIDWebPrefix + address
}

// VCKey is the signing key pair used by the registry for both the
// attestation and the authorization role.
type VCKey struct {
	// JWK holds the private key. Its public projection is published in the DID document.
	JWK jose.JSONWebKey `json:"jwk"`

	// KeyID identifies the key independently of the DID it is bound to.
	KeyID string `json:"key_id"`
}

// Validate checks that the key is a usable asymmetric private key.
func (k *VCKey) Validate() error {
	if k.KeyID == "" {
		return errors.New("missing key_id")
	}
	if k.JWK.Key == nil {
		return errors.New("missing jwk")
	}
	if !k.JWK.Valid() {
		return errors.New("invalid jwk")
	}
	if k.JWK.IsPublic() {
		return errors.New("jwk has no private key material")
	}
	return nil
}

// PublicJWK returns the public projection of the key.
func (k *VCKey) PublicJWK() (jose.JSONWebKey, error) {
	pub := k.JWK.Public()
	if pub.Key == nil || !pub.Valid() {
		return jose.JSONWebKey{}, ErrNoPublicKey
	}
	return pub, nil
}

// IdentityRecord is the persisted registry identity.
type IdentityRecord struct {
	DID   string `json:"did"`
	VCKey VCKey  `json:"vc_key"`
}

// Validate checks the structural invariants of a loaded record.
// A record failing validation is treated as corrupt.
func (r *IdentityRecord) Validate() error {
	if !strings.HasPrefix(r.DID, DIDWebPrefix) || len(r.DID) == len(DIDWebPrefix) {
		return fmt.Errorf("invalid did %q", r.DID)
	}
	if err := r.VCKey.Validate(); err != nil {
		return fmt.Errorf("invalid vc_key: %w", err)
	}
	return nil
}

// BoundTo reports whether the record belongs to the given DID.
func (r *IdentityRecord) BoundTo(did string) bool {
	return r.DID == did
}

// IdentityRepository persists the single registry identity record.
//
// Load returns (nil, nil) when no record exists. A record that exists but
// cannot be parsed must be reported as ErrIdentityCorrupt so that callers can
// tell corruption apart from a fresh deployment.
type IdentityRepository interface {
	// Load reads the persisted record.
	Load(ctx context.Context) (*IdentityRecord, error)

	// Save persists the record, replacing any previous one.
	Save(ctx context.Context, record IdentityRecord) error

	// Delete removes the persisted record. Deleting an absent record is not an error.
	Delete(ctx context.Context) error

	// Location returns a URI identifying where the record is kept.
	Location() string
}

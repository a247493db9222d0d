// Package diddoc derives the registry DID document from the live identity.
package diddoc

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-jose/go-jose/v4"
	"github.com/ruteri/world-registry/identity"
	"github.com/ruteri/world-registry/interfaces"
)

// VerificationMethodType is the type of the single verification method.
const VerificationMethodType = "JsonWebKey2020"

// Contexts of every produced document.
var Contexts = []string{
	"https://www.w3.org/ns/did/v1",
	"https://w3id.org/security/suites/jws-2020/v1",
}

// VerificationMethod is a public key entry of the document.
type VerificationMethod struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Controller   string          `json:"controller"`
	PublicKeyJWK jose.JSONWebKey `json:"publicKeyJwk"`
}

// Document is a DID document.
//
// Relationship lists hold DID URLs relative to the document id ("#key-0").
type Document struct {
	Context            []string             `json:"@context"`
	ID                 string               `json:"id"`
	VerificationMethod []VerificationMethod `json:"verificationMethod"`
	AssertionMethod    []string             `json:"assertionMethod"`
	Authentication     []string             `json:"authentication"`
}

// Build derives the document for agent. It has no side effects.
//
// The authorization key is published once and referenced by both the
// assertionMethod and authentication relationships.
func Build(agent *identity.Agent) (*Document, error) {
	pub, err := agent.Authorization().PublicJWK()
	if err != nil {
		return nil, fmt.Errorf("failed to build document for %s: %w", agent.DID(), err)
	}
	if !pub.IsPublic() {
		return nil, fmt.Errorf("failed to build document for %s: %w", agent.DID(), interfaces.ErrNoPublicKey)
	}

	fragment := "#" + identity.KeyFragment

	return &Document{
		Context: append([]string(nil), Contexts...),
		ID:      agent.DID(),
		VerificationMethod: []VerificationMethod{{
			ID:           agent.VerificationMethodID(),
			Type:         VerificationMethodType,
			Controller:   agent.DID(),
			PublicKeyJWK: pub,
		}},
		AssertionMethod: []string{fragment},
		Authentication:  []string{fragment},
	}, nil
}

// Marshal encodes the document. The output is deterministic for a given document.
func (d *Document) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Resolve returns the verification method a relative or absolute DID URL points to.
func (d *Document) Resolve(ref string) (*VerificationMethod, bool) {
	if len(ref) > 0 && ref[0] == '#' {
		ref = d.ID + ref
	}
	for i := range d.VerificationMethod {
		if d.VerificationMethod[i].ID == ref {
			return &d.VerificationMethod[i], true
		}
	}
	return nil, false
}

// Validate checks that every relationship references an existing verification method.
func (d *Document) Validate() error {
	for name, refs := range map[string][]string{
		"assertionMethod": d.AssertionMethod,
		"authentication":  d.Authentication,
	} {
		for _, ref := range refs {
			if _, ok := d.Resolve(ref); !ok {
				return fmt.Errorf("%s references unknown verification method %q", name, ref)
			}
		}
	}
	return nil
}

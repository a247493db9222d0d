package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ruteri/world-registry/cryptoutils"
	"github.com/ruteri/world-registry/interfaces"
)

// KeyFragment is the DID URL fragment of the single registry key.
const KeyFragment = "key-0"

// Agent is the live registry identity.
//
// One key serves both the attestation and the authorization role: the two
// references point to the same key value. The agent is never mutated after
// construction and is safe for concurrent use.
type Agent struct {
	did           string
	attestation   *interfaces.VCKey
	authorization *interfaces.VCKey
	store         interfaces.ProtocolStore
	now           func() time.Time
}

// NewAgent binds key to did. The store is shared, not owned, by the agent.
func NewAgent(did string, key interfaces.VCKey, store interfaces.ProtocolStore) *Agent {
	k := &key
	return &Agent{
		did:           did,
		attestation:   k,
		authorization: k,
		store:         store,
		now:           time.Now,
	}
}

func (a *Agent) DID() string { return a.did }

// Attestation returns the key used to sign credentials. Callers must not modify it.
func (a *Agent) Attestation() *interfaces.VCKey { return a.attestation }

// Authorization returns the key used to authorize store messages. Callers must not modify it.
func (a *Agent) Authorization() *interfaces.VCKey { return a.authorization }

func (a *Agent) Store() interfaces.ProtocolStore { return a.store }

// VerificationMethodID returns the absolute DID URL of the registry key.
func (a *Agent) VerificationMethodID() string {
	return a.did + "#" + KeyFragment
}

// QueryProtocols asks the store for definitions held for this agent's DID.
func (a *Agent) QueryProtocols(ctx context.Context, filter interfaces.ProtocolsFilter) ([]interfaces.ProtocolEntry, error) {
	query := interfaces.ProtocolsQuery{
		Target:    a.did,
		Filter:    filter,
		Timestamp: a.now().UTC(),
	}

	auth, err := a.authorize(query.Descriptor())
	if err != nil {
		return nil, err
	}
	query.Authorization = auth

	return a.store.QueryProtocols(ctx, query)
}

// RegisterProtocol writes definition to the store at version, authorized by this agent.
func (a *Agent) RegisterProtocol(ctx context.Context, definition interfaces.ProtocolDefinition, version string) error {
	msg := interfaces.ProtocolsConfigure{
		Target:     a.did,
		Definition: definition,
		Version:    version,
		Timestamp:  a.now().UTC(),
	}

	auth, err := a.authorize(msg.Descriptor())
	if err != nil {
		return err
	}
	msg.Authorization = auth

	return a.store.RegisterProtocol(ctx, msg)
}

func (a *Agent) authorize(descriptor interfaces.MessageDescriptor) (string, error) {
	payload, err := json.Marshal(descriptor)
	if err != nil {
		return "", fmt.Errorf("failed to encode descriptor: %w", err)
	}
	jws, err := cryptoutils.SignCompact(a.authorization, a.VerificationMethodID(), payload)
	if err != nil {
		return "", fmt.Errorf("failed to authorize %s %s: %w", descriptor.Interface, descriptor.Method, err)
	}
	return jws, nil
}

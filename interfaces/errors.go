package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrIdentityCorrupt is returned when a persisted identity exists but cannot be parsed.
	// Operators should inspect or remove the file; it is never discarded silently.
	ErrIdentityCorrupt = errors.New("persisted identity is corrupt")

	// ErrIdentityMismatch marks a persisted identity bound to a different address.
	// Bootstrap recovers from it by regenerating the identity.
	ErrIdentityMismatch = errors.New("persisted identity bound to a different address")

	// ErrPersistence is returned when the identity record cannot be written or deleted.
	ErrPersistence = errors.New("identity persistence failed")

	// ErrNoPublicKey is returned when key material has no derivable public projection.
	ErrNoPublicKey = errors.New("key material has no public projection")

	// ErrSchemaParse indicates the embedded protocol schema is malformed.
	// This is a build-time asset defect.
	ErrSchemaParse = errors.New("protocol schema parse error")

	// ErrStoreUnavailable is returned for transient store failures (network, I/O, busy).
	// Operations failing with it may be retried.
	ErrStoreUnavailable = errors.New("protocol store unavailable")

	// ErrDefinitionRejected is returned when the store permanently rejects a definition.
	ErrDefinitionRejected = errors.New("protocol definition rejected")

	// ErrProtocolExists is returned by stores that enforce (protocol, version) uniqueness
	// when a definition for the pair is already stored.
	ErrProtocolExists = errors.New("protocol version already registered")

	// ErrRegistrarAlreadyRun is returned when a registrar is run more than once.
	ErrRegistrarAlreadyRun = errors.New("protocol registrar already run")

	// ErrInvalidStoreURI is returned for malformed or unsupported store and repository URIs.
	ErrInvalidStoreURI = errors.New("invalid store URI")
)

// StoreOp names a store boundary operation.
type StoreOp string

const (
	StoreOpQuery    StoreOp = "query"
	StoreOpRegister StoreOp = "register"
)

// StoreError wraps a failure of a store boundary operation.
type StoreError struct {
	Op    StoreOp
	Store string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Store, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a transient store failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}

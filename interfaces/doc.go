// Package interfaces defines the core types and boundaries of the world registry,
// separating them from their implementations.
//
// # Identity
//
// IdentityRecord is the persisted registry identity: a did:web DID bound to
// a single VCKey. IdentityRepository persists exactly one record and must tell
// a missing record apart from a corrupt one.
//
// # Protocols
//
// ProtocolDefinition describes the record types and the rule-set tree of a
// protocol. ProtocolStore is the boundary of the backing data store: it answers
// ProtocolsQuery messages and accepts ProtocolsConfigure messages, both carrying
// a compact JWS authorization over their MessageDescriptor.
//
// # Errors
//
// Failures are reported with the sentinel errors of this package, wrapped
// with context. StoreError records which store operation failed, and
// IsRetryable separates transient store failures from permanent ones.
package interfaces

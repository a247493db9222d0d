// Package storage implements the protocol store boundary used by the registry.
//
// A store keeps protocol definitions keyed by (target DID, protocol, version)
// and answers filtered queries. Every implementation validates definitions
// before accepting them and reports a duplicate (target, protocol, version)
// as interfaces.ErrProtocolExists.
//
// # Store URI Format
//
//	memory://
//	sqlite:///var/lib/registry/registry.db
//	s3://ACCESS_KEY:SECRET_KEY@bucket/prefix?region=us-west-2&endpoint=minio:9000
//	ipfs://127.0.0.1:5001/world-registry?timeout=30s
//	dwn+https://dwn.example.com/
//
// # Error Classification
//
// Transport failures, lock contention and server side errors wrap
// interfaces.ErrStoreUnavailable and may be retried. Definitions or messages
// the store refuses wrap interfaces.ErrDefinitionRejected.
//
// SQLite and DWN enforce uniqueness atomically. S3 and IPFS check for an
// existing object before writing, which leaves a window for concurrent writers.
package storage

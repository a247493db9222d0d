// Package registry wires the registry server startup sequence.
//
// Start runs in a fixed order:
//
//  1. Identity bootstrap against the identity repository. Any failure is
//     returned and the server must not start.
//  2. DID document derivation and marshalling.
//  3. Protocol registration, scheduled as an independent background task.
//
// Registration outcomes never affect serving. A failed registration is logged
// and counted; the document keeps being served.
package registry

// Package interfaces defines core interfaces and types for the attested
// randomness service, separating interface definitions from implementations.
//
// The package provides the contracts between the request pipeline and its
// collaborators:
//
// # Access Control
//
// AccessGrant: The resolved access tier for one request (allow-listed, API
// key, or paid), together with the identity the grant was issued to. Grants
// live only for the duration of a single HTTP call.
//
// PaymentProof: A decoded x402 payment header, represented as a closed tagged
// union with one variant per supported network (EVM, Solana). The proof hash
// used for replay protection is the SHA-256 of the raw header bytes, so two
// byte-identical submissions always collide regardless of JSON key order.
//
// Facilitator: External service that verifies and settles on-chain payments
// on behalf of the resource server. Verification failures deny the request;
// settlement runs after the response and never unwinds delivered randomness.
//
// # Replay Protection
//
// ReplayStore: A set of consumed payment-proof hashes with TTL expiry.
// Reserve is an atomic check-and-insert: a hash is reserved before facilitator
// verification and released only if verification fails, closing the window
// where two concurrent requests carrying the same proof could both verify.
//
// # Storage
//
// StorageBackend: Content-addressed storage for published commitment proof
// documents across multiple backend types (file, S3, IPFS).
//
// # Attestation
//
// AttestationEnvelope: The hardware quote (or, outside production, an
// explicitly flagged mock) bound to SHA256(seed || requestHash).
package interfaces

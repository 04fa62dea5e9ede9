// Package main (cmd/httpserver) implements the TEE-attested randomness server.
//
// The server exposes HTTP endpoints that derive random values inside a
// trusted execution environment and bind each result to a hardware
// attestation quote. Access is gated by API keys, origin/IP allow-lists,
// or x402 micropayments verified through an external facilitator, with
// replay protection for payment proofs kept in memory and optionally
// mirrored into Vault for durability across instances.
//
// Each paid response can additionally publish a signed commitment proof
// (a hash binding the seed to the request, never the seed itself) to one
// or more content-addressed storage backends (local files, IPFS, S3),
// letting third parties verify after the fact that a disclosed seed matches
// what the enclave committed to at response time.
//
// In production mode the server refuses to start with a mock attestation
// provider and refuses to serve randomness when quote generation fails.
package main

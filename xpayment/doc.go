// Package xpayment implements the x402 micropayment handshake for the
// randomness API: payment requirements advertised over HTTP 402, decoding
// of inbound payment headers into closed tagged-union proofs, and the HTTP
// client for the external facilitator that verifies and settles payments.
//
// The service itself never touches chains or keys; every trust decision
// about a payment is delegated to the facilitator, and an unreachable
// facilitator is always a denial, never an implicit allow.
package xpayment

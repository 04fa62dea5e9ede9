// Package replay implements payment-proof replay protection.
//
// Three interfaces.ReplayStore implementations are provided:
//
//   - MemoryStore: bounded in-process LRU with TTL auto-expiry. Resets on
//     restart, so its protection is weaker than the durable store; this is
//     a documented limitation, not a hidden one.
//   - VaultStore: durable store on HashiCorp Vault KV v2, using
//     check-and-set writes so concurrent reservations of the same hash
//     cannot both succeed.
//   - ResilientStore: decorator composing the two. Every write goes to the
//     memory store; writes additionally go to the durable store while it is
//     reachable. When the durable store is down the decorator logs the
//     degraded mode and keeps serving from memory, so a durable outage
//     never silently disables replay protection for recently seen hashes.
package replay

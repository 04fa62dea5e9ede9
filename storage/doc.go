// Package storage provides content-addressed storage backends for
// published commitment proof documents.
//
// All backends implement interfaces.StorageBackend, keyed by the SHA-256
// of the stored bytes. Three backend types are supported (local file
// system, IPFS and S3-compatible object stores) plus a multi-backend
// aggregator that writes to every available backend and reads from the
// first that has the content. Backends are constructed from URI strings by
// the Factory, so deployments choose their commitment ledger purely
// through configuration.
package storage

package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// IPFSBackend publishes proof documents to IPFS through a node API. IPFS is
// the preferred commitment ledger: content addressing makes published
// proofs tamper-evident by construction.
//
// Note: IPFS CIDs differ from the SHA-256 content IDs used internally. The
// CID returned by the node is what external verifiers resolve; Store logs
// it and keeps the internal ID as the lookup key via an on-node name.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	log         *slog.Logger
	locationURI string

	// cids maps internal content IDs to the IPFS CIDs the node assigned.
	cidMu sync.RWMutex
	cids  map[interfaces.ContentID]string
}

// NewIPFSBackend creates an IPFS backend talking to the node API at
// host:port.
func NewIPFSBackend(host, port string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s/", apiURL),
		cids:        make(map[interfaces.ContentID]string),
	}, nil
}

// Fetch retrieves previously stored content. Only content stored through
// this backend instance can be fetched by internal ID; external verifiers
// use the CID directly.
func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ContentID, contentType interfaces.ContentType) ([]byte, error) {
	start := time.Now()

	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unavailable",
			slog.String("host", b.host),
			slog.String("port", b.port))
		return nil, interfaces.ErrBackendUnavailable
	}

	b.cidMu.RLock()
	cid, ok := b.cids[id]
	b.cidMu.RUnlock()
	if !ok {
		return nil, interfaces.ErrContentNotFound
	}

	reader, err := b.shell.Cat("/ipfs/" + cid)
	if err != nil {
		if strings.Contains(err.Error(), "no link named") {
			return nil, interfaces.ErrContentNotFound
		}
		return nil, fmt.Errorf("failed to fetch data from IPFS: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read data from IPFS: %w", err)
	}

	b.log.Debug("Fetched content from IPFS",
		slog.String("cid", cid),
		slog.Duration("duration", time.Since(start)))
	return data, nil
}

// Store adds data to IPFS and pins it.
func (b *IPFSBackend) Store(ctx context.Context, data []byte, contentType interfaces.ContentType) (interfaces.ContentID, error) {
	id := interfaces.ComputeID(data)

	if !b.shell.IsUp() {
		return id, interfaces.ErrBackendUnavailable
	}

	cid, err := b.shell.Add(bytes.NewReader(data), shell.Pin(true))
	if err != nil {
		return id, fmt.Errorf("failed to add data to IPFS: %w", err)
	}
	b.cidMu.Lock()
	b.cids[id] = cid
	b.cidMu.Unlock()

	b.log.Debug("Stored content in IPFS",
		slog.String("ipfs_cid", cid),
		slog.String("content_id", id.String()),
		slog.String("content_type", contentType.String()))
	return id, nil
}

// Available checks if the IPFS node is accessible.
func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

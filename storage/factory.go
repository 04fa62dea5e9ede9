package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/teerand/tee-randomness-backend/interfaces"
)

// Factory creates storage backends from URI strings and composes
// multi-backend configurations for redundant commitment storage.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a storage backend factory.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// StorageBackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - file:///path for the local file system
//   - ipfs://host:port for an IPFS node API
//   - s3://[access:secret@]bucket/prefix?region=..&endpoint=.. for S3 or compatible
func (f *Factory) StorageBackendFor(locationURI string) (interfaces.StorageBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return NewFileBackend(u.Host+u.Path, f.log)

	case "ipfs":
		port := u.Port()
		if port == "" {
			port = "5001"
		}
		return NewIPFSBackend(u.Hostname(), port, f.log)

	case "s3":
		var accessKey, secretKey string
		if u.User != nil {
			accessKey = u.User.Username()
			secretKey, _ = u.User.Password()
		}
		region := u.Query().Get("region")
		if region == "" {
			region = "us-east-1"
		}
		prefix := strings.Trim(u.Path, "/")
		return NewS3Backend(u.Host, prefix, region, u.Query().Get("endpoint"), accessKey, secretKey, f.log)

	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiBackend creates a multi-storage backend from a list of
// location URIs, skipping URIs that fail to parse (logged, not fatal) so
// one bad entry does not take down commitment publishing entirely.
func (f *Factory) CreateMultiBackend(locationURIs []string) (interfaces.StorageBackend, error) {
	backends := make([]interfaces.StorageBackend, 0, len(locationURIs))
	for _, uri := range locationURIs {
		backend, err := f.StorageBackendFor(uri)
		if err != nil {
			f.log.Warn("Skipping invalid storage backend URI",
				slog.String("uri", uri),
				"err", err)
			continue
		}
		backends = append(backends, backend)
	}

	if len(backends) == 0 {
		return nil, fmt.Errorf("no valid storage backends among %d URIs", len(locationURIs))
	}
	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMultiStorageBackend(backends, f.log), nil
}

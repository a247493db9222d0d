package storage

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/ruteri/world-registry/interfaces"
)

// StoreFor creates a protocol store from a location URI.
// The URI format is [scheme]://[auth@]host[:port][/path][?params]
//
// Supported schemes:
//   - memory:// - In-process store, lost on restart
//   - sqlite:///path/to/registry.db - Local SQLite database
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/prefix?region=us-east-1&endpoint=host
//   - ipfs://host:port/root?timeout=30s - IPFS node MFS
//   - dwn+http://host:port/path, dwn+https://... - Remote DWN JSON-RPC endpoint
//
// Stores holding resources implement io.Closer.
func StoreFor(ctx context.Context, locationURI string, log *slog.Logger) (interfaces.ProtocolStore, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidStoreURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "memory":
		return NewMemoryStore(log), nil
	case "sqlite":
		return createSQLiteStore(ctx, u, log)
	case "s3":
		return createS3Store(u, log)
	case "ipfs":
		return createIPFSStore(u, log)
	case "dwn+http", "dwn+https":
		return createDWNStore(u, log)
	default:
		return nil, fmt.Errorf("%w: unsupported store scheme %q", interfaces.ErrInvalidStoreURI, u.Scheme)
	}
}

// createSQLiteStore accepts sqlite:///absolute/path and sqlite://./relative/path.
func createSQLiteStore(ctx context.Context, u *url.URL, log *slog.Logger) (interfaces.ProtocolStore, error) {
	path := u.Host + u.Path
	if u.Opaque != "" {
		path = u.Opaque
	}
	if path == "" {
		return nil, fmt.Errorf("%w: sqlite URI has no path", interfaces.ErrInvalidStoreURI)
	}
	log.Debug("Creating SQLite store", slog.String("path", path))
	return OpenSQLiteStore(ctx, path, log)
}

func createS3Store(u *url.URL, log *slog.Logger) (interfaces.ProtocolStore, error) {
	query := u.Query()
	region := query.Get("region")
	if region == "" {
		region = "us-east-1"
	}

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	log.Debug("Creating S3 store", slog.String("bucket", u.Host), slog.String("region", region))
	return NewS3Store(u.Host, strings.TrimPrefix(u.Path, "/"), region, query.Get("endpoint"), accessKey, secretKey, log)
}

func createIPFSStore(u *url.URL, log *slog.Logger) (interfaces.ProtocolStore, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: ipfs URI has no host", interfaces.ErrInvalidStoreURI)
	}
	port := u.Port()
	if port == "" {
		port = "5001"
	}

	timeout := 30 * time.Second
	if t := u.Query().Get("timeout"); t != "" {
		parsed, err := time.ParseDuration(t)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid ipfs timeout %q", interfaces.ErrInvalidStoreURI, t)
		}
		timeout = parsed
	}

	root := strings.TrimSuffix(u.Path, "/")
	log.Debug("Creating IPFS store", slog.String("host", host), slog.String("port", port))
	return NewIPFSStore(host, port, root, timeout, log), nil
}

func createDWNStore(u *url.URL, log *slog.Logger) (interfaces.ProtocolStore, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: dwn URI has no host", interfaces.ErrInvalidStoreURI)
	}
	endpoint := *u
	endpoint.Scheme = strings.TrimPrefix(strings.ToLower(u.Scheme), "dwn+")

	log.Debug("Creating DWN store", slog.String("endpoint", endpoint.String()))
	return NewDWNStore(endpoint.String(), nil, log), nil
}

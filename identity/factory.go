package identity

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/world-registry/interfaces"
)

// RepositoryFor creates an identity repository from a location.
//
// Supported locations:
//   - "" - DefaultIdentityPath
//   - /path/to/identity.json or file:///path/to/identity.json - local file
//   - vault://host:8200/<mount>/<secret path>[?tls=false] - Vault KV v2 secret
//   - memory:// - process memory, lost on exit
func RepositoryFor(location string, log *slog.Logger) (interfaces.IdentityRepository, error) {
	if location == "" {
		return NewFileRepository(DefaultIdentityPath, log), nil
	}
	if !strings.Contains(location, "://") {
		return NewFileRepository(location, log), nil
	}

	u, err := url.Parse(location)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidStoreURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		path := u.Path
		if u.Host != "" {
			// file://relative/path
			path = u.Host + u.Path
		}
		if path == "" {
			return nil, fmt.Errorf("%w: empty file path", interfaces.ErrInvalidStoreURI)
		}
		return NewFileRepository(path, log), nil

	case "vault":
		scheme := "https"
		if u.Query().Get("tls") == "false" {
			scheme = "http"
		}
		mount, secret, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
		if u.Host == "" {
			return nil, fmt.Errorf("%w: vault host is required", interfaces.ErrInvalidStoreURI)
		}
		log.Debug("Creating Vault identity repository", slog.String("host", u.Host), slog.String("mount", mount))
		return NewVaultRepository(fmt.Sprintf("%s://%s", scheme, u.Host), mount, secret, log)

	case "memory":
		return NewMemoryRepository(), nil

	default:
		return nil, fmt.Errorf("%w: unsupported identity scheme %q", interfaces.ErrInvalidStoreURI, u.Scheme)
	}
}

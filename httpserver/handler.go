package httpserver

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/ruteri/world-registry/diddoc"
)

// DIDDocumentPath is the well-known did:web resolution path.
const DIDDocumentPath = "/.well-known/did.json"

// Handler serves the registry DID document.
//
// The document is marshalled once at construction and served as immutable bytes,
// so concurrent requests never observe a partially built document.
type Handler struct {
	document []byte
	etag     string
	did      string
	log      *slog.Logger
}

// NewHandler validates and marshals doc.
func NewHandler(doc *diddoc.Document, log *slog.Logger) (*Handler, error) {
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("refusing to serve invalid DID document: %w", err)
	}
	data, err := doc.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal DID document: %w", err)
	}

	sum := sha256.Sum256(data)
	return &Handler{
		document: data,
		etag:     `"` + hex.EncodeToString(sum[:16]) + `"`,
		did:      doc.ID,
		log:      log,
	}, nil
}

// HandleDIDDocument writes the DID document. Conditional requests matching
// the current ETag get 304 Not Modified.
func (h *Handler) HandleDIDDocument(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("ETag", h.etag)
	w.Header().Set("Cache-Control", "no-cache")

	if r.Header.Get("If-None-Match") == h.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(h.document); err != nil {
		h.log.Debug("Failed to write DID document", "did", h.did, "err", err)
	}
}

// DID returns the id of the served document.
func (h *Handler) DID() string {
	return h.did
}

package storage

import (
	"encoding/base64"
	"fmt"
	"sort"
	"time"

	"github.com/blang/semver/v4"
	"github.com/ruteri/world-registry/interfaces"
)

type entryKey struct {
	target   string
	protocol string
	version  string
}

func keyOf(target, protocol, version string) entryKey {
	return entryKey{target: target, protocol: protocol, version: version}
}

// validateQuery rejects queries no store can answer.
func validateQuery(query interfaces.ProtocolsQuery) error {
	if query.Target == "" {
		return fmt.Errorf("%w: query has no target", interfaces.ErrDefinitionRejected)
	}
	if query.Filter.Protocol == "" {
		return fmt.Errorf("%w: query filter has no protocol", interfaces.ErrDefinitionRejected)
	}
	if query.Authorization == "" {
		return fmt.Errorf("%w: query is not authorized", interfaces.ErrDefinitionRejected)
	}
	return nil
}

// validateConfigure applies the checks every store runs before accepting a definition.
func validateConfigure(msg interfaces.ProtocolsConfigure) error {
	if msg.Target == "" {
		return fmt.Errorf("%w: message has no target", interfaces.ErrDefinitionRejected)
	}
	if msg.Authorization == "" {
		return fmt.Errorf("%w: message is not authorized", interfaces.ErrDefinitionRejected)
	}
	if _, err := semver.Parse(msg.Version); err != nil {
		return fmt.Errorf("%w: invalid protocol version %q: %v", interfaces.ErrDefinitionRejected, msg.Version, err)
	}
	if err := msg.Definition.Validate(); err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrDefinitionRejected, err)
	}
	return nil
}

func newEntry(msg interfaces.ProtocolsConfigure, created time.Time) interfaces.ProtocolEntry {
	return interfaces.ProtocolEntry{
		Target:        msg.Target,
		Protocol:      msg.Definition.Protocol,
		Version:       msg.Version,
		Definition:    msg.Definition,
		Authorization: msg.Authorization,
		DateCreated:   created.UTC(),
	}
}

// sortEntries orders entries by protocol, then by semantic version.
func sortEntries(entries []interfaces.ProtocolEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Protocol != entries[j].Protocol {
			return entries[i].Protocol < entries[j].Protocol
		}
		vi, errI := semver.Parse(entries[i].Version)
		vj, errJ := semver.Parse(entries[j].Version)
		if errI != nil || errJ != nil {
			return entries[i].Version < entries[j].Version
		}
		return vi.LT(vj)
	})
}

// segment encodes an identifier as a single path segment for object and file stores.
func segment(s string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(s))
}

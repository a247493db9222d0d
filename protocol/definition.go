// Package protocol registers the world registry protocol definition with the backing store.
package protocol

import (
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/blang/semver/v4"
	"github.com/ruteri/world-registry/interfaces"
)

//go:embed schema/world-registry.json
var worldRegistrySchema []byte

// Version is the protocol version registered by this build.
const Version = "0.0.1"

// WorldRegistrySchema returns the embedded schema resource.
func WorldRegistrySchema() []byte {
	return append([]byte(nil), worldRegistrySchema...)
}

// ParseVersion parses a protocol version token.
func ParseVersion(token string) (semver.Version, error) {
	v, err := semver.Parse(token)
	if err != nil {
		return semver.Version{}, fmt.Errorf("%w: invalid protocol version %q: %v", interfaces.ErrSchemaParse, token, err)
	}
	return v, nil
}

// ParseDefinition parses a schema resource into a protocol definition.
//
// The resource must carry a string "protocol" and "structure" and "types"
// objects. Definitions are always registered as published.
func ParseDefinition(data []byte) (interfaces.ProtocolDefinition, error) {
	var raw struct {
		Protocol  *string                   `json:"protocol"`
		Structure map[string]json.RawMessage `json:"structure"`
		Types     map[string]json.RawMessage `json:"types"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return interfaces.ProtocolDefinition{}, fmt.Errorf("%w: %v", interfaces.ErrSchemaParse, err)
	}
	if raw.Protocol == nil || *raw.Protocol == "" {
		return interfaces.ProtocolDefinition{}, fmt.Errorf("%w: missing \"protocol\"", interfaces.ErrSchemaParse)
	}
	if raw.Structure == nil {
		return interfaces.ProtocolDefinition{}, fmt.Errorf("%w: missing \"structure\" object", interfaces.ErrSchemaParse)
	}
	if raw.Types == nil {
		return interfaces.ProtocolDefinition{}, fmt.Errorf("%w: missing \"types\" object", interfaces.ErrSchemaParse)
	}

	def := interfaces.ProtocolDefinition{
		Protocol:  *raw.Protocol,
		Published: true,
		Structure: make(map[string]interfaces.StructureEntry, len(raw.Structure)),
		Types:     make(map[string]interfaces.TypeEntry, len(raw.Types)),
	}

	for name, value := range raw.Structure {
		var entry interfaces.StructureEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return interfaces.ProtocolDefinition{}, fmt.Errorf("%w: structure %q: %v", interfaces.ErrSchemaParse, name, err)
		}
		def.Structure[name] = entry
	}

	for name, value := range raw.Types {
		var entry interfaces.TypeEntry
		if err := json.Unmarshal(value, &entry); err != nil {
			return interfaces.ProtocolDefinition{}, fmt.Errorf("%w: type %q: %v", interfaces.ErrSchemaParse, name, err)
		}
		def.Types[name] = entry
	}

	if err := def.Validate(); err != nil {
		return interfaces.ProtocolDefinition{}, fmt.Errorf("%w: %v", interfaces.ErrSchemaParse, err)
	}

	return def, nil
}

// WorldRegistry returns the embedded definition and the version it is registered at.
func WorldRegistry() (interfaces.ProtocolDefinition, semver.Version, error) {
	def, err := ParseDefinition(worldRegistrySchema)
	if err != nil {
		return interfaces.ProtocolDefinition{}, semver.Version{}, err
	}
	version, err := ParseVersion(Version)
	if err != nil {
		return interfaces.ProtocolDefinition{}, semver.Version{}, err
	}
	return def, version, nil
}

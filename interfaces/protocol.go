package interfaces

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ActionRule grants an action on a record path to a class of actors.
type ActionRule struct {
	Who  string `json:"who,omitempty"`
	Of   string `json:"of,omitempty"`
	Role string `json:"role,omitempty"`
	Can  string `json:"can"`
}

// TypeEntry declares a record type usable in a protocol structure.
type TypeEntry struct {
	Schema      string   `json:"schema,omitempty"`
	DataFormats []string `json:"dataFormats,omitempty"`
}

// StructureEntry is a node of the protocol rule-set tree.
//
// Keys prefixed with "$" are directives. "$actions" is decoded into Actions,
// other directives are kept verbatim. All remaining keys are child nodes.
type StructureEntry struct {
	Actions    []ActionRule
	Directives map[string]json.RawMessage
	Children   map[string]StructureEntry
}

const actionsDirective = "$actions"

func (e *StructureEntry) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return errors.New("structure entry must be an object")
	}

	*e = StructureEntry{}
	for key, value := range raw {
		switch {
		case key == actionsDirective:
			if err := json.Unmarshal(value, &e.Actions); err != nil {
				return fmt.Errorf("%s: %w", actionsDirective, err)
			}
		case strings.HasPrefix(key, "$"):
			if e.Directives == nil {
				e.Directives = make(map[string]json.RawMessage)
			}
			e.Directives[key] = value
		default:
			var child StructureEntry
			if err := json.Unmarshal(value, &child); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			if e.Children == nil {
				e.Children = make(map[string]StructureEntry)
			}
			e.Children[key] = child
		}
	}
	return nil
}

func (e StructureEntry) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(e.Directives)+len(e.Children)+1)
	if len(e.Actions) > 0 {
		out[actionsDirective] = e.Actions
	}
	for key, value := range e.Directives {
		out[key] = value
	}
	for key, child := range e.Children {
		out[key] = child
	}
	// encoding/json sorts map keys, keeping the output deterministic
	return json.Marshal(out)
}

// ProtocolDefinition describes the structure and types permitted under a protocol.
type ProtocolDefinition struct {
	Protocol  string                    `json:"protocol"`
	Published bool                      `json:"published"`
	Structure map[string]StructureEntry `json:"structure"`
	Types     map[string]TypeEntry      `json:"types"`
}

// Validate checks the definition the way a store validates it before accepting a write.
func (d *ProtocolDefinition) Validate() error {
	if d.Protocol == "" {
		return errors.New("missing protocol identifier")
	}
	if len(d.Structure) == 0 {
		return errors.New("empty structure")
	}
	for name, entry := range d.Types {
		for _, format := range entry.DataFormats {
			if format == "" {
				return fmt.Errorf("type %q: empty data format", name)
			}
		}
	}
	return validateStructure(d.Types, d.Structure, "")
}

func validateStructure(types map[string]TypeEntry, nodes map[string]StructureEntry, parent string) error {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := name
		if parent != "" {
			path = parent + "/" + name
		}
		if _, ok := types[name]; !ok {
			return fmt.Errorf("structure %q references undeclared type", path)
		}
		node := nodes[name]
		for i, action := range node.Actions {
			if action.Can == "" {
				return fmt.Errorf("structure %q: action %d has no 'can'", path, i)
			}
			if action.Who == "" && action.Role == "" {
				return fmt.Errorf("structure %q: action %d needs 'who' or 'role'", path, i)
			}
		}
		if err := validateStructure(types, node.Children, path); err != nil {
			return err
		}
	}
	return nil
}

// Canonical returns the deterministic JSON encoding of the definition.
func (d *ProtocolDefinition) Canonical() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// ProtocolsFilter selects stored definitions by protocol and version.
// An empty Versions list matches every version.
type ProtocolsFilter struct {
	Protocol string   `json:"protocol"`
	Versions []string `json:"versions,omitempty"`
}

// Matches reports whether a stored (protocol, version) pair is selected.
func (f ProtocolsFilter) Matches(protocol, version string) bool {
	if f.Protocol != protocol {
		return false
	}
	if len(f.Versions) == 0 {
		return true
	}
	for _, v := range f.Versions {
		if v == version {
			return true
		}
	}
	return false
}

// MessageDescriptor is the signed part of a store message.
type MessageDescriptor struct {
	Interface        string              `json:"interface"`
	Method           string              `json:"method"`
	Filter           *ProtocolsFilter    `json:"filter,omitempty"`
	Definition       *ProtocolDefinition `json:"definition,omitempty"`
	ProtocolVersion  string              `json:"protocolVersion,omitempty"`
	MessageTimestamp string              `json:"messageTimestamp"`
}

const (
	ProtocolsInterface = "Protocols"
	MethodQuery        = "Query"
	MethodConfigure    = "Configure"
)

// TimestampFormat is the layout of message timestamps.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// ProtocolsQuery asks a store for definitions held for a target DID.
type ProtocolsQuery struct {
	Target        string          `json:"target"`
	Filter        ProtocolsFilter `json:"filter"`
	Authorization string          `json:"authorization,omitempty"`
	Timestamp     time.Time       `json:"messageTimestamp"`
}

// Descriptor returns the descriptor covered by the query authorization.
func (q *ProtocolsQuery) Descriptor() MessageDescriptor {
	filter := q.Filter
	return MessageDescriptor{
		Interface:        ProtocolsInterface,
		Method:           MethodQuery,
		Filter:           &filter,
		MessageTimestamp: q.Timestamp.UTC().Format(TimestampFormat),
	}
}

// ProtocolsConfigure registers a definition at a version for a target DID.
type ProtocolsConfigure struct {
	Target        string             `json:"target"`
	Definition    ProtocolDefinition `json:"definition"`
	Version       string             `json:"protocolVersion"`
	Authorization string             `json:"authorization,omitempty"`
	Timestamp     time.Time          `json:"messageTimestamp"`
}

// Descriptor returns the descriptor covered by the configure authorization.
func (m *ProtocolsConfigure) Descriptor() MessageDescriptor {
	definition := m.Definition
	return MessageDescriptor{
		Interface:        ProtocolsInterface,
		Method:           MethodConfigure,
		Definition:       &definition,
		ProtocolVersion:  m.Version,
		MessageTimestamp: m.Timestamp.UTC().Format(TimestampFormat),
	}
}

// ProtocolEntry is a definition as held by a store.
type ProtocolEntry struct {
	Target        string             `json:"target"`
	Protocol      string             `json:"protocol"`
	Version       string             `json:"version"`
	Definition    ProtocolDefinition `json:"definition"`
	Authorization string             `json:"authorization,omitempty"`
	DateCreated   time.Time          `json:"dateCreated"`
}

// ProtocolStore is the boundary of the backing decentralized data store.
//
// Stores are responsible for their own concurrency control. Implementations
// that can enforce (target, protocol, version) uniqueness report a duplicate
// write as ErrProtocolExists. Transient failures wrap ErrStoreUnavailable,
// definitions the store refuses wrap ErrDefinitionRejected.
type ProtocolStore interface {
	QueryProtocols(ctx context.Context, query ProtocolsQuery) ([]ProtocolEntry, error)
	RegisterProtocol(ctx context.Context, msg ProtocolsConfigure) error
	Name() string
}

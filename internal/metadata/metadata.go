// Package metadata normalizes chain runtime metadata into module and storage
// descriptors.
package metadata

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrUnsupportedVersion is returned for metadata versions other than 11 and 12.
	ErrUnsupportedVersion = errors.New("unsupported metadata version")
	// ErrUnknownField is returned when a storage item cannot be found by API name.
	ErrUnknownField = errors.New("unknown field")
	// ErrUnknownModule is returned when a module cannot be found by name.
	ErrUnknownModule = errors.New("unknown module")
)

// Structure is the storage layout of an item.
type Structure string

const (
	Plain     Structure = "Plain"
	Map       Structure = "Map"
	DoubleMap Structure = "DoubleMap"
)

// Modifier decides what a missing storage value reads as.
type Modifier string

const (
	Optional Modifier = "Optional"
	Default  Modifier = "Default"
)

// Hasher is the key hashing algorithm of a map item.
type Hasher string

const (
	Blake2_128       Hasher = "Blake2_128"
	Blake2_256       Hasher = "Blake2_256"
	Blake2_128Concat Hasher = "Blake2_128Concat"
	Twox128          Hasher = "Twox128"
	Twox256          Hasher = "Twox256"
	Twox64Concat     Hasher = "Twox64Concat"
	Identity         Hasher = "Identity"
)

var hashers = []Hasher{Blake2_128, Blake2_256, Blake2_128Concat, Twox128, Twox256, Twox64Concat, Identity}

// HexBytes renders as a 0x prefixed string in snapshots.
type HexBytes []byte

func (h HexBytes) MarshalYAML() (any, error) { return "0x" + hex.EncodeToString(h), nil }

func (h *HexBytes) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return err
	}
	*h = b
	return nil
}

// StorageDescriptor describes one storage item. MapKeyType is set only for
// Map items; Key1Type and Key2Type only for DoubleMap items.
type StorageDescriptor struct {
	Name       string    `yaml:"name"`
	APIName    string    `yaml:"apiName"`
	Structure  Structure `yaml:"structure"`
	InnerType  string    `yaml:"innerType"`
	MapKeyType string    `yaml:"mapKeyType,omitempty"`
	Key1Type   string    `yaml:"key1Type,omitempty"`
	Key2Type   string    `yaml:"key2Type,omitempty"`
	Hasher     Hasher    `yaml:"hasher,omitempty"`
	Key2Hasher Hasher    `yaml:"key2Hasher,omitempty"`
	Modifier   Modifier  `yaml:"modifier"`
	Default    HexBytes  `yaml:"default"`
	Docs       []string  `yaml:"docs,omitempty"`
}

// Call is a dispatchable function.
type Call struct {
	Name string `yaml:"name"`
	Args []Arg  `yaml:"args,omitempty"`
}

// Arg is a named call argument.
type Arg struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// Event is a deposited event.
type Event struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args,omitempty"`
}

// Constant is a module constant with its encoded value.
type Constant struct {
	Name  string   `yaml:"name"`
	Type  string   `yaml:"type"`
	Value HexBytes `yaml:"value"`
}

// ModuleDescriptor describes one runtime module. Storage keeps metadata order.
type ModuleDescriptor struct {
	Name      string               `yaml:"name"`
	Index     int                  `yaml:"index"`
	Prefix    string               `yaml:"prefix,omitempty"`
	Storage   []*StorageDescriptor `yaml:"storage,omitempty"`
	Calls     []Call               `yaml:"calls,omitempty"`
	Events    []Event              `yaml:"events,omitempty"`
	Constants []Constant           `yaml:"constants,omitempty"`
	Errors    []string             `yaml:"errors,omitempty"`
}

// APIName is the lower camel name used in the schema and by guest modules.
func (m *ModuleDescriptor) APIName() string { return lowerFirst(m.Name) }

// StorageByAPIName returns the item whose API name is apiName.
func (m *ModuleDescriptor) StorageByAPIName(apiName string) (*StorageDescriptor, error) {
	for _, s := range m.Storage {
		if s.APIName == apiName {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: APIName %s not found in %s", ErrUnknownField, apiName, m.Name)
}

// PlainStorage returns the Plain items in metadata order.
func (m *ModuleDescriptor) PlainStorage() []*StorageDescriptor {
	var out []*StorageDescriptor
	for _, s := range m.Storage {
		if s.Structure == Plain {
			out = append(out, s)
		}
	}
	return out
}

// Extrinsic describes the transaction format.
type Extrinsic struct {
	Version          int      `yaml:"version"`
	SignedExtensions []string `yaml:"signedExtensions,omitempty"`
}

// Metadata is the normalized runtime metadata.
type Metadata struct {
	Version   int                 `yaml:"version"`
	Modules   []*ModuleDescriptor `yaml:"modules"`
	Extrinsic Extrinsic           `yaml:"extrinsic"`
}

// Module finds a module by on-chain name or API name.
func (md *Metadata) Module(name string) (*ModuleDescriptor, error) {
	for _, m := range md.Modules {
		if m.Name == name || m.APIName() == name {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownModule, name)
}

// Queryable returns the modules that have storage and are not blacklisted.
// Blacklist entries match either the on-chain or the API name.
func (md *Metadata) Queryable(blacklist []string) []*ModuleDescriptor {
	skip := make(map[string]struct{}, len(blacklist))
	for _, b := range blacklist {
		skip[lowerFirst(b)] = struct{}{}
	}
	var out []*ModuleDescriptor
	for _, m := range md.Modules {
		if len(m.Storage) == 0 {
			continue
		}
		if _, ok := skip[m.APIName()]; ok {
			continue
		}
		out = append(out, m)
	}
	return out
}

// DefaultBlacklist lists consensus plumbing modules that are not useful to
// query.
var DefaultBlacklist = []string{
	"babe",
	"grandpa",
	"authorship",
	"imOnline",
	"authorityDiscovery",
	"offences",
	"randomnessCollectiveFlip",
	"finalityTracker",
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

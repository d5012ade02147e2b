package metadata

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadSnapshot reads metadata previously written by WriteSnapshot. It lets
// schemas be compiled without a live node.
func LoadSnapshot(path string) (*Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSnapshot(f)
}

// ReadSnapshot decodes a YAML snapshot.
func ReadSnapshot(r io.Reader) (*Metadata, error) {
	var md Metadata
	if err := yaml.NewDecoder(r).Decode(&md); err != nil {
		return nil, fmt.Errorf("metadata snapshot: %w", err)
	}
	if md.Version != 11 && md.Version != 12 {
		return nil, fmt.Errorf("%w: V%d", ErrUnsupportedVersion, md.Version)
	}
	for _, m := range md.Modules {
		for _, s := range m.Storage {
			if s.APIName == "" {
				s.APIName = lowerFirst(s.Name)
			}
		}
	}
	return &md, nil
}

// WriteSnapshot writes md as YAML.
func (md *Metadata) WriteSnapshot(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(md); err != nil {
		return err
	}
	return enc.Close()
}

package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/hanpama/chaingraph/internal/codec"
)

const magic = 0x6174656d // "meta"

// Decode decodes SCALE encoded RuntimeMetadataPrefixed. Versions 11 and 12
// are supported; anything else returns ErrUnsupportedVersion.
func Decode(raw []byte) (*Metadata, error) {
	r := codec.NewReader(raw)
	head, err := r.Raw(4)
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if binary.LittleEndian.Uint32(head) != magic {
		return nil, fmt.Errorf("metadata: bad magic %x", head)
	}
	version, err := r.U8()
	if err != nil {
		return nil, fmt.Errorf("metadata: %w", err)
	}
	if version != 11 && version != 12 {
		return nil, fmt.Errorf("%w: V%d", ErrUnsupportedVersion, version)
	}

	md := &Metadata{Version: int(version)}
	n, err := r.Length()
	if err != nil {
		return nil, fmt.Errorf("metadata modules: %w", err)
	}
	for i := 0; i < n; i++ {
		m, err := decodeModule(r, int(version), i)
		if err != nil {
			return nil, fmt.Errorf("metadata module %d: %w", i, err)
		}
		md.Modules = append(md.Modules, m)
	}
	if md.Extrinsic, err = decodeExtrinsic(r); err != nil {
		return nil, fmt.Errorf("metadata extrinsic: %w", err)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("metadata: %d trailing bytes", r.Remaining())
	}
	return md, nil
}

func decodeModule(r *codec.Reader, version, position int) (*ModuleDescriptor, error) {
	m := &ModuleDescriptor{Index: position}
	var err error
	if m.Name, err = r.Text(); err != nil {
		return nil, err
	}

	if ok, err := r.Option(); err != nil {
		return nil, err
	} else if ok {
		if m.Prefix, err = r.Text(); err != nil {
			return nil, err
		}
		n, err := r.Length()
		if err != nil {
			return nil, err
		}
		seen := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			s, err := decodeStorageEntry(r)
			if err != nil {
				return nil, fmt.Errorf("%s storage %d: %w", m.Name, i, err)
			}
			if _, dup := seen[s.APIName]; dup {
				return nil, fmt.Errorf("%s: duplicate storage api name %s", m.Name, s.APIName)
			}
			seen[s.APIName] = struct{}{}
			m.Storage = append(m.Storage, s)
		}
	}

	if ok, err := r.Option(); err != nil {
		return nil, err
	} else if ok {
		if m.Calls, err = decodeCalls(r); err != nil {
			return nil, fmt.Errorf("%s calls: %w", m.Name, err)
		}
	}

	if ok, err := r.Option(); err != nil {
		return nil, err
	} else if ok {
		if m.Events, err = decodeEvents(r); err != nil {
			return nil, fmt.Errorf("%s events: %w", m.Name, err)
		}
	}

	if m.Constants, err = decodeConstants(r); err != nil {
		return nil, fmt.Errorf("%s constants: %w", m.Name, err)
	}
	if m.Errors, err = decodeErrors(r); err != nil {
		return nil, fmt.Errorf("%s errors: %w", m.Name, err)
	}
	if version >= 12 {
		idx, err := r.U8()
		if err != nil {
			return nil, err
		}
		m.Index = int(idx)
	}
	return m, nil
}

func decodeHasher(r *codec.Reader) (Hasher, error) {
	b, err := r.U8()
	if err != nil {
		return "", err
	}
	if int(b) >= len(hashers) {
		return "", fmt.Errorf("unknown hasher %d", b)
	}
	return hashers[b], nil
}

func decodeStorageEntry(r *codec.Reader) (*StorageDescriptor, error) {
	s := &StorageDescriptor{}
	var err error
	if s.Name, err = r.Text(); err != nil {
		return nil, err
	}
	s.APIName = lowerFirst(s.Name)

	mod, err := r.U8()
	if err != nil {
		return nil, err
	}
	switch mod {
	case 0:
		s.Modifier = Optional
	case 1:
		s.Modifier = Default
	default:
		return nil, fmt.Errorf("%s: unknown modifier %d", s.Name, mod)
	}

	kind, err := r.U8()
	if err != nil {
		return nil, err
	}
	switch kind {
	case 0:
		s.Structure = Plain
		if s.InnerType, err = r.Text(); err != nil {
			return nil, err
		}
	case 1:
		s.Structure = Map
		if s.Hasher, err = decodeHasher(r); err != nil {
			return nil, err
		}
		if s.MapKeyType, err = r.Text(); err != nil {
			return nil, err
		}
		if s.InnerType, err = r.Text(); err != nil {
			return nil, err
		}
		if _, err = r.Bool(); err != nil {
			return nil, err
		}
	case 2:
		s.Structure = DoubleMap
		if s.Hasher, err = decodeHasher(r); err != nil {
			return nil, err
		}
		if s.Key1Type, err = r.Text(); err != nil {
			return nil, err
		}
		if s.Key2Type, err = r.Text(); err != nil {
			return nil, err
		}
		if s.InnerType, err = r.Text(); err != nil {
			return nil, err
		}
		if s.Key2Hasher, err = decodeHasher(r); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%s: unknown storage entry type %d", s.Name, kind)
	}

	if s.Default, err = r.Bytes(); err != nil {
		return nil, err
	}
	if s.Docs, err = r.Texts(); err != nil {
		return nil, err
	}
	return s, nil
}

func decodeCalls(r *codec.Reader) ([]Call, error) {
	n, err := r.Length()
	if err != nil {
		return nil, err
	}
	out := make([]Call, 0, n)
	for i := 0; i < n; i++ {
		var c Call
		if c.Name, err = r.Text(); err != nil {
			return nil, err
		}
		argc, err := r.Length()
		if err != nil {
			return nil, err
		}
		for j := 0; j < argc; j++ {
			var a Arg
			if a.Name, err = r.Text(); err != nil {
				return nil, err
			}
			if a.Type, err = r.Text(); err != nil {
				return nil, err
			}
			c.Args = append(c.Args, a)
		}
		if _, err = r.Texts(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeEvents(r *codec.Reader) ([]Event, error) {
	n, err := r.Length()
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		var e Event
		if e.Name, err = r.Text(); err != nil {
			return nil, err
		}
		if e.Args, err = r.Texts(); err != nil {
			return nil, err
		}
		if _, err = r.Texts(); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func decodeConstants(r *codec.Reader) ([]Constant, error) {
	n, err := r.Length()
	if err != nil {
		return nil, err
	}
	out := make([]Constant, 0, n)
	for i := 0; i < n; i++ {
		var c Constant
		if c.Name, err = r.Text(); err != nil {
			return nil, err
		}
		if c.Type, err = r.Text(); err != nil {
			return nil, err
		}
		if c.Value, err = r.Bytes(); err != nil {
			return nil, err
		}
		if _, err = r.Texts(); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func decodeErrors(r *codec.Reader) ([]string, error) {
	n, err := r.Length()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name, err := r.Text()
		if err != nil {
			return nil, err
		}
		if _, err = r.Texts(); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, nil
}

func decodeExtrinsic(r *codec.Reader) (Extrinsic, error) {
	var x Extrinsic
	v, err := r.U8()
	if err != nil {
		return x, err
	}
	x.Version = int(v)
	if x.SignedExtensions, err = r.Texts(); err != nil {
		return x, err
	}
	return x, nil
}

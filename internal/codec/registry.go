package codec

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrUnknownType is returned when a type name cannot be resolved.
var ErrUnknownType = errors.New("unknown type")

// Registry maps type names to definitions. Composite type strings are parsed
// and cached on first resolution. A Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	defs    map[string]*TypeDef
	aliases map[string]string
}

// NewRegistry returns a registry holding the primitive types and the common
// runtime aliases.
func NewRegistry() *Registry {
	r := &Registry{
		defs:    make(map[string]*TypeDef),
		aliases: make(map[string]string),
	}
	r.Register(&TypeDef{Name: "bool", Kind: KindBool})
	for _, bits := range []int{8, 16, 32, 64, 128, 256} {
		r.Register(&TypeDef{Name: fmt.Sprintf("u%d", bits), Kind: KindUint, Bits: bits})
		r.Register(&TypeDef{Name: fmt.Sprintf("i%d", bits), Kind: KindInt, Bits: bits})
	}
	r.Register(&TypeDef{Name: "Text", Kind: KindText})
	r.Register(&TypeDef{Name: "Bytes", Kind: KindBytes})
	r.Register(&TypeDef{Name: "AccountId", Kind: KindAccountID, Size: 32})
	r.Register(&TypeDef{Name: "H160", Kind: KindHash, Size: 20})
	r.Register(&TypeDef{Name: "H256", Kind: KindHash, Size: 32})
	r.Register(&TypeDef{Name: "H512", Kind: KindHash, Size: 64})
	r.Register(&TypeDef{Name: "Null", Kind: KindNull})
	r.Register(&TypeDef{Name: "Moment", Kind: KindMoment, Bits: 64})

	for name, target := range map[string]string{
		"String":          "Text",
		"Str":             "Text",
		"Hash":            "H256",
		"BlockHash":       "H256",
		"Address":         "AccountId",
		"LookupSource":    "AccountId",
		"ValidatorId":     "AccountId",
		"SessionKey":      "AccountId",
		"Balance":         "u128",
		"BalanceOf":       "Balance",
		"BlockNumber":     "u32",
		"Index":           "u32",
		"AccountIndex":    "u32",
		"Nonce":           "u64",
		"Weight":          "u64",
		"Perbill":         "u32",
		"Permill":         "u32",
		"Percent":         "u8",
		"PropIndex":       "u32",
		"ReferendumIndex": "u32",
		"SessionIndex":    "u32",
		"EraIndex":        "u32",
		"AuthorityWeight": "u64",
		"LockIdentifier":  "[u8; 8]",
	} {
		r.Alias(name, target)
	}
	return r
}

// Register adds or replaces a definition under def.Name.
func (r *Registry) Register(def *TypeDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[def.Name] = def
	delete(r.aliases, def.Name)
}

// Alias makes name resolve to whatever target resolves to.
func (r *Registry) Alias(name, target string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aliases[name] = target
	delete(r.defs, name)
}

// Has reports whether name is registered directly or as an alias.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.defs[name]; ok {
		return true
	}
	_, ok := r.aliases[name]
	return ok
}

// Resolve returns the definition for a type name or type string.
func (r *Registry) Resolve(name string) (*TypeDef, error) {
	return r.resolve(strings.TrimSpace(name), 0)
}

const maxAliasDepth = 32

func (r *Registry) resolve(name string, depth int) (*TypeDef, error) {
	if depth > maxAliasDepth {
		return nil, fmt.Errorf("%w: alias cycle at %s", ErrUnknownType, name)
	}
	r.mu.RLock()
	def, ok := r.defs[name]
	target, aliased := r.aliases[name]
	r.mu.RUnlock()
	if ok {
		return def, nil
	}
	if aliased {
		return r.resolve(target, depth+1)
	}

	expr, err := parseTypeString(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownType, err)
	}
	canonical := expr.String()
	if canonical != name {
		return r.resolve(canonical, depth+1)
	}
	def, err = r.fromExpr(expr)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.defs[def.Name] = def
	r.mu.Unlock()
	return def, nil
}

func (r *Registry) fromExpr(e *typeExpr) (*TypeDef, error) {
	name := e.String()
	switch {
	case e.tuple:
		if len(e.args) == 0 {
			return &TypeDef{Name: name, Kind: KindNull}, nil
		}
		def := &TypeDef{Name: name, Kind: KindTuple}
		for _, a := range e.args {
			def.Members = append(def.Members, Member{Type: a.String()})
		}
		return def, nil
	case e.fixed:
		return &TypeDef{Name: name, Kind: KindFixed, Size: e.length, Elem: e.args[0].String()}, nil
	case len(e.args) == 0:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
	}

	elem := e.args[0].String()
	switch e.name {
	case "Vec", "VecDeque", "BTreeSet":
		if elem == "u8" {
			return &TypeDef{Name: name, Kind: KindBytes}, nil
		}
		return &TypeDef{Name: name, Kind: KindVec, Elem: elem}, nil
	case "BTreeMap", "HashMap":
		if len(e.args) != 2 {
			return nil, fmt.Errorf("%w: %s needs two parameters", ErrUnknownType, name)
		}
		pair := (&typeExpr{tuple: true, args: e.args}).String()
		return &TypeDef{Name: name, Kind: KindVec, Elem: pair}, nil
	case "Option":
		return &TypeDef{Name: name, Kind: KindOption, Elem: elem}, nil
	case "Compact":
		return &TypeDef{Name: name, Kind: KindCompact, Elem: elem}, nil
	case "Box":
		inner, err := r.Resolve(elem)
		if err != nil {
			return nil, err
		}
		return inner, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, name)
}

package bridge

import (
	"fmt"
	"strings"
)

// ResolversPrefix is the export name prefix of resolver handles.
const ResolversPrefix = "resolvers."

// Resolver describes one leaf resolver exported by the guest.
type Resolver struct {
	Path          []string
	ReturnTypeSDL string
	Filters       []string
}

// Namespace is a node of the guest resolver tree. A node is either a leaf
// holding a Resolver or a grouping of named children.
type Namespace struct {
	name     string
	resolver *Resolver
	names    []string
	children map[string]*Namespace
}

func newNamespace(name string) *Namespace {
	return &Namespace{name: name, children: map[string]*Namespace{}}
}

// Name is the segment name of the node; the root has an empty name.
func (n *Namespace) Name() string { return n.name }

// Resolver returns the leaf resolver, or nil for a grouping node.
func (n *Namespace) Resolver() *Resolver { return n.resolver }

// Names returns child names in guest export order.
func (n *Namespace) Names() []string { return n.names }

// Child returns the named child or nil.
func (n *Namespace) Child(name string) *Namespace { return n.children[name] }

func (n *Namespace) child(name string) *Namespace {
	c, ok := n.children[name]
	if !ok {
		c = newNamespace(name)
		n.children[name] = c
		n.names = append(n.names, name)
	}
	return c
}

// NewNamespace builds a tree from resolvers in the given order.
func NewNamespace(resolvers ...*Resolver) (*Namespace, error) {
	root := newNamespace("")
	for _, r := range resolvers {
		if err := root.insert(r); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// insert places r at its path. A leaf cannot also be a grouping node.
func (n *Namespace) insert(r *Resolver) error {
	if len(r.Path) == 0 {
		return fmt.Errorf("resolver has an empty path")
	}
	node := n
	for _, seg := range r.Path {
		if node.resolver != nil {
			return fmt.Errorf("resolver %s is nested under another resolver", strings.Join(r.Path, "."))
		}
		node = node.child(seg)
	}
	if node.resolver != nil || len(node.names) > 0 {
		return fmt.Errorf("resolver %s collides with another export", strings.Join(r.Path, "."))
	}
	node.resolver = r
	return nil
}

// Lookup walks path from n.
func (n *Namespace) Lookup(path []string) (*Resolver, bool) {
	cur := n
	for _, seg := range path {
		if cur = cur.children[seg]; cur == nil {
			return nil, false
		}
	}
	return cur.resolver, cur.resolver != nil
}

// Leaves returns every resolver below n, depth first in export order.
func (n *Namespace) Leaves() []*Resolver {
	var out []*Resolver
	var walk func(*Namespace)
	walk = func(x *Namespace) {
		if x.resolver != nil {
			out = append(out, x.resolver)
		}
		for _, name := range x.names {
			walk(x.children[name])
		}
	}
	walk(n)
	return out
}

// splitResolverExport returns the path of a resolver export name.
func splitResolverExport(name string) ([]string, bool) {
	rest, ok := strings.CutPrefix(name, ResolversPrefix)
	if !ok || rest == "" {
		return nil, false
	}
	return strings.Split(rest, "."), true
}

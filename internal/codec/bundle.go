package codec

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadBundleFile reads custom type definitions from a YAML or JSON file.
func (r *Registry) LoadBundleFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := r.LoadBundle(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// LoadBundle reads custom type definitions in the shape used by chain type
// bundles:
//
//	CategoryId: u64
//	Category:
//	  id: CategoryId
//	  title: Text
//	Status:
//	  _enum: [Active, Archived]
//	Reason:
//	  _enum:
//	    Slashed: Balance
//	    Left: Null
//
// A string value is an alias, a mapping is a struct whose members keep the file
// order, and `_enum` declares an enum from a list or a variant mapping.
func (r *Registry) LoadBundle(in io.Reader) error {
	var doc yaml.Node
	if err := yaml.NewDecoder(in).Decode(&doc); err != nil {
		if err == io.EOF {
			return nil
		}
		return err
	}
	if len(doc.Content) == 0 {
		return nil
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("type bundle: expected mapping at line %d", root.Line)
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		if err := r.loadDefinition(name, root.Content[i+1]); err != nil {
			return fmt.Errorf("type %s: %w", name, err)
		}
	}
	return nil
}

func (r *Registry) loadDefinition(name string, node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		r.Alias(name, node.Value)
		return nil
	case yaml.MappingNode:
		if len(node.Content) == 2 && node.Content[0].Value == "_enum" {
			def, err := enumFromNode(name, node.Content[1])
			if err != nil {
				return err
			}
			r.Register(def)
			return nil
		}
		def := &TypeDef{Name: name, Kind: KindStruct}
		for i := 0; i+1 < len(node.Content); i += 2 {
			member := node.Content[i+1]
			if member.Kind != yaml.ScalarNode {
				return fmt.Errorf("member %s: nested definitions are not supported (line %d)", node.Content[i].Value, member.Line)
			}
			def.Members = append(def.Members, Member{Name: node.Content[i].Value, Type: member.Value})
		}
		r.Register(def)
		return nil
	}
	return fmt.Errorf("unsupported definition at line %d", node.Line)
}

func enumFromNode(name string, node *yaml.Node) (*TypeDef, error) {
	def := &TypeDef{Name: name, Kind: KindEnum}
	switch node.Kind {
	case yaml.SequenceNode:
		for _, v := range node.Content {
			def.Members = append(def.Members, Member{Name: v.Value, Type: "Null"})
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			typ := node.Content[i+1].Value
			if typ == "" {
				typ = "Null"
			}
			def.Members = append(def.Members, Member{Name: node.Content[i].Value, Type: typ})
		}
	default:
		return nil, fmt.Errorf("_enum must be a list or a mapping (line %d)", node.Line)
	}
	if len(def.Members) == 0 {
		return nil, fmt.Errorf("_enum has no variants")
	}
	return def, nil
}

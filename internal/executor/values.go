package executor

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	language "github.com/hanpama/chaingraph/internal/language"
	schema "github.com/hanpama/chaingraph/internal/schema"
)

// coercer turns request inputs into the Go values handed to a Runtime.
// Built-in scalars, enums and input objects are checked against the schema;
// custom scalars such as BigInt pass through for the runtime to interpret.
type coercer struct {
	schema *schema.Schema
}

// coerceVariableValues coerces the operation's variables. Missing optional
// variables are left out so that argument defaults still apply.
func coerceVariableValues(sch *schema.Schema, operation *language.OperationDefinition, provided map[string]any) (map[string]any, error) {
	c := coercer{schema: sch}
	out := make(map[string]any, len(operation.VariableDefinitions))
	for _, def := range operation.VariableDefinitions {
		name := def.Variable
		val, ok := provided[name]
		if !ok {
			val, ok = provided[strings.TrimPrefix(name, "$")]
		}
		if !ok {
			switch {
			case def.DefaultValue != nil:
				val = literal(def.DefaultValue, nil)
			case def.Type.NonNull:
				return nil, fmt.Errorf("variable $%s of required type %s was not provided", name, def.Type.String())
			default:
				continue
			}
		}
		cv, err := c.value(val, typeRefFromAST(def.Type))
		if err != nil {
			return nil, fmt.Errorf("variable $%s of type %s cannot be coerced: %w", name, def.Type.String(), err)
		}
		out[name] = cv
	}
	return out, nil
}

// coerceArgumentValues coerces the arguments of one field. Failures are
// recorded against the field and the offending argument is dropped.
func (s *executionState) coerceArgumentValues(def *schema.Field, field *language.Field, path Path) map[string]any {
	c := coercer{schema: s.schema}
	out := make(map[string]any, len(def.Arguments))
	for _, arg := range field.Arguments {
		argDef := findArgument(def, arg.Name)
		if argDef == nil {
			continue
		}
		if arg.Value != nil && arg.Value.Kind == language.Variable {
			if _, ok := s.variableValues[arg.Value.Raw]; !ok {
				continue
			}
		}
		cv, err := c.value(literal(arg.Value, s.variableValues), argDef.Type)
		if err != nil {
			s.addError(fmt.Sprintf("argument '%s' cannot be coerced: %v", arg.Name, err), path, field)
			continue
		}
		out[arg.Name] = cv
	}
	for _, argDef := range def.Arguments {
		if _, ok := out[argDef.Name]; ok {
			continue
		}
		switch {
		case argDef.DefaultValue != nil:
			out[argDef.Name] = argDef.DefaultValue
		case schema.IsNonNull(argDef.Type):
			s.addError(fmt.Sprintf("argument '%s' of required type was not provided", argDef.Name), path, field)
		}
	}
	return out
}

func findArgument(def *schema.Field, name string) *schema.InputValue {
	for _, a := range def.Arguments {
		if a.Name == name {
			return a
		}
	}
	return nil
}

// literal converts an AST value to Go, substituting variables from vars.
// Integer literals become int; those outside the int range (BigInt block
// numbers, balances) are kept as json.Number.
func literal(v *language.Value, vars map[string]any) any {
	if v == nil {
		return nil
	}
	switch v.Kind {
	case language.Variable:
		return vars[v.Raw]
	case language.IntValue:
		n, err := strconv.ParseInt(v.Raw, 10, 0)
		if err != nil {
			return json.Number(v.Raw)
		}
		return int(n)
	case language.FloatValue:
		f, _ := strconv.ParseFloat(v.Raw, 64)
		return f
	case language.StringValue, language.BlockValue, language.EnumValue:
		return v.Raw
	case language.BooleanValue:
		return v.Raw == "true"
	case language.ListValue:
		out := make([]any, len(v.Children))
		for i, c := range v.Children {
			out[i] = literal(c.Value, vars)
		}
		return out
	case language.ObjectValue:
		out := make(map[string]any, len(v.Children))
		for _, c := range v.Children {
			out[c.Name] = literal(c.Value, vars)
		}
		return out
	}
	return nil
}

func (c coercer) value(v any, t *schema.TypeRef) (any, error) {
	if schema.IsNonNull(t) {
		if v == nil {
			return nil, fmt.Errorf("null for non-null type %s", t.OfType.String())
		}
		return c.value(v, t.OfType)
	}
	if v == nil {
		return nil, nil
	}
	if schema.IsList(t) {
		items, ok := v.([]any)
		if !ok {
			// A single value stands for a list of one.
			item, err := c.value(v, t.OfType)
			if err != nil {
				return nil, err
			}
			return []any{item}, nil
		}
		out := make([]any, len(items))
		for i, item := range items {
			cv, err := c.value(item, t.OfType)
			if err != nil {
				return nil, fmt.Errorf("item %d: %w", i, err)
			}
			out[i] = cv
		}
		return out, nil
	}

	name := schema.GetNamedType(t)
	switch name {
	case "Int":
		return toInt(v)
	case "Float":
		return toFloat(v)
	case "String":
		if s, ok := v.(string); ok {
			return s, nil
		}
		return nil, mismatch(v, name)
	case "Boolean":
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return nil, mismatch(v, name)
	case "ID":
		switch id := v.(type) {
		case string:
			return id, nil
		case json.Number:
			return id.String(), nil
		}
		if n, err := toInt(v); err == nil {
			return strconv.Itoa(n.(int)), nil
		}
		return nil, mismatch(v, name)
	}

	def := c.schema.Types[name]
	if def == nil {
		return nil, fmt.Errorf("unknown type %s", name)
	}
	switch def.Kind {
	case schema.TypeKindEnum:
		s, ok := v.(string)
		if !ok || !slices.ContainsFunc(def.EnumValues, func(e *schema.EnumValue) bool { return e.Name == s }) {
			return nil, fmt.Errorf("%v is not a value of enum %s", v, name)
		}
		return s, nil
	case schema.TypeKindInputObject:
		return c.inputObject(v, def)
	case schema.TypeKindScalar:
		return v, nil
	}
	return nil, fmt.Errorf("%s is not an input type", name)
}

func (c coercer) inputObject(v any, def *schema.Type) (any, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, mismatch(v, def.Name)
	}
	for k := range m {
		if !slices.ContainsFunc(def.InputFields, func(f *schema.InputValue) bool { return f.Name == k }) {
			return nil, fmt.Errorf("unknown field '%s' on %s", k, def.Name)
		}
	}
	out := make(map[string]any, len(def.InputFields))
	for _, f := range def.InputFields {
		fv, ok := m[f.Name]
		if !ok {
			switch {
			case f.DefaultValue != nil:
				out[f.Name] = f.DefaultValue
			case schema.IsNonNull(f.Type):
				return nil, fmt.Errorf("required field '%s' of %s was not provided", f.Name, def.Name)
			}
			continue
		}
		cv, err := c.value(fv, f.Type)
		if err != nil {
			return nil, fmt.Errorf("field '%s': %w", f.Name, err)
		}
		out[f.Name] = cv
	}
	return out, nil
}

// toInt accepts integral numbers within the 32-bit GraphQL Int range.
func toInt(v any) (any, error) {
	var n int64
	switch x := v.(type) {
	case int:
		n = int64(x)
	case int32:
		n = int64(x)
	case int64:
		n = x
	case float64:
		if x != math.Trunc(x) {
			return nil, mismatch(v, "Int")
		}
		n = int64(x)
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return nil, mismatch(v, "Int")
		}
		n = i
	default:
		return nil, mismatch(v, "Int")
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return nil, fmt.Errorf("%d overflows Int", n)
	}
	return int(n), nil
}

func toFloat(v any) (any, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, nil
		}
	}
	return nil, mismatch(v, "Float")
}

func mismatch(v any, typeName string) error {
	if s, ok := v.(string); ok {
		return fmt.Errorf("cannot coerce %q (string) to %s", s, typeName)
	}
	return fmt.Errorf("cannot coerce %v (%T) to %s", v, v, typeName)
}

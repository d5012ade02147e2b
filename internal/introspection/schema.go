package introspection

import (
	schema "github.com/hanpama/chaingraph/internal/schema"
)

// extend returns a copy of sch whose query type also answers __schema and
// __type. sch itself is left untouched so that introspection results never
// list the meta fields.
func extend(sch *schema.Schema) *schema.Schema {
	out := &schema.Schema{
		QueryType:        sch.QueryType,
		MutationType:     sch.MutationType,
		SubscriptionType: sch.SubscriptionType,
		Types:            make(map[string]*schema.Type, len(sch.Types)+8),
		Directives:       sch.Directives,
		Description:      sch.Description,
	}
	for name, t := range sch.Types {
		out.Types[name] = t
	}
	for _, t := range schema.IntrospectionTypes() {
		out.Types[t.Name] = t
	}

	query := sch.GetQueryType()
	if query == nil {
		return out
	}
	root := *query
	root.Fields = append(append([]*schema.Field(nil), query.Fields...),
		schema.NewField("__schema", "Access the current type schema of this server.",
			schema.NonNullType(schema.NamedType("__Schema"))),
		schema.NewField("__type", "Request the type information of a single type.",
			schema.NamedType("__Type")).
			AddArgument(schema.NewInputValue("name", "", schema.NonNullType(schema.NamedType("String")))),
	)
	out.Types[root.Name] = &root
	return out
}

package executor

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	language "github.com/hanpama/chaingraph/internal/language"
	schema "github.com/hanpama/chaingraph/internal/schema"
)

// Path locates a value in the response: field names and list indexes.
type Path []PathElement

// PathElement is a response key (string) or a list index (int).
type PathElement any

func (p Path) String() string {
	var b strings.Builder
	for i, elem := range p {
		switch v := elem.(type) {
		case string:
			if i > 0 {
				b.WriteByte('.')
			}
			b.WriteString(v)
		case int:
			b.WriteByte('[')
			b.WriteString(strconv.Itoa(v))
			b.WriteByte(']')
		}
	}
	return b.String()
}

func (p Path) with(elem PathElement) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, elem)
}

// pendingField is an async field waiting for the next batch.
type pendingField struct {
	task   AsyncResolveTask
	path   Path
	typ    *schema.TypeRef
	fields []*language.Field
	// nullAt is where a null lands when this field fails: the field itself
	// when nullable, otherwise its nearest nullable ancestor.
	nullAt Path
}

// asyncPending marks a response slot that a later batch fills in.
type asyncPending struct{}

type executionState struct {
	ctx            context.Context
	runtime        Runtime
	schema         *schema.Schema
	document       *language.QueryDocument
	variableValues map[string]any

	pending []pendingField
	errors  []GraphQLError
	// errored and nulled are keyed by Path.String().
	errored map[string]struct{}
	nulled  map[string]struct{}
}

type Executor struct {
	runtime Runtime
	schema  *schema.Schema
}

func NewExecutor(runtime Runtime, schema *schema.Schema) *Executor {
	return &Executor{runtime: runtime, schema: schema}
}

// ExecuteRequest runs one operation of document. Errors never abort the
// whole request once execution has started; they are reported next to the
// data that could be produced.
func (e *Executor) ExecuteRequest(
	ctx context.Context,
	document *language.QueryDocument,
	operationName string,
	variableValues map[string]any,
	initialValue any,
) *ExecutionResult {
	operation := getOperation(document, operationName)
	if operation == nil {
		if operationName != "" {
			return requestError(fmt.Sprintf("operation %q not found", operationName))
		}
		return requestError("operation not found")
	}

	vars, err := coerceVariableValues(e.schema, operation, variableValues)
	if err != nil {
		return requestError(err.Error())
	}

	var root *schema.Type
	switch operation.Operation {
	case language.Query:
		root = e.schema.GetQueryType()
	case language.Mutation:
		root = e.schema.GetMutationType()
	case language.Subscription:
		root = e.schema.GetSubscriptionType()
	default:
		return requestError(fmt.Sprintf("unsupported operation type: %s", operation.Operation))
	}
	if root == nil {
		return requestError(fmt.Sprintf("root type not found for %s operation", operation.Operation))
	}

	s := &executionState{
		ctx:            ctx,
		runtime:        e.runtime,
		schema:         e.schema,
		document:       document,
		variableValues: vars,
		errors:         []GraphQLError{},
		errored:        make(map[string]struct{}),
		nulled:         make(map[string]struct{}),
	}

	data := s.executeSelectionSet(root, operation.SelectionSet, initialValue, Path{}, nil)
	for len(s.pending) > 0 {
		s.flush(data)
	}
	return &ExecutionResult{Data: data, Errors: s.errors}
}

func requestError(msg string) *ExecutionResult {
	return &ExecutionResult{Errors: []GraphQLError{{Message: msg}}}
}

// flush resolves the current depth in one batch and completes the results,
// which may queue the next depth.
func (s *executionState) flush(data map[string]any) {
	queued := s.pending
	s.pending = nil

	live := queued[:0]
	for _, p := range queued {
		if !s.underNulled(p.path) {
			live = append(live, p)
		}
	}
	if len(live) == 0 {
		return
	}

	tasks := make([]AsyncResolveTask, len(live))
	for i, p := range live {
		tasks[i] = p.task
	}
	results := s.runtime.BatchResolveAsync(s.ctx, tasks)

	for i, p := range live {
		var res AsyncResolveResult
		if i < len(results) {
			res = results[i]
		} else {
			res.Error = fmt.Errorf("no result for %s", p.path)
		}
		s.completePending(data, p, res)
	}
}

func (s *executionState) completePending(data map[string]any, p pendingField, res AsyncResolveResult) {
	// A sibling completed earlier in this batch may have nulled an ancestor.
	if s.underNulled(p.path) {
		return
	}
	var value any
	if res.Error != nil {
		s.addError(res.Error.Error(), p.path, p.fields[0])
	}
	if res.Error == nil || !isNullish(res.Value) {
		value = s.completeValue(p.typ, p.fields, res.Value, p.path, p.nullAt)
	}
	if isNullish(value) {
		setValueAtPath(data, p.nullAt, nil)
		s.nulled[p.nullAt.String()] = struct{}{}
		return
	}
	setValueAtPath(data, p.path, value)
}

// executeSelectionSet expands one object. nullAt is where the object's own
// null lands; nil for the root, whose non-null fields null themselves. It
// returns nil when a synchronous non-null child came back null.
func (s *executionState) executeSelectionSet(objectType *schema.Type, sel language.SelectionSet, source any, path Path, nullAt Path) map[string]any {
	out := make(map[string]any)
	for _, group := range s.collectFields(objectType, sel) {
		fields := group.Fields
		fieldPath := path.with(group.ResponseName)

		if fields[0].Name == "__typename" {
			out[group.ResponseName] = objectType.Name
			continue
		}

		def := objectType.Field(fields[0].Name)
		if def == nil {
			s.addError(fmt.Sprintf("Cannot query field '%s' on type '%s'", fields[0].Name, objectType.Name), fieldPath, fields[0])
			continue
		}

		landing := fieldPath
		if schema.IsNonNull(def.Type) && nullAt != nil {
			landing = nullAt
		}
		args := s.coerceArgumentValues(def, fields[0], fieldPath)

		if def.Async {
			s.pending = append(s.pending, pendingField{
				task: AsyncResolveTask{
					ObjectType: objectType.Name,
					Field:      def.Name,
					Source:     source,
					Args:       args,
				},
				path:   fieldPath,
				typ:    def.Type,
				fields: fields,
				nullAt: landing,
			})
			out[group.ResponseName] = asyncPending{}
			continue
		}

		var value any
		raw, err := s.runtime.ResolveSync(s.ctx, objectType.Name, def.Name, source, args)
		if err != nil {
			s.addError(err.Error(), fieldPath, fields[0])
		} else {
			value = s.completeValue(def.Type, fields, raw, fieldPath, landing)
		}
		if isNullish(value) {
			if schema.IsNonNull(def.Type) && len(path) > 0 {
				s.nulled[path.String()] = struct{}{}
				return nil
			}
			out[group.ResponseName] = nil
			continue
		}
		out[group.ResponseName] = value
	}
	return out
}

// completeValue shapes a raw resolved value to t. nullAt is where a null of
// this value lands when t is Non-Null.
func (s *executionState) completeValue(t *schema.TypeRef, fields []*language.Field, raw any, path Path, nullAt Path) any {
	if schema.IsNonNull(t) {
		if isNullish(raw) {
			s.nonNullViolation(path, fields[0])
			return nil
		}
		return s.completeNullable(t.OfType, fields, raw, path, nullAt)
	}
	if isNullish(raw) {
		return nil
	}
	return s.completeNullable(t, fields, raw, path, path)
}

// completeNullable completes raw for the unwrapped type t whose null lands
// at here.
func (s *executionState) completeNullable(t *schema.TypeRef, fields []*language.Field, raw any, path Path, here Path) any {
	if schema.IsList(t) {
		return s.completeList(t.OfType, fields, raw, path, here)
	}

	name := schema.GetNamedType(t)
	def := s.schema.Types[name]
	if def == nil {
		s.addError(fmt.Sprintf("Unknown type: %s", name), path, fields[0])
		return nil
	}

	switch def.Kind {
	case schema.TypeKindScalar, schema.TypeKindEnum:
		v, err := s.runtime.SerializeLeafValue(s.ctx, name, raw)
		if err != nil {
			s.addError(err.Error(), path, fields[0])
			return nil
		}
		return v
	case schema.TypeKindObject:
		return s.completeObject(def, fields, raw, path, here)
	case schema.TypeKindInterface, schema.TypeKindUnion:
		concrete, err := s.runtime.ResolveType(s.ctx, name, raw)
		if err != nil {
			s.addError(err.Error(), path, fields[0])
			return nil
		}
		obj := s.schema.Types[concrete]
		if obj == nil || obj.Kind != schema.TypeKindObject {
			s.addError(fmt.Sprintf("Abstract type %s must resolve to an Object type at runtime. Got: %s", name, concrete), path, fields[0])
			return nil
		}
		return s.completeObject(obj, fields, raw, path, here)
	}
	s.addError(fmt.Sprintf("Cannot complete value of unexpected type: %s", def.Kind), path, fields[0])
	return nil
}

func (s *executionState) completeObject(obj *schema.Type, fields []*language.Field, raw any, path Path, here Path) any {
	var sel language.SelectionSet
	for _, f := range fields {
		sel = append(sel, f.SelectionSet...)
	}
	m := s.executeSelectionSet(obj, sel, raw, path, here)
	if m == nil {
		return nil
	}
	return m
}

func (s *executionState) completeList(item *schema.TypeRef, fields []*language.Field, raw any, path Path, here Path) any {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	default:
		rv := reflect.ValueOf(raw)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			s.addError(fmt.Sprintf("Expected list value, got %T", raw), path, fields[0])
			return nil
		}
		items = make([]any, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	}

	out := make([]any, len(items))
	for i, it := range items {
		p := path.with(i)
		v := s.completeValue(item, fields, it, p, here)
		if isNullish(v) {
			if schema.IsNonNull(item) {
				return nil
			}
			v = nil
		}
		out[i] = v
	}
	return out
}

func (s *executionState) nonNullViolation(path Path, field *language.Field) {
	if _, ok := s.errored[path.String()]; ok {
		return
	}
	s.addError(fmt.Sprintf("Cannot return null for non-nullable field %s", path), path, field)
}

func (s *executionState) addError(msg string, path Path, field *language.Field) {
	e := GraphQLError{Message: msg, Path: path}
	if field != nil && field.Position != nil {
		e.Locations = []Location{{Line: field.Position.Line, Column: field.Position.Column}}
	}
	s.errors = append(s.errors, e)
	s.errored[path.String()] = struct{}{}
}

// underNulled reports whether p or one of its ancestors was set to null.
func (s *executionState) underNulled(p Path) bool {
	if len(s.nulled) == 0 {
		return false
	}
	for i := 1; i <= len(p); i++ {
		if _, ok := s.nulled[p[:i].String()]; ok {
			return true
		}
	}
	return false
}

func getOperation(document *language.QueryDocument, operationName string) *language.OperationDefinition {
	if operationName == "" {
		if len(document.Operations) == 1 {
			return document.Operations[0]
		}
		return nil
	}
	return document.Operations.ForName(operationName)
}

func typeRefFromAST(t *language.Type) *schema.TypeRef {
	switch {
	case t == nil:
		return nil
	case t.NonNull:
		return schema.NonNullType(typeRefFromAST(&language.Type{NamedType: t.NamedType, Elem: t.Elem}))
	case t.Elem != nil:
		return schema.ListType(typeRefFromAST(t.Elem))
	}
	return schema.NamedType(t.NamedType)
}

// setValueAtPath writes value into the response tree. Intermediate slots
// already exist because completion precedes every write beneath them.
func setValueAtPath(root map[string]any, path Path, value any) {
	if len(path) == 0 {
		return
	}
	var cur any = root
	for _, elem := range path[:len(path)-1] {
		switch e := elem.(type) {
		case string:
			m, ok := cur.(map[string]any)
			if !ok {
				return
			}
			cur = m[e]
		case int:
			l, ok := cur.([]any)
			if !ok || e >= len(l) {
				return
			}
			cur = l[e]
		}
	}
	switch e := path[len(path)-1].(type) {
	case string:
		if m, ok := cur.(map[string]any); ok {
			m[e] = value
		}
	case int:
		if l, ok := cur.([]any); ok && e < len(l) {
			l[e] = value
		}
	}
}

// isNullish reports nil interfaces and typed nils.
func isNullish(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Slice, reflect.Map, reflect.Func, reflect.Chan:
		return rv.IsNil()
	}
	return false
}

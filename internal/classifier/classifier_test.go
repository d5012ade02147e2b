package classifier

import (
	"encoding/hex"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/hanpama/chaingraph/internal/codec"
	"github.com/hanpama/chaingraph/internal/sdl"
)

const bundle = `
CategoryId: u64
Category:
  id: CategoryId
  title: Text
  moderator_id: AccountId
  parent: Option<CategoryId>
Ledger:
  total: Compact<Balance>
  active: Compact<Balance>
Status:
  _enum: [Active, Archived]
Reward:
  _enum:
    Staked: Balance
    Account: AccountId
`

func newTestRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	types := codec.NewRegistry()
	require.NoError(t, types.LoadBundle(strings.NewReader(bundle)))
	return New(types, opts...)
}

func TestClassifyPrimitives(t *testing.T) {
	r := newTestRegistry(t)
	tests := map[string]string{
		"bool":        "Boolean",
		"u32":         "Int",
		"u8":          "Int",
		"u64":         "BigInt",
		"Balance":     "BigInt",
		"Text":        "String",
		"AccountId":   "String",
		"Hash":        "String",
		"Moment":      "BigInt",
		"Vec<u8>":     "[Int]",
		"[u8; 32]":    "String",
		"Null":        "Null",
		"Vec<u32>":    "[Int]",
		"Option<u32>": "Int",
	}
	for typ, want := range tests {
		s := sdl.New()
		require.Equal(t, want, r.ClassifyType(typ, s), typ)
	}
}

func TestClassifyWideIntegerRequiresScalar(t *testing.T) {
	r := newTestRegistry(t)
	s := sdl.New()
	s.DeclareType("BalancesModule").Field("totalIssuance", r.ClassifyType("u64", s))

	want := "type BalancesModule {\n    totalIssuance: BigInt\n}\n\nscalar BigInt"
	if diff := cmp.Diff(want, s.Finish()); diff != "" {
		t.Fatalf("SDL mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyStruct(t *testing.T) {
	r := newTestRegistry(t)
	s := sdl.New()
	require.Equal(t, "[Category]", r.ClassifyType("Vec<Category>", s))
	require.Equal(t, "Category", r.ClassifyType("Category", s))

	want := strings.Join([]string{
		"type Category {",
		"    id: BigInt",
		"    title: String",
		"    moderatorId: String",
		"    parent: BigInt",
		"}",
		"",
		"scalar BigInt",
	}, "\n")
	if diff := cmp.Diff(want, s.Finish()); diff != "" {
		t.Fatalf("SDL mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyTupleDeterministic(t *testing.T) {
	r := newTestRegistry(t)
	s := sdl.New()
	first := r.ClassifyType("(AccountId, Balance)", s)
	second := r.ClassifyType("(AccountId,Balance)", s)
	require.Equal(t, "AccountIdBalanceTuple", first)
	require.Equal(t, first, second)
	require.Equal(t, 1, strings.Count(s.Finish(), "type AccountIdBalanceTuple {"))
	require.Contains(t, s.Finish(), "    accountId: String\n    balance: BigInt\n")
}

func TestClassifyEnum(t *testing.T) {
	r := newTestRegistry(t)
	s := sdl.New()
	require.Equal(t, "Reward", r.ClassifyType("Reward", s))
	require.Equal(t, "Status", r.ClassifyType("Status", s))

	want := strings.Join([]string{
		"interface Enum {",
		"    _enumType: String",
		"}",
		"",
		"type Reward implements Enum {",
		"    Staked: BigInt",
		"    Account: String",
		"    _enumType: String",
		"}",
		"",
		"type Status implements Enum {",
		"    Active: Null",
		"    Archived: Null",
		"    _enumType: String",
		"}",
		"",
		"scalar BigInt",
		"scalar Null",
	}, "\n")
	if diff := cmp.Diff(want, s.Finish()); diff != "" {
		t.Fatalf("SDL mismatch (-want +got):\n%s", diff)
	}
}

func TestClassifyUnmapped(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	r := newTestRegistry(t, WithLogger(zap.New(core)))
	s := sdl.New()

	require.Equal(t, "UnmappedProposal", r.ClassifyType("Proposal", s))
	require.Equal(t, "[UnmappedProposal]", r.ClassifyType("Vec<Proposal>", s))
	require.Contains(t, s.Finish(), "scalar UnmappedProposal")
	require.Len(t, r.Warnings(), 1)
	require.Equal(t, 1, logs.FilterMessage("unmapped wire type").Len())
}

func TestChainTypeNamedEnumIsUnmapped(t *testing.T) {
	types := codec.NewRegistry()
	require.NoError(t, types.LoadBundle(strings.NewReader(`
Enum:
  total: u32
Holder:
  inner: Enum
Status:
  _enum: [Active]
`)))
	r := New(types)
	s := sdl.New()
	require.Equal(t, "Holder", r.ClassifyType("Holder", s))
	require.Equal(t, "Status", r.ClassifyType("Status", s))

	want := strings.Join([]string{
		"type Holder {",
		"    inner: UnmappedEnum",
		"}",
		"",
		"interface Enum {",
		"    _enumType: String",
		"}",
		"",
		"type Status implements Enum {",
		"    Active: Null",
		"    _enumType: String",
		"}",
		"",
		"scalar UnmappedEnum",
		"scalar Null",
	}, "\n")
	if diff := cmp.Diff(want, s.Finish()); diff != "" {
		t.Fatalf("SDL mismatch (-want +got):\n%s", diff)
	}
	require.Empty(t, s.Conflicts())
	require.Len(t, r.Warnings(), 1)
}

func TestRegisterScalarOrder(t *testing.T) {
	r := newTestRegistry(t)
	r.PrependScalar(ScalarMapping{
		Name:   "CategoryId",
		Match:  func(d *codec.TypeDef) bool { return d.Kind == codec.KindUint && d.Bits == 64 },
		SDL:    "ID",
		Custom: false,
	})
	r.RegisterScalar(ScalarMapping{
		Name:  "never reached",
		Match: func(d *codec.TypeDef) bool { return d.Kind == codec.KindUint },
		SDL:   "Float",
	})
	s := sdl.New()
	require.Equal(t, "ID", r.ClassifyType("CategoryId", s))
	require.Equal(t, "Int", r.ClassifyType("u32", s))
	require.Empty(t, s.Scalars())
}

func TestRegisterShape(t *testing.T) {
	r := newTestRegistry(t)
	r.RegisterShape(codec.KindEnum, func(r *Registry, def *codec.TypeDef, schema *sdl.Schema) string {
		return "String"
	})
	require.Equal(t, "String", r.ClassifyType("Status", sdl.New()))
}

func mustDecode(t *testing.T, r *Registry, typ, raw string) codec.Value {
	t.Helper()
	b, err := hex.DecodeString(raw)
	require.NoError(t, err)
	v, err := r.Types().Decode(typ, b)
	require.NoError(t, err)
	return v
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func TestSerializeStructOrder(t *testing.T) {
	r := newTestRegistry(t)
	alice := "d43593c715fdd31c61141abd04a99fd6822c8558854ccde39a5684e7a56da27d"
	raw := "0900000000000000" + "0c616263" + alice + "00"
	got := r.Serialize(mustDecode(t, r, "Category", raw))

	obj, ok := got.(*Object)
	require.True(t, ok)
	require.Equal(t, "Category", obj.TypeName)
	require.Equal(t, []string{"id", "title", "moderatorId", "parent"}, obj.Keys())
	require.Equal(t,
		`{"id":9,"title":"abc","moderatorId":"5GrwvaEF5zXb26Fz9rcQpDWS57CtERHpNehXCPcNoHGKutQY","parent":null}`,
		mustJSON(t, got))
}

func TestSerializeCompactStruct(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Serialize(mustDecode(t, r, "Ledger", "9101"+"6901"))
	require.Equal(t, `{"total":100,"active":90}`, mustJSON(t, got))
}

func TestSerializeEnum(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Serialize(mustDecode(t, r, "Reward", "00"+"e8030000000000000000000000000000"))
	obj := got.(*Object)
	require.Equal(t, []string{"Staked", EnumTypeField}, obj.Keys())
	require.Equal(t, `{"Staked":1000,"_enumType":"Staked"}`, mustJSON(t, got))

	got = r.Serialize(mustDecode(t, r, "Status", "01"))
	require.Equal(t, `{"Archived":null,"_enumType":"Archived"}`, mustJSON(t, got))
}

func TestSerializeTupleCollision(t *testing.T) {
	r := newTestRegistry(t)
	got := r.Serialize(mustDecode(t, r, "(u32, u32)", "0100000002000000"))
	obj := got.(*Object)
	require.Equal(t, "u32u32Tuple", obj.TypeName)
	require.Equal(t, `{"u32":2}`, mustJSON(t, got))
}

func TestSerializeLeaves(t *testing.T) {
	r := newTestRegistry(t)
	require.Equal(t, int64(7), r.Serialize(mustDecode(t, r, "u32", "07000000")))
	require.Equal(t, json.Number("7"), r.Serialize(mustDecode(t, r, "u64", "0700000000000000")))
	require.Equal(t, []any{int64(1), int64(2)}, r.Serialize(mustDecode(t, r, "Vec<u8>", "080102")))
	require.Equal(t, []any{int64(1), int64(2)}, r.Serialize(mustDecode(t, r, "Vec<u32>", "080100000002000000")))
	require.Equal(t, "0x0102", r.Serialize(mustDecode(t, r, "[u8; 2]", "0102")))
	require.Nil(t, r.Serialize(mustDecode(t, r, "Null", "")))
	require.Equal(t, true, r.Serialize(mustDecode(t, r, "bool", "01")))
	require.Equal(t, json.Number("1700000000000"), r.Serialize(codec.Moment{Type: "Moment", V: 1_700_000_000_000}))
}

package bridge

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestScanExports(t *testing.T) {
	got, err := ScanExports(testModule(testFuncs()[:2]))
	require.NoError(t, err)

	want := []Export{
		{Name: "memory", Kind: ExportMemory, Index: 0},
		{Name: "resolvers.forum.categories", Kind: ExportGlobal, Index: 0},
		{Name: "__alloc", Kind: ExportFunction, Index: 2},
		{Name: "__retain", Kind: ExportFunction, Index: 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("exports mismatch (-want +got):\n%s", diff)
	}
}

func TestScanExportsWithoutSection(t *testing.T) {
	got, err := ScanExports(cat([]byte("\x00asm"), []byte{1, 0, 0, 0}, section(1, vec())))
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestScanExportsMalformed(t *testing.T) {
	valid := testModule(testFuncs())
	for name, wasm := range map[string][]byte{
		"empty":     nil,
		"magic":     append([]byte("\x00wasm"), valid[5:]...),
		"version":   cat([]byte("\x00asm"), []byte{2, 0, 0, 0}),
		"overrun":   cat([]byte("\x00asm"), []byte{1, 0, 0, 0}, []byte{7, 100, 1}),
		"count":     cat([]byte("\x00asm"), []byte{1, 0, 0, 0}, section(7, cat(uleb(2), wname("memory"), []byte{2, 0}))),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ScanExports(wasm)
			require.ErrorIs(t, err, errMalformed)
		})
	}
}

func TestSplitResolverExport(t *testing.T) {
	path, ok := splitResolverExport("resolvers.forum.categories")
	require.True(t, ok)
	require.Equal(t, []string{"forum", "categories"}, path)

	for _, name := range []string{"resolvers.", "__heap_base", "forum.categories"} {
		_, ok := splitResolverExport(name)
		require.False(t, ok, name)
	}
}

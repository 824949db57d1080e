package btree

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yesqlkv/yesqlkv/pkg/cache"
	"github.com/yesqlkv/yesqlkv/pkg/coordinator"
	"github.com/yesqlkv/yesqlkv/pkg/disklog"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/kverrors"
	"github.com/yesqlkv/yesqlkv/pkg/looim"
	"github.com/yesqlkv/yesqlkv/pkg/pti"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// newTestTree wires a Tree to an in-process coordinator, breaking the
// construction-order cycle via Coordinator.SetSplitter, exactly as a
// storage server's startup sequence would.
func newTestTree(t *testing.T, issuerID uint64) *Tree {
	t.Helper()
	dir := t.TempDir()
	dl, err := disklog.Open(filepath.Join(dir, "log.bin"), filepath.Join(dir, "super.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = dl.Close() })

	looims := looim.NewRegistry()
	ptis := pti.NewTable()
	reserve := cache.NewReserveTracker()

	coord := coordinator.New(looims, ptis, dl, reserve, nil)
	cid := id.CidForTable(1, issuerID)
	tree := New(cid, value.CellTypeInt, nil, id.NewTidIssuer(), id.NewClock(), coord, looims, ptis, issuerID)
	coord.SetSplitter(tree.Splitter())
	t.Cleanup(tree.Close)
	return tree
}

func TestInsertLookupDelete(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 1)

	require.NoError(t, tree.Insert(ctx, 42, []byte("hello")))
	val, found, err := tree.Lookup(ctx, 42)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("hello"), val)

	_, found, err = tree.Lookup(ctx, 99)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, tree.Delete(ctx, 42))
	_, found, err = tree.Lookup(ctx, 42)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestUpdateNotFound(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	err := tree.Update(ctx, 7, func(cur []byte) []byte { return cur })
	assert.ErrorIs(t, err, kverrors.NotFound)
}

func TestUpdateAppliesMutation(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 3)
	require.NoError(t, tree.Insert(ctx, 1, []byte("a")))
	require.NoError(t, tree.Update(ctx, 1, func(cur []byte) []byte {
		return append(cur, 'b')
	}))
	val, found, err := tree.Lookup(ctx, 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, []byte("ab"), val)
}

func TestScanOrdersByKeyAndTerminates(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 4)
	for i := int64(0); i < 10; i++ {
		require.NoError(t, tree.Insert(ctx, i, []byte(fmt.Sprintf("v%d", i))))
	}

	var gotKeys []int64
	var gotVals [][]byte
	eofSeen := false
	err := tree.Scan(ctx, 0, 100, func(key int64, data []byte, n int, eof bool) {
		if eof {
			eofSeen = true
			return
		}
		gotKeys = append(gotKeys, key)
		gotVals = append(gotVals, data)
	}, true)
	require.NoError(t, err)
	assert.True(t, eofSeen)
	assert.Equal(t, []int64{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, gotKeys)
	assert.Equal(t, []byte("v3"), gotVals[3])
}

func TestScanRespectsNelemsLimit(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 5)
	for i := int64(0); i < 5; i++ {
		require.NoError(t, tree.Insert(ctx, i, nil))
	}
	var count int
	err := tree.Scan(ctx, 0, 3, func(key int64, data []byte, n int, eof bool) {
		if !eof {
			count++
		}
	}, false)
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestGetMonotonicIntStrictlyIncreases(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 6)
	prev := int64(0)
	for i := 0; i < 5; i++ {
		v, err := tree.GetMonotonicInt(ctx)
		require.NoError(t, err)
		assert.Greater(t, v, prev)
		prev = v
	}
}

// TestManyInsertsTriggerSplitAndStayLookupable inserts enough keys to
// force at least one size-driven split (DtreeSplitSize is deliberately
// small in this package) and confirms every key remains locatable once
// the background splitter has had a chance to run.
func TestManyInsertsTriggerSplitAndStayLookupable(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 7)
	const n = 80
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(ctx, i, []byte(fmt.Sprintf("v%d", i))))
	}

	// The split worker runs asynchronously off the coordinator's
	// post-commit hook; give it a moment to drain before asserting.
	deadline := time.Now().Add(2 * time.Second)
	for {
		allFound := true
		for i := int64(0); i < n; i++ {
			_, found, err := tree.Lookup(ctx, i)
			require.NoError(t, err)
			if !found {
				allFound = false
				break
			}
		}
		if allFound || time.Now().After(deadline) {
			assert.True(t, allFound, "every inserted key must remain locatable across splits")
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

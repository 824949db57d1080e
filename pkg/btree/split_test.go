package btree

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yesqlkv/yesqlkv/pkg/id"
	"github.com/yesqlkv/yesqlkv/pkg/value"
)

// TestRootSplitProducesHeightOneInnerRoot drives enough inserts through a
// fresh tree to force the root itself past the split threshold, then
// checks the shape the root-split special case must produce: a height-1
// inner root with exactly one pivot cell, two leaf children linked by a
// consistent sibling chain, and every inserted key still reachable.
func TestRootSplitProducesHeightOneInnerRoot(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 10)

	const n = DtreeSplitSize + 4
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(ctx, i, []byte(fmt.Sprintf("v%d", i))))
	}

	rootObj := waitForRootSplit(t, tree, ctx)
	rootNode, err := nodeFromObject(tree.rootCoid(), rootObj)
	require.NoError(t, err)

	assert.True(t, rootNode.IsInner(), "a split root must no longer carry the LEAF flag (T3)")
	assert.EqualValues(t, 1, rootNode.Height())
	require.Len(t, rootNode.SV.Cells, 1, "root-split leaves exactly one pivot cell behind")

	leftOid := id.Oid(rootNode.SV.Cells[0].Value)
	rightOid := rootNode.LastPtr()
	assert.NotEqual(t, leftOid, rightOid)

	leftTxn := tree.begin()
	leftObj, err := leftTxn.Read(ctx, id.Coid{Cid: tree.Cid, Oid: leftOid})
	require.NoError(t, err)
	leftNode, err := nodeFromObject(id.Coid{Cid: tree.Cid, Oid: leftOid}, leftObj)
	require.NoError(t, err)
	assert.True(t, leftNode.IsLeaf())
	assert.EqualValues(t, rightOid, leftNode.RightPtr(), "T2: left sibling's rightPtr must chain to its new right sibling")

	// Every key inserted before the split must still be reachable through
	// the new two-level tree.
	for i := int64(0); i < n; i++ {
		val, found, err := tree.Lookup(ctx, i)
		require.NoError(t, err)
		assert.True(t, found, "key %d must survive the root split", i)
		assert.Equal(t, []byte(fmt.Sprintf("v%d", i)), val)
	}
}

func waitForRootSplit(t *testing.T, tree *Tree, ctx context.Context) *value.Object {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		txn := tree.begin()
		obj, err := txn.Read(ctx, tree.rootCoid())
		require.NoError(t, err)
		if obj != nil && obj.IsSuperValue() {
			node, err := nodeFromObject(tree.rootCoid(), obj)
			require.NoError(t, err)
			if node.IsInner() {
				return obj
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("root never split past the threshold")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// TestConcurrentRootSplitStaysLossless races two splitters against the
// same freshly-oversized root. Both take the root-split path; a racer
// that reads the already-split root finds nothing to do and returns nil,
// and one whose stale root rewrite conflicts with the winner's is voted
// down by the coordinator's conflict scan. Either way the resulting tree
// must still be well-formed and lossless.
func TestConcurrentRootSplitStaysLossless(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 11)

	const n = DtreeSplitSize + 2
	for i := int64(0); i < n; i++ {
		require.NoError(t, tree.Insert(ctx, i, []byte(fmt.Sprintf("v%d", i))))
	}

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = tree.doSplit(ctx, tree.rootCoid(), nil, nil)
		}(i)
	}
	wg.Wait()

	// At least one racer must succeed in splitting the root; a failed
	// racer returns a conflict-wrapped error (stale read) rather than
	// corrupting the tree, and either way every key must remain.
	atLeastOneOK := errs[0] == nil || errs[1] == nil
	assert.True(t, atLeastOneOK, "at least one concurrent split attempt must commit")

	for i := int64(0); i < n; i++ {
		_, found, err := tree.Lookup(ctx, i)
		require.NoError(t, err)
		assert.True(t, found, "key %d must survive a racing root split", i)
	}
}

func TestFindParentRealUnknownOidNotFound(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 12)
	require.NoError(t, tree.ensureRoot(ctx))
	txn := tree.begin()
	_, err := tree.findParentReal(ctx, txn, id.Coid{Cid: tree.Cid, Oid: 999999}, value.Cell{NKey: 0})
	assert.Error(t, err, "an oid with no parent in the tree must not be found")
}

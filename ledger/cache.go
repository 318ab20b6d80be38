package ledger

import (
	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

type cachedTree struct {
	tree *Tree
	root string
}

// TreeCache keeps recently built trees so read-side inclusion checks do not
// rebuild an unchanged election ledger.
type TreeCache struct {
	cache *lru.Cache
}

func NewTreeCache(size int) (*TreeCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create tree cache")
	}
	return &TreeCache{cache: c}, nil
}

// Get returns the cached tree only if it still matches the ledger's leaf
// count and root.
func (c *TreeCache) Get(electionID string, leafCount int, root string) (*Tree, bool) {
	v, ok := c.cache.Get(electionID)
	if !ok {
		return nil, false
	}
	ct := v.(cachedTree)
	if ct.tree.Len() != leafCount || ct.root != root {
		return nil, false
	}
	return ct.tree, true
}

func (c *TreeCache) Put(electionID string, tree *Tree) {
	c.cache.Add(electionID, cachedTree{tree: tree, root: tree.RootHex()})
}

func (c *TreeCache) Remove(electionID string) {
	c.cache.Remove(electionID)
}

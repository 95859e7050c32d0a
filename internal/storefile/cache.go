package storefile

import (
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/litetable/litetable-region/internal/keyvalue"
)

type blockKey struct {
	path  string
	block int
}

// BlockCache holds decoded blocks shared by every reader on the node.
type BlockCache struct {
	lru *lru.Cache[blockKey, []keyvalue.KeyValue]
}

// NewBlockCache keeps at most blocks decoded blocks. Zero disables caching.
func NewBlockCache(blocks int) (*BlockCache, error) {
	if blocks <= 0 {
		return &BlockCache{}, nil
	}
	c, err := lru.New[blockKey, []keyvalue.KeyValue](blocks)
	if err != nil {
		return nil, err
	}
	return &BlockCache{lru: c}, nil
}

func (c *BlockCache) get(k blockKey) ([]keyvalue.KeyValue, bool) {
	if c == nil || c.lru == nil {
		return nil, false
	}
	return c.lru.Get(k)
}

func (c *BlockCache) add(k blockKey, cells []keyvalue.KeyValue) {
	if c == nil || c.lru == nil {
		return
	}
	c.lru.Add(k, cells)
}

func (c *BlockCache) evict(path string, blocks int) {
	if c == nil || c.lru == nil {
		return
	}
	for i := 0; i < blocks; i++ {
		c.lru.Remove(blockKey{path: path, block: i})
	}
}

// Len is the number of cached blocks.
func (c *BlockCache) Len() int {
	if c == nil || c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

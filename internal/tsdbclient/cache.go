package tsdbclient

import (
	lru "github.com/hashicorp/golang-lru/v2"
)

// fieldKeysCacheKey identifies one (database, measurement) pair's field
// keys within a single run, per the data model's "cached per measurement
// within a run" lifetime for FieldDescriptor.
type fieldKeysCacheKey struct {
	db          string
	measurement string
}

// fieldKeysCache bounds the number of distinct measurements whose field
// keys are held in memory at once, so a worker backing up thousands of
// measurements does not grow this cache unbounded over a long run.
type fieldKeysCache struct {
	lru *lru.Cache[fieldKeysCacheKey, map[string]FieldType]
}

func newFieldKeysCache(size int) *fieldKeysCache {
	if size <= 0 {
		size = 256
	}
	c, err := lru.New[fieldKeysCacheKey, map[string]FieldType](size)
	if err != nil {
		// Only returns an error for a non-positive size, which is guarded
		// above, so this path is unreachable in practice.
		c, _ = lru.New[fieldKeysCacheKey, map[string]FieldType](256)
	}
	return &fieldKeysCache{lru: c}
}

func (c *fieldKeysCache) get(db, measurement string) (map[string]FieldType, bool) {
	return c.lru.Get(fieldKeysCacheKey{db: db, measurement: measurement})
}

func (c *fieldKeysCache) put(db, measurement string, keys map[string]FieldType) {
	c.lru.Add(fieldKeysCacheKey{db: db, measurement: measurement}, keys)
}
